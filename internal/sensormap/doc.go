// Package sensormap holds the sensor-to-scripts mapping loaded at startup.
//
// The configuration document has a single top-level key:
//
//	sensors:
//	  - id: sensor1
//	    scripts:
//	      - notify.sh
//	      - "light.sh on | logger -t sensor1"
//
// Parse converts the raw YAML into typed SensorEntry values once, failing with
// ErrConfigMalformed (naming the offending element) when the shape is wrong.
// Store is immutable after construction and safe to share between request
// handlers without locking.
package sensormap
