package sensormap

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFilename is the manifest written next to the configuration document.
const ChecksumFilename = ".checksums"

// ChecksumManifest records the BLAKE3 hash of each locked file by basename.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// ChecksumPath returns the manifest location for a configuration document.
func ChecksumPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), ChecksumFilename)
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// GenerateChecksums hashes the configuration document and writes (or updates)
// the manifest in the same directory. Entries for other files are preserved.
func GenerateChecksums(configPath string) (*ChecksumManifest, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}

	manifest, err := LoadChecksums(configPath)
	if err != nil {
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	}
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	manifest.Hashes[filepath.Base(configPath)] = hash

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	// Write with restrictive permissions (contains expected hashes)
	if err := os.WriteFile(ChecksumPath(configPath), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}

	return manifest, nil
}

// LoadChecksums reads the manifest next to configPath.
func LoadChecksums(configPath string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(ChecksumPath(configPath))
	if err != nil {
		return nil, err
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}

	return &manifest, nil
}

// VerifyIntegrity checks configPath against its manifest. When no manifest
// exists verification is skipped and (false, nil) is returned. A manifest that
// exists but does not list the file, or lists a different hash, is an error.
func VerifyIntegrity(configPath string) (bool, error) {
	manifest, err := LoadChecksums(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}

	name := filepath.Base(configPath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return false, fmt.Errorf("%w: %s has no hash in %s\nRun: sensorhook config lock",
			ErrIntegrity, name, ChecksumPath(configPath))
	}

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}
	if actual != expected {
		return false, fmt.Errorf("%w: hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: sensorhook config lock",
			ErrIntegrity, name, expected, actual)
	}

	return true, nil
}
