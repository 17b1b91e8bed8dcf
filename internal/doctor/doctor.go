// Package doctor validates sensorhook settings and the sensor map.
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/sensorhook/internal/config"
	"github.com/mattjoyce/sensorhook/internal/sensormap"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Locked   bool    `json:"locked"`
	Sensors  int     `json:"sensors"`
	Scripts  int     `json:"scripts"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates settings and the sensor map they point at.
type Doctor struct {
	settings config.Settings
	lookPath func(string) (string, error)
}

// New creates a Doctor for the given settings.
func New(settings config.Settings) *Doctor {
	return &Doctor{settings: settings, lookPath: exec.LookPath}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateSettings(r)
	d.validateScriptsDirectory(r)

	store, err := sensormap.Load(d.settings.YAMLPath, d.settings.ScriptsDirectory)
	if err != nil {
		d.addError(r, loadCategory(err), d.settings.YAMLPath, err.Error())
	} else {
		r.Sensors = store.Len()
		d.checkLock(r)
		d.warnEmptyScripts(r, store)
		d.warnDuplicateIDs(r, store)
		d.warnUnresolvedScripts(r, store)
	}

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func loadCategory(err error) string {
	switch {
	case errors.Is(err, sensormap.ErrConfigUnreadable):
		return "unreadable"
	case errors.Is(err, sensormap.ErrIntegrity):
		return "integrity"
	default:
		return "malformed"
	}
}

// validateSettings checks listener and execution settings.
func (d *Doctor) validateSettings(r *Result) {
	if err := d.settings.Validate(); err != nil {
		d.addError(r, "settings", "", err.Error())
	}

	if _, _, err := net.SplitHostPort(d.settings.Listen); err != nil {
		d.addError(r, "settings", config.EnvListenAddr,
			fmt.Sprintf("invalid listen address %q: %v", d.settings.Listen, err))
	}

	if d.settings.ExecMode == config.ExecShell {
		if _, err := d.lookPath(d.settings.Shell); err != nil {
			d.addError(r, "settings", config.EnvScriptShell,
				fmt.Sprintf("shell %q not found: %v", d.settings.Shell, err))
		}
	}

	if d.settings.ScriptTimeout == 0 {
		d.addWarning(r, "runtime", config.EnvScriptTimeout,
			"no script timeout; a script that never exits blocks its request indefinitely")
	}
}

// validateScriptsDirectory checks the base directory exists.
func (d *Doctor) validateScriptsDirectory(r *Result) {
	info, err := os.Stat(d.settings.ScriptsDirectory)
	if err != nil {
		d.addError(r, "scripts_directory", config.EnvScriptsDirectory,
			fmt.Sprintf("scripts directory %q: %v", d.settings.ScriptsDirectory, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "scripts_directory", config.EnvScriptsDirectory,
			fmt.Sprintf("scripts directory %q is not a directory", d.settings.ScriptsDirectory))
	}
}

func (d *Doctor) checkLock(r *Result) {
	locked, err := sensormap.VerifyIntegrity(d.settings.YAMLPath)
	if err != nil {
		// Load already verified; nothing changed in between unless racing an edit.
		d.addError(r, "integrity", d.settings.YAMLPath, err.Error())
		return
	}
	r.Locked = locked
	if !locked {
		d.addWarning(r, "integrity", d.settings.YAMLPath,
			"sensor map is not locked; run 'sensorhook config lock' to enable integrity verification")
	}
}

// warnEmptyScripts flags entries that will never run anything.
func (d *Doctor) warnEmptyScripts(r *Result, store *sensormap.Store) {
	for i, e := range store.Config().Sensors {
		if len(e.Scripts) == 0 {
			d.addWarning(r, "sensors", fmt.Sprintf("sensors[%d]", i),
				fmt.Sprintf("sensor %q has no scripts", e.ID))
		}
	}
}

// warnDuplicateIDs notes ids that appear more than once; all their entries run.
func (d *Doctor) warnDuplicateIDs(r *Result, store *sensormap.Store) {
	for _, id := range store.IDs() {
		if n := len(store.Lookup(id)); n > 1 {
			d.addWarning(r, "sensors", id,
				fmt.Sprintf("sensor %q appears %d times; scripts from every entry run in document order", id, n))
		}
	}
}

// warnUnresolvedScripts checks the executable named by each script exists
// under the scripts directory and has an execute bit.
func (d *Doctor) warnUnresolvedScripts(r *Result, store *sensormap.Store) {
	for i, e := range store.Config().Sensors {
		for j, script := range e.Scripts {
			r.Scripts++
			field := fmt.Sprintf("sensors[%d].scripts[%d]", i, j)

			command := sensormap.ScriptCommand(script)
			if command == "" {
				d.addWarning(r, "scripts", field, "script entry is blank")
				continue
			}

			path := store.ResolvePath(command)
			info, err := os.Stat(path)
			if err != nil {
				d.addWarning(r, "scripts", field, fmt.Sprintf("%s: not found", path))
				continue
			}
			if !info.Mode().IsRegular() {
				d.addWarning(r, "scripts", field, fmt.Sprintf("%s: not a regular file", path))
				continue
			}
			if info.Mode().Perm()&0o111 == 0 {
				d.addWarning(r, "scripts", field, fmt.Sprintf("%s: not executable", path))
			}
		}
	}
}

var (
	errorLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	warnLabel  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	okLabel    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	dim        = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	counts := dim.Render(fmt.Sprintf("(%d sensor entries, %d scripts)", r.Sensors, r.Scripts))

	if r.Valid && len(r.Warnings) == 0 {
		fmt.Fprintf(&b, "%s %s\n", okLabel.Render("Configuration valid."), counts)
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "%s (%d warning(s)) %s\n", okLabel.Render("Configuration valid"), len(r.Warnings), counts)
	} else {
		fmt.Fprintf(&b, "%s (%d error(s), %d warning(s))\n",
			errorLabel.Render("Configuration invalid"), len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, errorLabel.Render("ERROR"), e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, warnLabel.Render("WARN "), w)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, label string, issue Issue) {
	if issue.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, issue.Category, issue.Field, issue.Message)
	} else {
		fmt.Fprintf(b, "  %s [%s] %s\n", label, issue.Category, issue.Message)
	}
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
