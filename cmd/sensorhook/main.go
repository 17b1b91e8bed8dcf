package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/sensorhook/internal/config"
	"github.com/mattjoyce/sensorhook/internal/dispatch"
	"github.com/mattjoyce/sensorhook/internal/doctor"
	"github.com/mattjoyce/sensorhook/internal/events"
	"github.com/mattjoyce/sensorhook/internal/lock"
	"github.com/mattjoyce/sensorhook/internal/log"
	"github.com/mattjoyce/sensorhook/internal/runner"
	"github.com/mattjoyce/sensorhook/internal/sensormap"
	"github.com/mattjoyce/sensorhook/internal/tui/watch"
	"github.com/mattjoyce/sensorhook/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const defaultEnvFile = ".env"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "sensor":
		return runSensorNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		if hasHelpFlag(args) {
			printSystemStartHelp()
			return 0
		}
		return runStart(args)
	case "doctor":
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: sensorhook version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("sensorhook %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`sensorhook - run shell scripts when sensors report in

Usage:
  sensorhook <noun> <action> [flags]

Core Resources (Nouns):
  system    Server lifecycle
  config    Sensor map validation and integrity
  sensor    Inspect and trigger configured sensors

System Commands:
  system start      Start the HTTP server in the foreground
  system watch      Real-time dispatch monitoring TUI

Config Commands:
  config check      Validate settings, sensor map, and scripts
  config lock       Record the sensor map hash in .checksums

Sensor Commands:
  sensor list       Show configured sensors and their scripts
  sensor run <id>   Run a sensor's scripts once, as a POST would

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Every action accepts --env-file PATH (default .env). Settings are read from
the environment: SCRIPTS_DIRECTORY, YAML_PATH, LISTEN_ADDR, BASE_PATH,
LOG_LEVEL, LOG_FORMAT, RESPONSE_MODE, EXEC_MODE, SCRIPT_SHELL,
SCRIPT_TIMEOUT, PID_FILE.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runSensorNoun(args []string) int {
	if len(args) < 1 {
		printSensorNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSensorNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			printSensorListHelp()
			return 0
		}
		return runSensorList(actionArgs)
	case "run":
		if hasHelpFlag(actionArgs) {
			printSensorRunHelp()
			return 0
		}
		return runSensorRun(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown sensor action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sensorhook system <action>")
	fmt.Fprintln(w, "Actions: start, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sensorhook config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printSensorNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: sensorhook sensor <action> [flags]")
	fmt.Fprintln(w, "Actions: list, run")
}

func printSystemStartHelp() {
	fmt.Println("Usage: sensorhook system start [--env-file PATH]")
	fmt.Println("Start the HTTP server in the foreground.")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: sensorhook system watch [--env-file PATH] [--url URL]")
	fmt.Println("Real-time sensor dispatch monitor fed by the server's event stream.")
	fmt.Println("  --url URL        Server URL (default: derived from LISTEN_ADDR)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select sensor")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: sensorhook config check [--env-file PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate settings, sensor map syntax and integrity, and script presence.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  Valid")
	fmt.Println("  1  One or more errors")
	fmt.Println("  2  Warnings present and --strict given")
}

func printConfigLockHelp() {
	fmt.Println("Usage: sensorhook config lock [--env-file PATH] [-v|--verbose]")
	fmt.Println("Authorize the current sensor map by recording its BLAKE3 hash in .checksums.")
}

func printSensorListHelp() {
	fmt.Println("Usage: sensorhook sensor list [--env-file PATH] [--json]")
	fmt.Println("Show configured sensor entries in document order.")
}

func printSensorRunHelp() {
	fmt.Println("Usage: sensorhook sensor run <id> [--env-file PATH] [--json]")
	fmt.Println("Run every script configured for a sensor once and report the outcome.")
}

// --- ACTION IMPLEMENTATIONS ---

// loadSettings parses fs and returns settings read from the env file and
// environment. The returned code is non-zero on failure.
func loadSettings(fs *flag.FlagSet, args []string, envFile *string) (config.Settings, int) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return config.Settings{}, 1
	}
	settings, err := config.LoadSettings(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Settings error: %v\n", err)
		return config.Settings{}, 1
	}
	return settings, 0
}

func newRunner(s config.Settings) runner.ScriptRunner {
	if s.ExecMode == config.ExecArgv {
		return &runner.ArgvRunner{Timeout: s.ScriptTimeout}
	}
	return &runner.ShellRunner{Shell: s.Shell, Timeout: s.ScriptTimeout}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	envFile := fs.String("env-file", defaultEnvFile, "Path to dotenv file")
	settings, code := loadSettings(fs, args, envFile)
	if code != 0 {
		return code
	}

	log.Setup(settings.LogLevel, settings.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("sensorhook starting",
		"version", version,
		"sensor_map", settings.YAMLPath,
		"scripts_directory", settings.ScriptsDirectory,
		"exec_mode", settings.ExecMode,
	)

	if settings.PIDFile != "" {
		pidLock, err := lock.Acquire(settings.PIDFile)
		if err != nil {
			logger.Error("failed to acquire PID lock (another instance may be running)", "path", settings.PIDFile, "error", err)
			return 1
		}
		defer pidLock.Release()
		logger.Info("acquired PID lock", "path", settings.PIDFile)
	}

	store, err := sensormap.Load(settings.YAMLPath, settings.ScriptsDirectory)
	if err != nil {
		logger.Error("failed to load sensor map", "path", settings.YAMLPath, "error", err)
		return 1
	}
	logger.Info("sensor map loaded", "entries", store.Len(), "sensors", len(store.IDs()))

	if settings.ScriptTimeout == 0 {
		logger.Warn("no script timeout configured; a script that never exits holds its request open",
			"env", config.EnvScriptTimeout)
	}

	hub := events.NewHub(events.DefaultCapacity)
	disp := dispatch.New(store, newRunner(settings), log.WithComponent("dispatch"), dispatch.WithPublisher(hub))

	server := webhook.New(webhook.Config{
		Listen:   settings.Listen,
		BasePath: settings.BasePath,
		Summary:  settings.ResponseMode == config.ResponseSummary,
		Sensors:  store.Len(),
	}, disp, log.WithComponent("webhook"), webhook.WithEvents(hub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info("sensorhook running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		// Let in-flight requests drain.
		if err, ok := <-errCh; ok && err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return 1
	}

	logger.Info("sensorhook stopped")
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	envFile := fs.String("env-file", defaultEnvFile, "Path to dotenv file")
	serverURL := fs.String("url", "", "Server URL")
	settings, code := loadSettings(fs, args, envFile)
	if code != 0 {
		return code
	}

	target := *serverURL
	if target == "" {
		target = localURL(settings.Listen)
	}

	p := tea.NewProgram(watch.New(target, settings.BasePath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch error: %v\n", err)
		return 1
	}
	return 0
}

// localURL turns a listen address into a URL a local client can dial.
func localURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func runConfigCheck(args []string) int {
	var strict, jsonOut bool
	var format, envFile string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&envFile, "env-file", defaultEnvFile, "Path to dotenv file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	settings, code := loadSettings(fs, args, &envFile)
	if code != 0 {
		return code
	}
	if jsonOut {
		format = "json"
	}

	result := doctor.New(settings).Validate()

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	var verbose, verboseShort bool
	var envFile string

	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	fs.StringVar(&envFile, "env-file", defaultEnvFile, "Path to dotenv file")
	fs.BoolVar(&verbose, "verbose", false, "Verbose output")
	fs.BoolVar(&verboseShort, "v", false, "Verbose output")

	settings, code := loadSettings(fs, args, &envFile)
	if code != 0 {
		return code
	}

	// Refuse to bless a document that would not load.
	data, err := os.ReadFile(settings.YAMLPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read sensor map: %v\n", err)
		return 1
	}
	if _, err := sensormap.Parse(data); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock %s: %v\n", settings.YAMLPath, err)
		return 1
	}

	manifest, err := sensormap.GenerateChecksums(settings.YAMLPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock sensor map: %v\n", err)
		return 1
	}

	if verbose || verboseShort {
		names := make([]string, 0, len(manifest.Hashes))
		for name := range manifest.Hashes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  HASH %s: %s\n", name, manifest.Hashes[name])
		}
		fmt.Printf("  WROTE %s: %s\n", sensormap.ChecksumFilename, sensormap.ChecksumPath(settings.YAMLPath))
	}

	fmt.Printf("Successfully locked sensor map: %s\n", settings.YAMLPath)
	return 0
}

type sensorListing struct {
	Index   int      `json:"index"`
	ID      string   `json:"id"`
	Scripts []string `json:"scripts"`
}

func runSensorList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	envFile := fs.String("env-file", defaultEnvFile, "Path to dotenv file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	settings, code := loadSettings(fs, args, envFile)
	if code != 0 {
		return code
	}

	store, err := sensormap.Load(settings.YAMLPath, settings.ScriptsDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	entries := store.Config().Sensors
	listing := make([]sensorListing, 0, len(entries))
	for i, e := range entries {
		listing = append(listing, sensorListing{Index: i, ID: e.ID, Scripts: e.Scripts})
	}

	if *jsonOut {
		data, err := json.MarshalIndent(listing, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(listing) == 0 {
		fmt.Println("No sensors configured.")
		return 0
	}
	for _, l := range listing {
		fmt.Printf("%s\n", l.ID)
		if len(l.Scripts) == 0 {
			fmt.Println("  (no scripts)")
		}
		for _, s := range l.Scripts {
			fmt.Printf("  - %s\n", store.ResolvePath(s))
		}
	}
	return 0
}

func runSensorRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	envFile := fs.String("env-file", defaultEnvFile, "Path to dotenv file")
	jsonOut := fs.Bool("json", false, "Output the dispatch summary as JSON")

	flags, positionals := splitFlagsAndPositionals(args, map[string]bool{
		"--env-file": true,
		"-env-file":  true,
	})
	settings, code := loadSettings(fs, flags, envFile)
	if code != 0 {
		return code
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: sensorhook sensor run <id> [--env-file PATH] [--json]")
		return 1
	}
	id := positionals[0]

	log.SetupWriter(os.Stderr, settings.LogLevel, settings.LogFormat)

	store, err := sensormap.Load(settings.YAMLPath, settings.ScriptsDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	resp := dispatch.New(store, newRunner(settings), log.WithComponent("dispatch")).Handle(id)

	if *jsonOut {
		data, err := json.MarshalIndent(resp.Summary(), "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		fmt.Println(resp.Body())
		if resp.EntriesMatched == 0 {
			fmt.Println("  no scripts configured")
		}
		for _, ex := range resp.Executions {
			switch {
			case !ex.Result.Started():
				fmt.Printf("  FAIL %s: %s\n", ex.Script, ex.Result.FailureReason())
			case ex.Result.Succeeded():
				fmt.Printf("  OK   %s (%s)\n", ex.Script, ex.Result.Duration.Round(time.Millisecond))
			case ex.Result.TimedOut:
				fmt.Printf("  TIME %s: killed after %s\n", ex.Script, ex.Result.Duration.Round(time.Millisecond))
			default:
				fmt.Printf("  EXIT %s: exit code %d\n", ex.Script, ex.Result.ExitCode)
			}
		}
	}

	if resp.Succeeded() != len(resp.Executions) {
		return 1
	}
	return 0
}

// splitFlagsAndPositionals separates positional arguments from flags so
// positionals may appear anywhere on the command line.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}

	return flags, positionals
}
