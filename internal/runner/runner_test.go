package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, name, body string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), mode))
	return path
}

func TestShellRunner_Success(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "ok.sh", "#!/bin/sh\necho hello\necho oops >&2\n", 0o755)

	res := (&ShellRunner{}).Run(path)

	require.True(t, res.Started(), "unexpected start failure: %v", res.StartErr)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, "oops\n", string(res.Stderr))
	assert.Equal(t, path, res.ScriptPath)
	assert.Empty(t, res.FailureReason())
}

func TestShellRunner_NonZeroExitIsData(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "fail.sh", "#!/bin/sh\necho partial\nexit 3\n", 0o755)

	res := (&ShellRunner{}).Run(path)

	assert.True(t, res.Started())
	assert.False(t, res.Succeeded())
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", string(res.Stdout))
}

func TestShellRunner_ArgumentsAndPipelines(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "args.sh", "#!/bin/sh\necho \"$1-$2\"\n", 0o755)

	res := (&ShellRunner{}).Run(path + " a b | tr a-z A-Z")

	require.True(t, res.Started())
	assert.Equal(t, "A-B\n", string(res.Stdout))
}

func TestShellRunner_MissingScriptIsStartFailure(t *testing.T) {
	res := (&ShellRunner{}).Run(filepath.Join(t.TempDir(), "missing.sh"))

	assert.False(t, res.Started())
	assert.Equal(t, exitNotFound, res.ExitCode)
	assert.Contains(t, res.FailureReason(), "command not found")
}

func TestShellRunner_NotExecutableIsStartFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "noexec.sh", "#!/bin/sh\necho never\n", 0o644)

	res := (&ShellRunner{}).Run(path)

	assert.False(t, res.Started())
	assert.Equal(t, exitNotExecutable, res.ExitCode)
	assert.Contains(t, res.FailureReason(), "not executable")
}

func TestShellRunner_ExitFromInsideScriptIsNotStartFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "alert.sh", "#!/bin/sh\necho paged-oncall\nsome-missing-tool --flag\n", 0o755)

	res := (&ShellRunner{}).Run(path)

	require.True(t, res.Started(), "unexpected start failure: %v", res.StartErr)
	assert.False(t, res.Succeeded())
	assert.Equal(t, exitNotFound, res.ExitCode)
	assert.Equal(t, "paged-oncall\n", string(res.Stdout))
	assert.Contains(t, string(res.Stderr), "some-missing-tool")
}

func TestShellRunner_ExplicitExit126IsNotStartFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "deny.sh", "#!/bin/sh\necho denied >&2\nexit 126\n", 0o755)

	res := (&ShellRunner{}).Run(path)

	assert.True(t, res.Started())
	assert.Equal(t, exitNotExecutable, res.ExitCode)
}

func TestLaunchFailed(t *testing.T) {
	assert.True(t, launchFailed("/s/x.sh", []byte("sh: 1: /s/x.sh: not found\n")))
	assert.True(t, launchFailed("/s/x.sh a b", []byte("bash: line 1: /s/x.sh: Permission denied\n")))
	assert.False(t, launchFailed("/s/x.sh", []byte("/s/x.sh: 2: some-tool: not found\n")))
	assert.False(t, launchFailed("/s/x.sh", nil))
	assert.False(t, launchFailed("  ", []byte("sh: 1: : not found")))
}

func TestShellRunner_MissingShell(t *testing.T) {
	res := (&ShellRunner{Shell: filepath.Join(t.TempDir(), "no-such-shell")}).Run("true")

	assert.False(t, res.Started())
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.FailureReason(), "start process")
}

func TestShellRunner_Timeout(t *testing.T) {
	start := time.Now()
	res := (&ShellRunner{Timeout: 100 * time.Millisecond}).Run("exec sleep 10")

	assert.True(t, res.TimedOut)
	assert.True(t, res.Started())
	assert.False(t, res.Succeeded())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellRunner_Env(t *testing.T) {
	res := (&ShellRunner{Env: []string{"SENSOR_ID=door"}}).Run("echo $SENSOR_ID")

	require.True(t, res.Started())
	assert.Equal(t, "door\n", string(res.Stdout))
}

func TestArgvRunner_NoShellInterpretation(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "args.sh", "#!/bin/sh\nfor a in \"$@\"; do echo \"[$a]\"; done\n", 0o755)

	res := (&ArgvRunner{}).Run(path + " one | two")

	require.True(t, res.Started(), "unexpected start failure: %v", res.StartErr)
	assert.Equal(t, "[one]\n[|]\n[two]\n", string(res.Stdout))
}

func TestArgvRunner_MissingScript(t *testing.T) {
	res := (&ArgvRunner{}).Run(filepath.Join(t.TempDir(), "missing.sh"))

	assert.False(t, res.Started())
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.FailureReason(), "start process")
}

func TestArgvRunner_Empty(t *testing.T) {
	res := (&ArgvRunner{}).Run("   ")

	assert.False(t, res.Started())
	assert.ErrorIs(t, res.StartErr, ErrEmptyCommand)
}

func TestArgvRunner_NonZeroExit(t *testing.T) {
	dir := t.TempDir()
	path := writeScript(t, dir, "fail.sh", "#!/bin/sh\nexit 9\n", 0o755)

	res := (&ArgvRunner{}).Run(path)

	assert.True(t, res.Started())
	assert.Equal(t, 9, res.ExitCode)
}
