package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/launchpad/internal/task"
)

func newTestSpool(t *testing.T, cfg SpoolConfig) *SpoolBackend {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	return NewSpoolBackend(cfg)
}

func resultCodes(results []task.Result) map[string]int {
	codes := make(map[string]int, len(results))
	for _, r := range results {
		codes[r.Name] = r.ExitCode
	}
	return codes
}

func TestSpoolBackend_Defaults(t *testing.T) {
	b := NewSpoolBackend(SpoolConfig{})
	assert.Equal(t, "spool", b.Name())
	assert.Equal(t, "spool", b.cfg.Dir)
	assert.Equal(t, DefaultSubmit, b.cfg.Submit)
	assert.Equal(t, defaultPollInterval, b.cfg.PollInterval)
}

func TestSpoolBackend_CollectsExitCodes(t *testing.T) {
	for _, pollOnly := range []bool{false, true} {
		name := "fsnotify"
		if pollOnly {
			name = "poll"
		}
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			b := newTestSpool(t, SpoolConfig{Dir: dir, PollOnly: pollOnly})

			tasks := []task.Task{
				shellTask("ok", "echo done"),
				shellTask("fail", "exit 5"),
				{Name: "missing", Args: []string{filepath.Join(dir, "no-such-binary")}},
			}
			results, err := b.Launch(context.Background(), tasks)
			require.NoError(t, err)
			require.NoError(t, CheckResults(tasks, results))

			assert.Equal(t, map[string]int{"ok": 0, "fail": 5, "missing": 127}, resultCodes(results))
			for i, r := range results {
				assert.Equal(t, tasks[i].Name, r.Name)
				assert.True(t, strings.HasPrefix(r.LogPath, dir), r.LogPath)
			}

			data, err := os.ReadFile(results[0].LogPath)
			require.NoError(t, err)
			assert.Equal(t, "done\n", string(data))
		})
	}
}

func TestSpoolBackend_RunDirPerLaunch(t *testing.T) {
	dir := t.TempDir()
	b := newTestSpool(t, SpoolConfig{Dir: dir})

	tasks := []task.Task{shellTask("a", "true")}
	first, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)
	second, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)

	assert.NotEqual(t, filepath.Dir(first[0].LogPath), filepath.Dir(second[0].LogPath))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSpoolBackend_SubmitFailure(t *testing.T) {
	var mu sync.Mutex
	var updates []task.State
	b := newTestSpool(t, SpoolConfig{
		Submit: []string{"false"},
		OnUpdate: func(_ string, state task.State, _ *task.Result) {
			mu.Lock()
			defer mu.Unlock()
			updates = append(updates, state)
		},
	})

	tasks := []task.Task{shellTask("a", "true"), shellTask("b", "true")}
	results, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)
	require.NoError(t, CheckResults(tasks, results))
	for _, r := range results {
		assert.Equal(t, task.ExitLaunchFailed, r.ExitCode)
		assert.Contains(t, r.Error, "submit")
	}
	assert.Equal(t, []task.State{task.StateFailed, task.StateFailed}, updates)
}

func TestSpoolBackend_ProbeFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	b := newTestSpool(t, SpoolConfig{Dir: dir, Probe: []string{"sh", "-c", "echo scheduler down; exit 1"}})

	results, err := b.Launch(context.Background(), []task.Task{shellTask("a", "true")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe scheduler")
	assert.Contains(t, err.Error(), "scheduler down")
	assert.Nil(t, results)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "failed probe left a spool dir behind")
}

func TestSpoolBackend_UnusableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	b := newTestSpool(t, SpoolConfig{Dir: file})
	_, err := b.Launch(context.Background(), []task.Task{shellTask("a", "true")})
	assert.ErrorContains(t, err, "create spool dir")
}

func TestSpoolBackend_Timeout(t *testing.T) {
	// submit accepts the job but nothing ever runs it
	b := newTestSpool(t, SpoolConfig{Submit: []string{"true"}, Timeout: 200 * time.Millisecond})

	tasks := []task.Task{shellTask("lost", "true")}
	start := time.Now()
	results, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, task.ExitTimeout, results[0].ExitCode)
	assert.Contains(t, results[0].Error, "no exit status")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSpoolBackend_Canceled(t *testing.T) {
	b := newTestSpool(t, SpoolConfig{Submit: []string{"true"}})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	tasks := []task.Task{shellTask("a", "true"), shellTask("b", "true")}
	results, err := b.Launch(ctx, tasks)
	require.NoError(t, err)
	require.NoError(t, CheckResults(tasks, results))
	for _, r := range results {
		assert.Equal(t, task.ExitCanceled, r.ExitCode)
	}
}

func TestSpoolBackend_AlreadyCanceled(t *testing.T) {
	dir := t.TempDir()
	b := newTestSpool(t, SpoolConfig{Dir: dir})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []task.Task{shellTask("a", "true"), shellTask("b", "true")}
	results, err := b.Launch(ctx, tasks)
	require.NoError(t, err)
	require.NoError(t, CheckResults(tasks, results))
	for _, r := range results {
		assert.Equal(t, task.ExitCanceled, r.ExitCode, r.Error)
		assert.Contains(t, r.Error, "run canceled")
	}

	scripts, err := filepath.Glob(filepath.Join(dir, "*", "*"+scriptSuffix))
	require.NoError(t, err)
	assert.Empty(t, scripts, "nothing should be submitted after cancel")
}

func TestSpoolBackend_MalformedExitFile(t *testing.T) {
	b := newTestSpool(t, SpoolConfig{
		Submit: []string{"sh", "-c", `echo garbage > "${1%.sh}.exit"`, "fake-submit"},
	})

	results, err := b.Launch(context.Background(), []task.Task{shellTask("a", "true")})
	require.NoError(t, err)
	assert.Equal(t, task.ExitLaunchFailed, results[0].ExitCode)
	assert.Contains(t, results[0].Error, "malformed exit file")
}

func TestSpoolBackend_MissingWorkingDir(t *testing.T) {
	b := newTestSpool(t, SpoolConfig{})

	tasks := []task.Task{{Name: "a", Command: "true", Dir: filepath.Join(t.TempDir(), "gone")}}
	results, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)
	assert.Equal(t, task.ExitLaunchFailed, results[0].ExitCode)
}

func TestSpoolBackend_OnUpdate(t *testing.T) {
	var mu sync.Mutex
	states := map[string][]task.State{}
	b := newTestSpool(t, SpoolConfig{
		OnUpdate: func(name string, state task.State, res *task.Result) {
			mu.Lock()
			defer mu.Unlock()
			states[name] = append(states[name], state)
		},
	})

	_, err := b.Launch(context.Background(), []task.Task{shellTask("ok", "true"), shellTask("bad", "exit 2")})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []task.State{task.StateRunning, task.StateSucceeded}, states["ok"])
	assert.Equal(t, []task.State{task.StateRunning, task.StateFailed}, states["bad"])
}

func TestJobScript_QuotesArgsAndEnv(t *testing.T) {
	workDir := t.TempDir()
	b := newTestSpool(t, SpoolConfig{})

	tasks := []task.Task{{
		Name: "quoting",
		Args: []string{"sh", "-c", `printf '%s|%s|%s\n' "$1" "$GREETING" "$(pwd)"`, "x", "it's a $HOME"},
		Dir:  workDir,
		Env:  map[string]string{"GREETING": "hello 'world'"},
	}}
	results, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)
	require.Zero(t, results[0].ExitCode, results[0].Error)

	data, err := os.ReadFile(results[0].LogPath)
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(workDir)
	assert.Equal(t, "it's a $HOME|hello 'world'|"+resolved+"\n", string(data))
}

func TestJobScript_SkipsUnsafeEnvNames(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	unsafeKey := "A=1; touch " + marker + "; B"
	b := newTestSpool(t, SpoolConfig{})

	tasks := []task.Task{{
		Name:    "unsafe-env",
		Command: `printf '%s' "$SAFE"`,
		Env: map[string]string{
			unsafeKey: "v",
			"SAFE":    "kept",
		},
	}}
	results, err := b.Launch(context.Background(), tasks)
	require.NoError(t, err)
	require.Zero(t, results[0].ExitCode, results[0].Error)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr), "env name was executed by the job script")
	data, err := os.ReadFile(results[0].LogPath)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(data))

	script := jobScript("/spool/run", "job", &tasks[0])
	assert.NotContains(t, script, "touch")
	assert.Contains(t, script, "export SAFE='kept'\n")
}

func TestJobScript_Layout(t *testing.T) {
	script := jobScript("/spool/run", "job", &task.Task{
		Name:    "job",
		Command: "echo hi",
		Env:     map[string]string{"B": "2", "A": "1"},
	})

	assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
	assert.Contains(t, script, "mv '/spool/run/job.exit.tmp' '/spool/run/job.exit'")
	assert.Less(t, strings.Index(script, "export A="), strings.Index(script, "export B="))
	assert.Contains(t, script, "'sh' '-c' 'echo hi' > '/spool/run/job.out' 2>&1 < /dev/null\n")
	assert.True(t, strings.HasSuffix(script, "finish $?\n"))
	assert.NotContains(t, script, "cd ")
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"plain", "'plain'"},
		{"two words", "'two words'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shellQuote(tt.in), tt.in)
	}
}

func TestReadExitFile(t *testing.T) {
	dir := t.TempDir()

	_, ok, err := readExitFile(filepath.Join(dir, "absent.exit"))
	assert.False(t, ok)
	assert.NoError(t, err)

	path := filepath.Join(dir, "a.exit")
	require.NoError(t, os.WriteFile(path, []byte("42\n"), 0o644))
	code, ok, err := readExitFile(path)
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 42, code)
}
