package task

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Exit codes reported by backends for tasks that did not run to a normal exit.
// They follow the shell conventions so they read the same as a real exit status.
const (
	ExitSuccess               = 0
	ExitTimeout               = 124 // task exceeded its timeout
	ExitInsufficientResources = 125 // task asks for more resources than the backend owns
	ExitLaunchFailed          = 127 // process could not be started or submitted
	ExitCanceled              = 130 // run was canceled before the task finished
	ExitSignalBase            = 128 // killed by signal N reports ExitSignalBase+N
)

// State is the lifecycle state of a task inside a backend.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Resources are the requirements a backend must satisfy before starting a task.
type Resources struct {
	GPUs int `json:"gpus,omitempty" yaml:"gpus,omitempty"`
}

// Task is one unit of work produced by the partitioner.
// Backends interpret every field; the orchestrator only reads Name.
type Task struct {
	Name      string            `json:"name" yaml:"name"`
	Command   string            `json:"command,omitempty" yaml:"command,omitempty"` // run via sh -c
	Args      []string          `json:"args,omitempty" yaml:"args,omitempty"`       // argv, takes precedence over Command
	Dir       string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Env       map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Resources Resources         `json:"resources,omitempty" yaml:"resources,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Argv returns the argument vector used to start the task.
func (t *Task) Argv() []string {
	if len(t.Args) > 0 {
		return t.Args
	}
	return []string{"sh", "-c", t.Command}
}

// Validate checks the fields every backend relies on.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("task with empty name")
	}
	if t.Command == "" && len(t.Args) == 0 {
		return fmt.Errorf("task %q has neither command nor args", t.Name)
	}
	for k := range t.Env {
		if !ValidEnvKey(k) {
			return fmt.Errorf("task %q has invalid env name %q", t.Name, k)
		}
	}
	if t.Resources.GPUs < 0 {
		return fmt.Errorf("task %q requests negative gpus", t.Name)
	}
	return nil
}

var envKeyRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvKey reports whether k is a portable shell variable name.
func ValidEnvKey(k string) bool { return envKeyRE.MatchString(k) }

// Result is the terminal outcome of one task: its name and exit code.
// Duration, LogPath and Error are diagnostics the aggregator never reads.
type Result struct {
	Name     string        `json:"name"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration,omitempty"`
	LogPath  string        `json:"log_path,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Succeeded reports whether the task exited with code 0.
func (r Result) Succeeded() bool { return r.ExitCode == ExitSuccess }

// State maps the exit code to a terminal state.
func (r Result) State() State {
	if r.Succeeded() {
		return StateSucceeded
	}
	return StateFailed
}

// TaskFile is the document a partitioner writes: a run type and its tasks.
type TaskFile struct {
	RunType string `json:"run_type,omitempty" yaml:"run_type,omitempty"`
	Tasks   []Task `json:"tasks" yaml:"tasks"`
}

// Duration is a time.Duration that decodes from "90s"-style strings in JSON and YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts both a duration string and a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
