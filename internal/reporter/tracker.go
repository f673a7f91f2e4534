package reporter

import (
	"sync"
	"time"

	"github.com/ppiankov/launchpad/internal/task"
)

// Entry is the observed state of one task.
type Entry struct {
	Name      string
	State     task.State
	StartedAt time.Time
	Result    *task.Result // nil until the task is terminal
}

// Counts tallies entries by state.
type Counts struct {
	Pending   int
	Running   int
	Succeeded int
	Failed    int
}

// Tracker collects backend updates for display. Its Update method has the
// signature of runner.UpdateFunc and is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	order    []string
	entries  map[string]*Entry
	onChange func(Entry)
	now      func() time.Time
}

// NewTracker creates a tracker with every task pending, in input order.
func NewTracker(tasks []task.Task) *Tracker {
	t := &Tracker{
		entries: make(map[string]*Entry, len(tasks)),
		now:     time.Now,
	}
	for _, tk := range tasks {
		if _, ok := t.entries[tk.Name]; ok {
			continue
		}
		t.order = append(t.order, tk.Name)
		t.entries[tk.Name] = &Entry{Name: tk.Name, State: task.StatePending}
	}
	return t
}

// OnChange registers fn to be called after every update. Set it before the run
// starts. fn runs under the tracker lock and must not call back into the Tracker.
func (t *Tracker) OnChange(fn func(Entry)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Update records a state change.
func (t *Tracker) Update(name string, state task.State, res *task.Result) {
	t.mu.Lock()
	e, ok := t.entries[name]
	if !ok {
		e = &Entry{Name: name}
		t.order = append(t.order, name)
		t.entries[name] = e
	}
	if state == task.StateRunning {
		e.StartedAt = t.now()
	}
	e.State = state
	if res != nil {
		cpy := *res
		e.Result = &cpy
	}
	if t.onChange != nil {
		t.onChange(*e)
	}
	t.mu.Unlock()
}

// Snapshot returns a copy of every entry in input order.
func (t *Tracker) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, *t.entries[name])
	}
	return out
}

// Results returns the terminal results seen so far, in input order.
func (t *Tracker) Results() []task.Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []task.Result
	for _, name := range t.order {
		if r := t.entries[name].Result; r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Count tallies entries by state.
func Count(entries []Entry) Counts {
	var c Counts
	for _, e := range entries {
		switch e.State {
		case task.StateRunning:
			c.Running++
		case task.StateSucceeded:
			c.Succeeded++
		case task.StateFailed:
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}
