package reporter

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/launchpad/internal/task"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker([]task.Task{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	assert.Equal(t, Counts{Pending: 3}, Count(tr.Snapshot()))

	tr.Update("a", task.StateRunning, nil)
	tr.Update("b", task.StateRunning, nil)
	tr.Update("a", task.StateSucceeded, &task.Result{Name: "a"})
	tr.Update("b", task.StateFailed, &task.Result{Name: "b", ExitCode: 3})

	snap := tr.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{snap[0].Name, snap[1].Name, snap[2].Name})
	assert.False(t, snap[0].StartedAt.IsZero())
	assert.Equal(t, 3, snap[1].Result.ExitCode)
	assert.Nil(t, snap[2].Result)
	assert.Equal(t, Counts{Pending: 1, Succeeded: 1, Failed: 1}, Count(snap))

	results := tr.Results()
	assert.Equal(t, []task.Result{{Name: "a"}, {Name: "b", ExitCode: 3}}, results)
}

func TestTracker_UnknownNameAppends(t *testing.T) {
	tr := NewTracker(nil)
	tr.Update("late", task.StateFailed, &task.Result{Name: "late", ExitCode: 1})

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "late", snap[0].Name)
}

func TestTracker_CopiesResults(t *testing.T) {
	tr := NewTracker([]task.Task{{Name: "a"}})
	res := &task.Result{Name: "a", ExitCode: 1}
	tr.Update("a", task.StateFailed, res)
	res.ExitCode = 99

	assert.Equal(t, 1, tr.Snapshot()[0].Result.ExitCode)
}

func TestTracker_OnChange(t *testing.T) {
	tr := NewTracker([]task.Task{{Name: "a"}})
	var seen []task.State
	tr.OnChange(func(e Entry) { seen = append(seen, e.State) })

	tr.Update("a", task.StateRunning, nil)
	tr.Update("a", task.StateSucceeded, &task.Result{Name: "a"})
	assert.Equal(t, []task.State{task.StateRunning, task.StateSucceeded}, seen)
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	var tasks []task.Task
	for i := 0; i < 50; i++ {
		tasks = append(tasks, task.Task{Name: fmt.Sprintf("t%d", i)})
	}
	tr := NewTracker(tasks)

	var wg sync.WaitGroup
	for _, tk := range tasks {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			tr.Update(name, task.StateRunning, nil)
			time.Sleep(time.Millisecond)
			tr.Update(name, task.StateSucceeded, &task.Result{Name: name})
		}(tk.Name)
	}
	wg.Wait()

	assert.Equal(t, Counts{Succeeded: 50}, Count(tr.Snapshot()))
	assert.Len(t, tr.Results(), 50)
}
