package runner

import (
	"fmt"
	"os"
	"os/user"
	"sort"
	"strings"

	"github.com/ppiankov/launchpad/internal/task"
)

// CurrentUser returns the login name of the invoking user, falling back to
// $USER and then "unknown".
func CurrentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}

// taskEnv returns the parent environment followed by the task's overrides
// in key order, then extra.
func taskEnv(t *task.Task, extra ...string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(t.Env))
	for k := range t.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+t.Env[k])
	}
	return append(env, extra...)
}

// sanitizeName maps a task name to a safe file name component.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		s = "task"
	}
	return s
}

// fileStems assigns each task a unique file name stem derived from its name.
func fileStems(tasks []task.Task) []string {
	stems := make([]string, len(tasks))
	used := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		base := sanitizeName(t.Name)
		stem := base
		for n := 1; used[stem]; n++ {
			stem = fmt.Sprintf("%s-%d", base, n)
		}
		used[stem] = true
		stems[i] = stem
	}
	return stems
}
