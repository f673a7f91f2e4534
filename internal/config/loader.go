package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/launchpad/internal/task"
)

// ResolveGlob expands a task file pattern. A pattern without glob
// metacharacters must name an existing file.
func ResolveGlob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad tasks pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no task files match %q", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// Load reads one task file. The format follows the extension:
// .yml and .yaml are YAML, anything else is JSON.
func Load(path string) (*task.TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var tf task.TaskFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		err = decodeYAML(data, &tf)
	default:
		err = sonic.ConfigStd.Unmarshal(data, &tf)
	}
	if err != nil {
		return nil, fmt.Errorf("parse tasks file %s: %w", path, err)
	}
	return &tf, nil
}

func decodeYAML(data []byte, tf *task.TaskFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(tf); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadTasks reads every file, merges their tasks in file order and validates
// the result. Files may leave run_type empty; non-empty values must agree.
func LoadTasks(paths []string) (*task.TaskFile, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no task files given")
	}

	merged := &task.TaskFile{}
	for _, path := range paths {
		tf, err := Load(path)
		if err != nil {
			return nil, err
		}
		if tf.RunType != "" {
			if merged.RunType != "" && merged.RunType != tf.RunType {
				return nil, fmt.Errorf("%s: run_type %q conflicts with %q", path, tf.RunType, merged.RunType)
			}
			merged.RunType = tf.RunType
		}
		merged.Tasks = append(merged.Tasks, tf.Tasks...)
	}

	if err := validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// validate checks each task and rejects duplicate names.
func validate(tf *task.TaskFile) error {
	names := make(map[string]struct{}, len(tf.Tasks))
	for i := range tf.Tasks {
		t := &tf.Tasks[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("task #%d: %w", i+1, err)
		}
		if _, dup := names[t.Name]; dup {
			return fmt.Errorf("duplicate task name: %q", t.Name)
		}
		names[t.Name] = struct{}{}
	}
	return nil
}
