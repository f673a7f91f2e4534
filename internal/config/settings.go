package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSettingsFile is looked up in the working directory when --config is not given.
const DefaultSettingsFile = ".launchpad.yml"

// Settings holds persistent CLI defaults loaded from a config file.
type Settings struct {
	RunType string `yaml:"run_type"`
	Workers int    `yaml:"workers"`
	Debug   bool   `yaml:"debug"`
	LogDir  string `yaml:"log_dir"`
	LogFile string `yaml:"log_file"` // rotated log of launchpad itself, not task output
	Locale  string `yaml:"locale"`   // report wording: zh or en
	Notify  string `yaml:"notify"`   // "", console, or a Lark webhook URL
	Backend string `yaml:"backend"`  // local or spool
	GPUs    []int  `yaml:"gpus"`     // device IDs the local backend hands out

	IdleTimeout time.Duration `yaml:"idle_timeout"` // local backend: kill tasks silent this long

	Spool *SpoolSettings `yaml:"spool,omitempty"`
}

// SpoolSettings configures the spool backend.
type SpoolSettings struct {
	Dir          string        `yaml:"dir"`
	Submit       []string      `yaml:"submit,omitempty"` // e.g. [sbatch, --parsable]
	Probe        []string      `yaml:"probe,omitempty"`  // e.g. [sinfo, -h]
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	PollOnly     bool          `yaml:"poll_only"` // for spool dirs on NFS, where fsnotify sees no remote writes
}

// LoadSettings reads a YAML config file into Settings.
// If the file does not exist, it returns zero-value Settings and nil error.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Settings{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &s, nil
}

func (s *Settings) validate() error {
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative, got %s", s.IdleTimeout)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", s.Workers)
	}
	switch s.Backend {
	case "", "local", "spool":
	default:
		return fmt.Errorf("unknown backend %q (want local or spool)", s.Backend)
	}
	seen := make(map[int]bool, len(s.GPUs))
	for _, id := range s.GPUs {
		if id < 0 {
			return fmt.Errorf("gpu id must not be negative, got %d", id)
		}
		if seen[id] {
			return fmt.Errorf("duplicate gpu id %d", id)
		}
		seen[id] = true
	}
	return nil
}
