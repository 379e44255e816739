// Package config loads the YAML configuration file that drives a daemon
// run, translating each declared sync into the pieces cmd/lsyncd needs
// to construct a sync.Sync: its source/target, its delay/process-table
// tuning, its excludes, and which built-in action wires it up.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings are the daemon-wide options a config file may set. Logfile,
// Pidfile and Nodaemon mirror top-level command line flags so a config file
// and flags compose predictably (flags win, since they're applied after
// loading the file); StatusFile and StatusInterval have no flag.
type Settings struct {
	Logfile        string  `yaml:"logfile"`
	Pidfile        string  `yaml:"pidfile"`
	StatusFile     string  `yaml:"statusFile"`
	StatusInterval float64 `yaml:"statusInterval"`
	Nodaemon       bool    `yaml:"nodaemon"`
}

// SyncSpec declares one source/target mirror.
type SyncSpec struct {
	Name string `yaml:"name"`

	Source string `yaml:"source"`
	Target string `yaml:"target"`

	// Action selects a built-in: "rsync" or "rsyncssh". Host is required
	// for rsyncssh.
	Action string `yaml:"action"`
	Host   string `yaml:"host"`

	// SSHPort and SSHIdentityFile configure the ssh transport for
	// "rsyncssh", overriding any port embedded in Host.
	SSHPort         int    `yaml:"sshPort"`
	SSHIdentityFile string `yaml:"sshIdentityFile"`

	DelaySeconds float64 `yaml:"delay"`
	MaxProcesses int     `yaml:"maxProcesses"`
	MaxDelays    int     `yaml:"maxDelays"`

	Exclude     []string `yaml:"exclude"`
	ExcludeFrom string   `yaml:"excludeFrom"`

	RsyncFlags []string `yaml:"rsyncFlags"`
}

// Delay returns the sync's configured delay, defaulting to 15 seconds (the
// value lsyncd-style daemons use out of the box) when unset.
func (s SyncSpec) Delay() time.Duration {
	if s.DelaySeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.DelaySeconds * float64(time.Second))
}

// File is the top-level shape of a configuration file.
type File struct {
	Settings Settings   `yaml:"settings"`
	Syncs    []SyncSpec `yaml:"syncs"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read configuration file %q", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "unable to parse configuration file %q", path)
	}

	if len(f.Syncs) == 0 {
		return nil, errors.Errorf("configuration file %q declares no syncs", path)
	}
	for i, s := range f.Syncs {
		if s.Source == "" || s.Target == "" {
			return nil, errors.Errorf("sync %d: source and target are required", i)
		}
		if s.Action == "rsyncssh" && s.Host == "" {
			return nil, errors.Errorf("sync %d: action rsyncssh requires host", i)
		}
	}

	return &f, nil
}
