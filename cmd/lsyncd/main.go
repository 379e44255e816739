// Command lsyncd watches one or more directory trees for changes and keeps
// a remote or local target mirror in sync by periodically invoking rsync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/antirek/lsyncd/cmd"
	"github.com/antirek/lsyncd/internal/action"
	"github.com/antirek/lsyncd/internal/config"
	"github.com/antirek/lsyncd/internal/engine"
	"github.com/antirek/lsyncd/internal/kernel"
	"github.com/antirek/lsyncd/internal/logging"
	"github.com/antirek/lsyncd/internal/process"
	"github.com/antirek/lsyncd/internal/sync"
	"github.com/antirek/lsyncd/internal/version"
)

// defaultStatusInterval is used whenever a config file doesn't set
// settings.statusInterval.
const defaultStatusInterval = 30 * time.Second

// daemonizedEnv marks a re-exec'd child so it doesn't fork again.
const daemonizedEnv = "LSYNCD_DAEMONIZED"

var flags = struct {
	log      string
	logfile  string
	monitor  bool
	nodaemon bool
	pidfile  string
	runner   string
	version  bool
	rsync    bool
	rsyncssh bool
}{}

func rootMain(command *cobra.Command, arguments []string) error {
	if flags.version {
		fmt.Println("lsyncd version", version.String)
		return nil
	}

	if os.Getenv("LSYNCD_DEBUG") == "1" {
		logging.Root.SetLevel(logging.LevelDebug)
	}
	if flags.log != "" {
		level, ok := logging.NameToLevel(flags.log)
		if !ok {
			return fmt.Errorf("unrecognized -log category %q", flags.log)
		}
		logging.Root.SetLevel(level)
	}

	specs, settings, err := resolveSyncSpecs(arguments)
	if err != nil {
		return err
	}

	logfile := flags.logfile
	if logfile == "" {
		logfile = settings.Logfile
	}
	pidfile := flags.pidfile
	if pidfile == "" {
		pidfile = settings.Pidfile
	}
	nodaemon := flags.nodaemon || settings.Nodaemon
	statusInterval := defaultStatusInterval
	if settings.StatusInterval > 0 {
		statusInterval = time.Duration(settings.StatusInterval * float64(time.Second))
	}

	if !nodaemon && os.Getenv(daemonizedEnv) != "1" {
		return daemonize()
	}

	if logfile != "" {
		f, err := logging.SetOutputFile(logfile)
		if err != nil {
			return fmt.Errorf("unable to open -logfile %q: %w", logfile, err)
		}
		defer f.Close()
	}

	if pidfile != "" {
		if err := writePidfile(pidfile); err != nil {
			return err
		}
		defer os.Remove(pidfile)
	}

	if flags.runner != "" {
		for i := range specs {
			specs[i].syncConfig.Action = action.RunnerAction(flags.runner)
			specs[i].syncConfig.Init = action.RunnerInit(flags.runner)
			specs[i].syncConfig.Collect = action.RunnerCollect
		}
	}

	facility, err := kernel.NewInotify()
	if err != nil {
		return fmt.Errorf("unable to initialize kernel event facility: %w", err)
	}
	defer facility.Close()

	opts := engine.Options{
		StatusFile:     settings.StatusFile,
		StatusInterval: statusInterval,
	}
	if flags.monitor {
		printer := &cmd.StatusLinePrinter{}
		opts.Monitor = printer.Print
	}
	eng := engine.New(facility, logging.Root, opts)

	for _, spec := range specs {
		s, err := sync.New(spec.syncConfig, logging.Root)
		if err != nil {
			return err
		}
		for _, pattern := range spec.exclude {
			if err := s.AddExclude(pattern); err != nil {
				return fmt.Errorf("sync %q: %w", spec.syncConfig.Name, err)
			}
		}
		if spec.excludeFrom != "" {
			if err := s.LoadExcludeFile(spec.excludeFrom); err != nil {
				return fmt.Errorf("sync %q: %w", spec.syncConfig.Name, err)
			}
		}
		if err := eng.AddSync(s, spec.source); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, cmd.TerminationSignals...)
	go func() {
		<-sig
		cancel()
	}()

	return eng.Run(ctx)
}

// daemonize re-execs the current binary with the same arguments, detached
// from the controlling terminal, and marks the child so it runs in the
// foreground instead of forking again. The parent returns immediately once
// the child has started, the way "mutagen daemon start" launches "mutagen
// daemon run" as a separate detached process rather than forking in place.
func daemonize() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("unable to determine executable path to daemonize: %w", err)
	}

	child := &exec.Cmd{
		Path:        executable,
		Args:        os.Args,
		Env:         append(os.Environ(), daemonizedEnv+"=1"),
		SysProcAttr: process.DetachedAttributes(),
	}
	if err := child.Start(); err != nil {
		return fmt.Errorf("unable to fork into the background: %w", err)
	}
	return nil
}

// resolvedSync pairs a constructed sync.Config with the watched source path
// AddSync needs and any excludes to install once the Sync exists.
type resolvedSync struct {
	source      string
	syncConfig  sync.Config
	exclude     []string
	excludeFrom string
}

// resolveSyncSpecs turns either the simple "-rsync SRC DST" / "-rsyncssh SRC
// HOST DIR" command line form, or a YAML config file's [syncs], into the
// sync.Config values the engine constructs syncs from. It also returns the
// daemon-wide settings to use, if any (only a config file can set these; the
// CLI-shortcut forms yield a zero config.Settings).
func resolveSyncSpecs(arguments []string) ([]resolvedSync, config.Settings, error) {
	switch {
	case flags.rsync:
		if len(arguments) != 2 {
			return nil, config.Settings{}, fmt.Errorf("-rsync requires exactly two arguments: SOURCE TARGET")
		}
		return []resolvedSync{rsyncSpec("default", arguments[0], arguments[1], action.RsyncConfig{})}, config.Settings{}, nil

	case flags.rsyncssh:
		if len(arguments) != 3 {
			return nil, config.Settings{}, fmt.Errorf("-rsyncssh requires exactly three arguments: SOURCE HOST TARGETDIR")
		}
		return []resolvedSync{rsyncsshSpec("default", arguments[0], arguments[1], arguments[2], action.SSHOptions{})}, config.Settings{}, nil

	case len(arguments) == 1:
		file, err := config.Load(arguments[0])
		if err != nil {
			return nil, config.Settings{}, err
		}
		specs, err := specsFromFile(file)
		return specs, file.Settings, err

	default:
		return nil, config.Settings{}, fmt.Errorf("specify -rsync SOURCE TARGET, -rsyncssh SOURCE HOST TARGETDIR, or a configuration file")
	}
}

// defaultExcludes are the patterns every "-rsync"/"-rsyncssh" shortcut sync
// carries out of the box, so the daemon is directly usable without a config
// file; a config-file sync controls its own exclude list instead.
var defaultExcludes = []string{".git/", "*~"}

func rsyncSpec(name, source, target string, opts action.RsyncConfig) resolvedSync {
	return resolvedSync{
		source:  source,
		exclude: defaultExcludes,
		syncConfig: sync.Config{
			Name:   name,
			Source: source,
			Target: target,
			Delay:  15 * time.Second,
			Action: action.RsyncAction(opts),
			Init:   action.RsyncInit(opts),
			Collect: func(agent sync.Agent, exitCode int) sync.CollectResult {
				return action.RsyncCollect(agent, exitCode)
			},
		},
	}
}

func rsyncsshSpec(name, source, host, targetDir string, ssh action.SSHOptions) resolvedSync {
	cfg := action.RsyncsshConfig{Host: host, SSH: ssh}
	return resolvedSync{
		source:  source,
		exclude: defaultExcludes,
		syncConfig: sync.Config{
			Name:   name,
			Source: source,
			Target: targetDir,
			Delay:  15 * time.Second,
			Action: action.RsyncsshAction(cfg),
			Init:   action.RsyncsshInit(cfg),
			Collect: func(agent sync.Agent, exitCode int) sync.CollectResult {
				return action.RsyncCollect(agent, exitCode)
			},
		},
	}
}

func specsFromFile(file *config.File) ([]resolvedSync, error) {
	var out []resolvedSync
	for _, s := range file.Syncs {
		base := action.RsyncConfig{Flags: s.RsyncFlags}

		var resolved resolvedSync
		switch s.Action {
		case "", "rsync":
			resolved = rsyncSpec(s.Name, s.Source, s.Target, base)
		case "rsyncssh":
			ssh := action.SSHOptions{Port: s.SSHPort, IdentityFile: s.SSHIdentityFile}
			resolved = rsyncsshSpec(s.Name, s.Source, s.Host, s.Target, ssh)
		default:
			return nil, fmt.Errorf("sync %q: unrecognized action %q", s.Name, s.Action)
		}

		resolved.syncConfig.Delay = s.Delay()
		resolved.syncConfig.MaxProcesses = s.MaxProcesses
		resolved.syncConfig.MaxDelays = s.MaxDelays
		resolved.exclude = s.Exclude
		resolved.excludeFrom = s.ExcludeFrom

		out = append(out, resolved)
	}
	return out, nil
}

func writePidfile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func main() {
	cmd.HandleTerminalCompatibility()

	root := &cobra.Command{
		Use:          "lsyncd [CONFIG-FILE]",
		Short:        "Live mirror directory trees via rsync",
		Args:         cobra.MaximumNArgs(3),
		SilenceUsage: true,
		RunE:         rootMain,
	}

	root.Flags().StringVar(&flags.log, "log", "", "enable logging for CATEGORY (or \"all\"/\"scarce\")")
	root.Flags().StringVar(&flags.logfile, "logfile", "", "log to PATH instead of standard output")
	root.Flags().BoolVar(&flags.monitor, "monitor", false, "show a live, continuously updating status line")
	root.Flags().BoolVar(&flags.nodaemon, "nodaemon", false, "do not detach from the controlling terminal")
	root.Flags().StringVar(&flags.pidfile, "pidfile", "", "write the daemon's pid to PATH")
	root.Flags().StringVar(&flags.runner, "runner", "", "path to an external script to run for every change instead of rsync")
	root.Flags().BoolVar(&flags.version, "version", false, "print the version and exit")
	root.Flags().BoolVar(&flags.rsync, "rsync", false, "mirror SOURCE to TARGET via rsync (two positional arguments)")
	root.Flags().BoolVar(&flags.rsyncssh, "rsyncssh", false, "mirror SOURCE to HOST:TARGETDIR via rsync+ssh (three positional arguments)")

	if err := root.Execute(); err != nil {
		cmd.Fatal(err)
	}
}
