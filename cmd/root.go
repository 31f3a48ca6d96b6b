package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/northstar-wraith/wraith/config"
	"github.com/northstar-wraith/wraith/dispatch"
	"github.com/northstar-wraith/wraith/internal/cron"
	"github.com/northstar-wraith/wraith/internal/database"
	"github.com/northstar-wraith/wraith/loggers/cli"
	"github.com/northstar-wraith/wraith/metrics"
	"github.com/northstar-wraith/wraith/ports"
	"github.com/northstar-wraith/wraith/process"
	"github.com/northstar-wraith/wraith/router"
	"github.com/northstar-wraith/wraith/server"
	"github.com/northstar-wraith/wraith/system"
)

var (
	configPath  = config.DefaultLocation
	debug       = false
	watch       = false
	showVersion = false
)

var root = &cobra.Command{
	Use:   "wraith",
	Short: "Supervises a fleet of Northstar dedicated servers",
	Long: `wraith starts the servers described in its configuration file, restarts
them when they crash and keeps them running across its own restarts.`,
	Run: rootCmdRun,
}

func init() {
	root.PersistentFlags().BoolVar(&showVersion, "version", false, "show the version and exit")
	root.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run wraith in debug mode")
	root.Flags().BoolVar(&watch, "watch", false, "reload the configuration whenever the file changes")

	root.AddCommand(newRestoreCommand())
	root.AddCommand(newDiagnosticsCommand())
	root.AddCommand(versionCmd)
}

// readConfiguration loads the configuration file passed on the command line,
// or looks for one when no path was given.
func readConfiguration(cmd *cobra.Command) (*config.Configuration, error) {
	p := configPath
	if !cmd.Flags().Changed("config") {
		found, err := FindConfiguration()
		if err != nil {
			return nil, err
		}
		p = found
	}
	if s, err := os.Stat(p); err != nil {
		return nil, err
	} else if s.IsDir() {
		return nil, errors.New("cannot use directory as configuration file path")
	}
	return config.FromFile(p)
}

func rootCmdRun(cmd *cobra.Command, _ []string) {
	if showVersion {
		fmt.Println(system.Version)
		os.Exit(0)
	}

	c, err := readConfiguration(cmd)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			exitWithConfigurationNotice()
		}
		fmt.Fprintln(os.Stderr, colorstring.Color("[red][bold]Error:[reset] "+err.Error()))
		os.Exit(1)
	}
	if debug {
		c.Debug = true
	}
	config.Set(c)

	printLogo()
	if err := c.ConfigureDirectories(); err != nil {
		log.WithField("error", err).Fatal("failed to configure system directories for wraith")
		return
	}
	if err := configureLogging(c.LogPath(), c.Debug); err != nil {
		log.WithField("error", err).Fatal("failed to configure logging")
		return
	}
	log.WithField("path", c.Path()).Info("loading configuration from path")
	if c.Debug {
		log.Debug("running in debug mode")
	}

	// Only a single supervisor may own the fleet of a configuration file.
	lock := flock.New(c.LockPath())
	if ok, err := lock.TryLock(); err != nil {
		log.WithField("error", err).Fatal("failed to acquire instance lock")
		return
	} else if !ok {
		log.WithField("path", c.LockPath()).Fatal("another wraith instance is already running with this configuration")
		return
	}
	defer lock.Unlock()

	if err := run(c); err != nil {
		log.WithField("error", err).Fatal("wraith exited with an error")
	}
	log.Info("wraith has stopped")
}

func run(c *config.Configuration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Initialize(ctx)

	var history *database.History
	if err := database.Initialize(c.DatabasePath()); err != nil {
		log.WithField("error", err).Warn("failed to open the event database, server history will not be recorded")
	} else {
		history = database.NewHistory(database.Instance())
	}

	tracker := process.NewOSTracker()
	tracker.StopTimeout = c.StopTimeout()

	store := server.NewRestoreStore(c.RestorePath())
	manager := restore(ctx, store, tracker)

	opts := server.Options{
		Tracker:      tracker,
		Allocator:    ports.Allocator{Auth: c.AuthPorts, Game: c.GamePorts},
		PollInterval: c.PollInterval(),
		Resolve:      resolver(c.Path()),
		Store:        store,
	}
	if history != nil {
		opts.Recorder = history
	}
	if c.System.CheckHostPorts {
		opts.HostPorts = ports.InUse
	}
	if cd := c.System.CrashDetection; cd.Backoff {
		opts.CrashBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Duration(cd.InitialInterval) * time.Second
			b.MaxInterval = time.Duration(cd.MaxInterval) * time.Second
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		}
	}

	var schedule *cron.Schedule
	opts.OnReload = func(specs []config.ServerSpec) {
		if schedule == nil {
			return
		}
		if err := schedule.Sync(specs); err != nil {
			log.WithField("error", err).Warn("failed to schedule some server restarts")
		}
	}
	sup := server.NewSupervisor(opts, manager)

	var pruner cron.Pruner
	if history != nil {
		pruner = history
	}
	retention := time.Duration(c.System.HistoryRetention) * 24 * time.Hour
	schedule, err := cron.Scheduler(ctx, sup, pruner, retention)
	if err != nil {
		return err
	}
	schedule.Start()
	defer schedule.Stop()

	var g errgroup.Group
	g.Go(func() error {
		err := sup.Run(ctx)
		// Everything else only lives as long as the supervisor.
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Start every configured server, or pick up where the last instance left
	// off.
	res, err := sup.Reload(ctx)
	if err != nil {
		log.WithField("error", err).Error("failed to load servers from configuration")
	} else {
		logReload(res)
	}

	var d *dispatch.Dispatcher
	if history != nil {
		d = dispatch.New(sup, history)
	} else {
		d = dispatch.New(sup, nil)
	}
	go runConsole(ctx, d, os.Stdin, os.Stdout)

	if c.Api.Enabled {
		background(&g, "api", func() error {
			return serveApi(ctx, c, sup, history)
		})
	}
	if watch {
		background(&g, "watch", func() error {
			return watchConfiguration(ctx, c.Path(), sup)
		})
	}

	g.Go(func() error {
		return handleSignals(ctx, sup)
	})

	return g.Wait()
}

// restore attaches to the servers left running by the previous instance. A
// record that cannot be used is reported and wraith starts with an empty
// fleet.
func restore(ctx context.Context, store *server.RestoreStore, tracker process.Tracker) *server.Manager {
	rec, err := store.Read()
	if err != nil {
		if errors.Is(err, server.ErrRestoreNotFound) {
			return nil
		}
		log.WithField("path", store.Path).WithField("error", err).Warn("failed to read restore record, starting without it")
		return nil
	}
	log.WithFields(log.Fields{
		"path":        store.Path,
		"instance":    rec.Instance,
		"detached_at": rec.DetachedAt,
		"servers":     len(rec.Servers),
	}).Info("attaching to servers from restore record")
	m := server.Attach(ctx, rec, tracker)
	if err := store.Remove(); err != nil {
		log.WithField("error", err).Warn("failed to remove restore record")
	}
	return m
}

// resolver reads the configuration file again every time the servers are
// needed, so that reload and restart always use the latest settings.
func resolver(path string) func() ([]config.ServerSpec, error) {
	return func() ([]config.ServerSpec, error) {
		c, err := config.FromFile(path)
		if err != nil {
			return nil, err
		}
		// Settings that only apply at startup keep their original values.
		c.Debug = config.Get().Debug
		config.Set(c)
		return c.Specs()
	}
}

func logReload(res server.ReloadResult) {
	for _, name := range res.Started {
		log.WithField("server", name).Info("started server")
	}
	for name, err := range res.Failed {
		log.WithField("server", name).WithField("error", err).Error("failed to start server")
	}
}

func serveApi(ctx context.Context, c *config.Configuration, sup *server.Supervisor, history *database.History) error {
	var h dispatch.History
	if history != nil {
		h = history
	}
	s := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.Api.Host, c.Api.Port),
		Handler: router.Configure(sup, h, c.Api.Token),
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	log.WithFields(log.Fields{"host_address": c.Api.Host, "host_port": c.Api.Port}).Info("configuring internal webserver")
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "failed to configure HTTP server")
	}
	return nil
}

// background runs an optional service next to the supervisor. A service that
// fails is logged and never takes the supervisor down with it.
func background(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() error {
		if err := fn(); err != nil {
			log.WithField("service", name).WithField("error", err).Error("service stopped, wraith keeps supervising without it")
		}
		return nil
	})
}

// notifySignals subscribes to the signals that detach wraith from its servers.
var notifySignals = func() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// handleSignals detaches from the fleet when wraith is asked to stop, leaving
// every server running for the next instance. If the restore record cannot be
// written wraith keeps supervising. ctx must only be canceled once the
// supervisor has exited.
func handleSignals(ctx context.Context, sup *server.Supervisor) error {
	ch, stop := notifySignals()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			log.WithField("signal", sig.String()).Info("received signal, detaching from servers")
			_, err := sup.StopWraith(ctx)
			if err == nil || errors.Is(err, server.ErrSupervisorStopped) {
				return nil
			}
			log.WithField("error", err).Error("failed to write restore record, servers are still supervised")
		}
	}
}

// Execute calls cobra to handle cli commands
func Execute() error {
	return root.Execute()
}

// Configures the global logger so that we can call it from any location in
// the code without having to pass around a logger instance.
func configureLogging(logDir string, debug bool) error {
	p := filepath.Join(logDir, "wraith.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.WithMessage(err, "failed to open process log file")
	}

	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	log.SetHandler(multi.New(
		cli.Default,
		cli.New(w.File, false),
	))

	log.WithField("path", p).Info("writing log files to disk")

	return nil
}

// Prints the wraith logo, nothing special here!
func printLogo() {
	fmt.Fprintf(os.Stderr, colorstring.Color(`
[magenta][bold]                      _ _   _
[magenta][bold] __      ___ __ __ _(_) |_| |__
[magenta][bold] \ \ /\ / / '__/ _`+"`"+` | | __| '_ \
[magenta][bold]  \ V  V /| | | (_| | | |_| | | |
[magenta][bold]   \_/\_/ |_|  \__,_|_|\__|_| |_|[reset] [bold]v%s[reset]

Type "help" for a list of console commands.%s`), system.Version, "\n\n")
}

func exitWithConfigurationNotice() {
	fmt.Print(colorstring.Color(`
[_red_][white][bold]Error: Configuration File Not Found[reset]

wraith was not able to locate your configuration file, and therefore is not
able to start any servers.

Please create a wraith.toml (or wraith.yaml) file in the working directory,
set WRAITH_CONFIG, or provide the --config flag to use a custom location.

`))
	os.Exit(1)
}
