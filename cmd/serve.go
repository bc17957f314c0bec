package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/contestguard/internal/config"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/scheduler"
	"github.com/papapumpkin/contestguard/internal/stats"
	"github.com/papapumpkin/contestguard/internal/statusapi"
	"github.com/papapumpkin/contestguard/internal/telemetry"
	"github.com/papapumpkin/contestguard/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until interrupted",
	Long: "serve wakes at the top of every minute and fires the daily stats refresh, the weekly " +
		"reconciliation and the biweekly reconciliation inside their configured windows.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("now", false, "process the latest completed contests once and exit")
	serveCmd.Flags().Bool("test", false, "alias for --now")
	serveCmd.Flags().Bool("dry-run", false, "log results without writing the sheet or the ledger")
	_ = serveCmd.Flags().MarkHidden("test")
	_ = viper.BindPFlag("dry_run", serveCmd.Flags().Lookup("dry-run"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := setupSignalContext(a.printer)
	defer cancel()

	opts, err := engineOptions(a)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}

	sh, err := a.openSheet(ctx)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	cols, err := a.statsColumns()
	if err != nil {
		return err
	}

	arc, err := openArchives(ctx, a.cfg.Archive, a.logger.Logger)
	if err != nil {
		return err
	}
	defer closeLogged(a.logger.Logger, "archive", arc.Close)
	if arc.db != nil && a.cfg.Archive.Retention > 0 {
		n, err := arc.db.Prune(ctx, time.Now().Add(-a.cfg.Archive.Retention))
		if err != nil {
			a.logger.Warn("pruning archive", "error", err)
		} else if n > 0 {
			a.logger.Info("pruned archived runs", "runs", n, "retention", a.cfg.Archive.Retention.String())
		}
	}

	var emitter *telemetry.Emitter
	if a.cfg.TelemetryFile != "" {
		if emitter, err = telemetry.NewEmitter(a.cfg.TelemetryFile); err != nil {
			return err
		}
		defer closeLogged(a.logger.Logger, "telemetry", emitter.Close)
	}

	led := ledger.Open(a.cfg.StateFile, a.loc, a.logger.Logger)

	var engine *scheduler.Engine
	refresher := stats.NewRefresher(a.client, sh, cols, func() time.Duration { return engine.Delay() }, a.logger.Logger)
	engine, err = scheduler.New(opts, scheduler.Deps{
		Resolver:  a.resolver,
		Evaluator: evaluate.New(a.client),
		Roster:    sh,
		Ledger:    led,
		Stats:     refresher,
		Archive:   arc.sink,
		Telemetry: emitter,
		Logger:    a.logger.Logger,
	})
	if err != nil {
		return err
	}

	now, _ := cmd.Flags().GetBool("now")
	if test, _ := cmd.Flags().GetBool("test"); test {
		now = true
	}
	if now {
		return runOnce(ctx, engine, a.printer)
	}

	watchConfig(engine, a.logger.Logger)

	if a.cfg.StatusAPI.Enabled {
		var runs statusapi.RunLister
		if arc.db != nil {
			runs = arc.db
		}
		srv := statusapi.New(statusapi.Options{
			Addr:           a.cfg.StatusAPI.Addr,
			AllowedOrigins: a.cfg.StatusAPI.AllowedOrigins,
		}, a.logger, engine, led, runs)
		go func() {
			a.logger.Info("status api listening", "addr", a.cfg.StatusAPI.Addr)
			if err := srv.ListenAndServe(ctx); err != nil {
				a.logger.Error("status api stopped", "error", err)
			}
		}()
	}

	return engine.Run(ctx)
}

// engineOptions parses the configured trigger windows.
func engineOptions(a *app) (scheduler.Options, error) {
	sc := a.cfg.Schedule
	windows := make([]scheduler.TimeWindow, 3)
	for i, w := range []config.Window{sc.Stats, sc.Weekly, sc.Biweekly} {
		tw, err := scheduler.ParseWindow(w.Weekday, w.Start, w.End)
		if err != nil {
			return scheduler.Options{}, fmt.Errorf("schedule: %w", err)
		}
		windows[i] = tw
	}
	return scheduler.Options{
		Location:       a.loc,
		Weekly:         a.weekly,
		Biweekly:       a.biweekly,
		StatsWindow:    windows[0],
		WeeklyWindow:   windows[1],
		BiweeklyWindow: windows[2],
		MinSinceEnd:    sc.MinSinceEnd,
		MaxSinceEnd:    sc.MaxSinceEnd,
		Delay:          a.cfg.ParticipantDelay,
		DryRun:         a.cfg.DryRun,
	}, nil
}

// runOnce processes both families immediately and prints their reports.
func runOnce(ctx context.Context, engine *scheduler.Engine, printer *ui.Printer) error {
	printer.Info("processing the latest completed contests")
	reports, err := engine.RunNow(ctx)
	for _, rep := range reports {
		printer.Report(rep)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printer.Warn("interrupted; unfinished contests will be retried")
		}
		return err
	}
	printer.Success("done")
	return nil
}

// watchConfig applies participant_delay and dry_run changes from the config
// file while the scheduler runs.
func watchConfig(engine *scheduler.Engine, logger *slog.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		applyReload(engine, logger, e.Name)
	})
	viper.WatchConfig()
}

func applyReload(engine *scheduler.Engine, logger *slog.Logger, file string) {
	delay := viper.GetDuration("participant_delay")
	if delay < 0 {
		logger.Warn("ignoring negative participant_delay", "file", file, "participant_delay", delay.String())
		delay = engine.Delay()
	}
	engine.SetDelay(delay)
	engine.SetDryRun(viper.GetBool("dry_run"))
	logger.Info("configuration reloaded",
		"file", file, "participant_delay", delay.String(), "dry_run", engine.DryRun())
}

// closeLogged runs closeFn at shutdown and logs a failure.
func closeLogged(logger *slog.Logger, what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn("closing "+what, "error", err)
	}
}

// setupSignalContext returns a context that is canceled on SIGINT or SIGTERM.
func setupSignalContext(printer *ui.Printer) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		printer.Info("\nshutting down...")
		cancel()
	}()
	return ctx, cancel
}
