package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/config"
	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/logging"
	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/stats"
	"github.com/papapumpkin/contestguard/internal/ui"
	"github.com/papapumpkin/contestguard/internal/upstream"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg      config.Config
	loc      *time.Location
	weekly   contest.Family
	biweekly contest.Family

	logger   *httplog.Logger
	printer  *ui.Printer
	client   *upstream.Client
	resolver *contest.Resolver
}

// loadApp loads and validates configuration and builds the upstream client.
func loadApp(cmd *cobra.Command) (*app, error) {
	printer := ui.New()

	cfg, err := config.Load()
	if err != nil {
		printer.Error(err.Error())
		return nil, err
	}
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		printer.Error(err.Error())
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	weekly, biweekly, err := cfg.Families()
	if err != nil {
		printer.Error(err.Error())
		return nil, err
	}

	logger := logging.New("contestguard", cfg.Log)
	client := upstream.New(cfg.Upstream, cfg.Retry, upstream.WithLogger(logger.Logger))

	return &app{
		cfg:      cfg,
		loc:      loc,
		weekly:   weekly,
		biweekly: biweekly,
		logger:   logger,
		printer:  printer,
		client:   client,
		resolver: contest.NewResolver(client, cfg.Scan, logger.Logger),
	}, nil
}

// family returns the contest family called name.
func (a *app) family(name string) (contest.Family, error) {
	switch name {
	case a.weekly.Name:
		return a.weekly, nil
	case a.biweekly.Name:
		return a.biweekly, nil
	}
	return contest.Family{}, fmt.Errorf("unknown contest family %q (want %s or %s)", name, a.weekly.Name, a.biweekly.Name)
}

func (a *app) openSheet(ctx context.Context) (*sheet.Sheet, error) {
	if err := a.cfg.ValidateSheet(); err != nil {
		return nil, err
	}
	return sheet.Open(ctx, a.cfg.Sheet, a.cfg.Retry, a.logger.Logger)
}

// statsColumns converts the configured column letters.
func (a *app) statsColumns() (stats.Columns, error) {
	solved, err := sheet.ColumnIndex(a.cfg.Stats.SolvedColumn)
	if err != nil {
		return stats.Columns{}, fmt.Errorf("stats.solved_column: %w", err)
	}
	rating, err := sheet.ColumnIndex(a.cfg.Stats.RatingColumn)
	if err != nil {
		return stats.Columns{}, fmt.Errorf("stats.rating_column: %w", err)
	}
	return stats.Columns{Solved: solved, Rating: rating}, nil
}

// archives holds the configured backup sinks.
type archives struct {
	db   *archive.SQLite
	sink archive.Sink
}

// openArchives opens the local database and, when a bucket is configured,
// the S3 sink. Both are optional.
func openArchives(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*archives, error) {
	a := &archives{}
	var tee archive.Tee
	if cfg.Path != "" {
		db, err := archive.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		a.db = db
		tee = append(tee, db)
	}
	if cfg.S3.Bucket != "" {
		s, err := archive.NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		logger.Info("archiving runs to s3", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
		tee = append(tee, s)
	}
	switch len(tee) {
	case 0:
	case 1:
		a.sink = tee[0]
	default:
		a.sink = tee
	}
	return a, nil
}

func (a *archives) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
