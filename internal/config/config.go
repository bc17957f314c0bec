package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/logging"
	"github.com/papapumpkin/contestguard/internal/retry"
	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/upstream"
)

// ErrMissing is returned by the validators when required settings are
// absent. The wrapping error names the missing keys.
var ErrMissing = errors.New("missing required configuration")

// FamilyConfig pins the cadence of one contest family.
type FamilyConfig struct {
	RefNumber int `mapstructure:"ref_number"`
	// RefTime is the RFC 3339 start time of occurrence RefNumber.
	RefTime   string `mapstructure:"ref_time"`
	MinNumber int    `mapstructure:"min_number"`
}

// Window is a recurring local time-of-day window. An empty Weekday means
// every day. Start and End are "HH:MM" and inclusive.
type Window struct {
	Weekday string `mapstructure:"weekday"`
	Start   string `mapstructure:"start"`
	End     string `mapstructure:"end"`
}

// ScheduleConfig holds the trigger windows.
type ScheduleConfig struct {
	Stats    Window `mapstructure:"stats"`
	Weekly   Window `mapstructure:"weekly"`
	Biweekly Window `mapstructure:"biweekly"`
	// MinSinceEnd and MaxSinceEnd bound how long ago the most recent
	// biweekly contest must have ended for the biweekly trigger to fire.
	MinSinceEnd time.Duration `mapstructure:"min_since_end"`
	MaxSinceEnd time.Duration `mapstructure:"max_since_end"`
}

// StatsConfig names the sheet columns the daily refresh writes.
type StatsConfig struct {
	SolvedColumn string `mapstructure:"solved_column"`
	RatingColumn string `mapstructure:"rating_column"`
}

// ArchiveConfig configures run backups.
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
	// Retention is how long local runs are kept; zero keeps them forever.
	Retention time.Duration     `mapstructure:"retention"`
	S3        archive.S3Options `mapstructure:"s3"`
}

// StatusAPIConfig configures the optional HTTP status endpoint.
type StatusAPIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Config holds all runtime configuration for contestguard.
// Values are populated from .contestguard.yaml, CONTESTGUARD_* env vars,
// and CLI flags.
type Config struct {
	TimeZone         string           `mapstructure:"timezone"`
	StateFile        string           `mapstructure:"state_file"`
	TelemetryFile    string           `mapstructure:"telemetry_file"`
	DryRun           bool             `mapstructure:"dry_run"`
	ParticipantDelay time.Duration    `mapstructure:"participant_delay"`
	Log              logging.Options  `mapstructure:"log"`
	Upstream         upstream.Options `mapstructure:"upstream"`
	Retry            retry.Policy     `mapstructure:"retry"`
	Scan             contest.Scan     `mapstructure:"scan"`
	Weekly           FamilyConfig     `mapstructure:"weekly"`
	Biweekly         FamilyConfig     `mapstructure:"biweekly"`
	Schedule         ScheduleConfig   `mapstructure:"schedule"`
	Sheet            sheet.Options    `mapstructure:"sheet"`
	Stats            StatsConfig      `mapstructure:"stats"`
	Archive          ArchiveConfig    `mapstructure:"archive"`
	StatusAPI        StatusAPIConfig  `mapstructure:"status_api"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags. The Sheets service
// account JSON may also be supplied in the SERVICE_JSON variable.
func Load() (Config, error) {
	viper.SetDefault("timezone", "Asia/Kolkata")
	viper.SetDefault("state_file", "contestguard.state.toml")
	viper.SetDefault("telemetry_file", "")
	viper.SetDefault("dry_run", false)
	viper.SetDefault("participant_delay", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", false)

	viper.SetDefault("upstream.contest_api", "https://leetcode.com/contest/api/info")
	viper.SetDefault("upstream.mirrors", []string{
		"https://alfa-pi.vercel.app",
		"https://alfa-weld.vercel.app",
		"https://alfa-nu.vercel.app",
	})
	viper.SetDefault("upstream.timeout", "15s")
	viper.SetDefault("upstream.user_agent", "contestguard/1.0")

	d := retry.Default()
	viper.SetDefault("retry.attempts", d.Attempts)
	viper.SetDefault("retry.initial", d.Initial)
	viper.SetDefault("retry.max", d.Max)
	viper.SetDefault("retry.multiplier", d.Multiplier)
	viper.SetDefault("retry.jitter", d.Jitter)
	viper.SetDefault("retry.max_hint_wait", d.MaxHintWait)

	s := contest.DefaultScan()
	viper.SetDefault("scan.span", s.Span)
	viper.SetDefault("scan.lookahead", s.Lookahead)

	for name, f := range map[string]contest.Family{"weekly": contest.Weekly(), "biweekly": contest.Biweekly()} {
		viper.SetDefault(name+".ref_number", f.RefNumber)
		viper.SetDefault(name+".ref_time", f.RefTime.Format(time.RFC3339))
		viper.SetDefault(name+".min_number", f.MinNumber)
	}

	viper.SetDefault("schedule.stats.weekday", "")
	viper.SetDefault("schedule.stats.start", "12:00")
	viper.SetDefault("schedule.stats.end", "12:01")
	viper.SetDefault("schedule.weekly.weekday", "sunday")
	viper.SetDefault("schedule.weekly.start", "09:34")
	viper.SetDefault("schedule.weekly.end", "09:35")
	viper.SetDefault("schedule.biweekly.weekday", "saturday")
	viper.SetDefault("schedule.biweekly.start", "21:34")
	viper.SetDefault("schedule.biweekly.end", "21:35")
	viper.SetDefault("schedule.min_since_end", "4m")
	viper.SetDefault("schedule.max_since_end", "2h")

	viper.SetDefault("sheet.spreadsheet_id", "")
	viper.SetDefault("sheet.tab", "Real data Leetcode")
	viper.SetDefault("sheet.credentials_file", "service.json")
	viper.SetDefault("sheet.credentials_json", "")
	viper.SetDefault("sheet.timeout", "30s")
	_ = viper.BindEnv("sheet.credentials_json", "CONTESTGUARD_SHEET_CREDENTIALS_JSON", "SERVICE_JSON")

	viper.SetDefault("stats.solved_column", "D")
	viper.SetDefault("stats.rating_column", "E")

	viper.SetDefault("archive.path", "contestguard.archive.db")
	viper.SetDefault("archive.retention", "0s")
	viper.SetDefault("archive.s3.bucket", "")
	viper.SetDefault("archive.s3.prefix", "contestguard")
	viper.SetDefault("archive.s3.region", "")
	viper.SetDefault("archive.s3.endpoint", "")

	viper.SetDefault("status_api.enabled", false)
	viper.SetDefault("status_api.addr", "127.0.0.1:8390")
	viper.SetDefault("status_api.allowed_origins", []string{})

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks settings every command needs.
func (c Config) Validate() error {
	var missing []string
	if c.TimeZone == "" {
		missing = append(missing, "timezone")
	}
	if c.Upstream.ContestAPI == "" {
		missing = append(missing, "upstream.contest_api")
	}
	if len(c.Upstream.Mirrors) == 0 {
		missing = append(missing, "upstream.mirrors")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ParticipantDelay < 0 {
		return fmt.Errorf("participant_delay must not be negative, got %s", c.ParticipantDelay)
	}
	if c.Archive.Retention < 0 {
		return fmt.Errorf("archive.retention must not be negative, got %s", c.Archive.Retention)
	}
	if c.Schedule.MinSinceEnd > c.Schedule.MaxSinceEnd {
		return fmt.Errorf("schedule.min_since_end %s exceeds schedule.max_since_end %s",
			c.Schedule.MinSinceEnd, c.Schedule.MaxSinceEnd)
	}
	return nil
}

// ValidateSheet checks the settings needed to reach the roster sheet.
func (c Config) ValidateSheet() error {
	var missing []string
	if c.Sheet.SpreadsheetID == "" {
		missing = append(missing, "sheet.spreadsheet_id")
	}
	if c.Sheet.Tab == "" {
		missing = append(missing, "sheet.tab")
	}
	if c.Sheet.CredentialsJSON == "" && c.Sheet.CredentialsFile == "" {
		missing = append(missing, "sheet.credentials_file (or SERVICE_JSON)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Location loads the configured time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Families returns the weekly and biweekly families with configured
// reference points applied.
func (c Config) Families() (weekly, biweekly contest.Family, err error) {
	weekly, err = c.Weekly.apply(contest.Weekly())
	if err != nil {
		return contest.Family{}, contest.Family{}, fmt.Errorf("weekly: %w", err)
	}
	biweekly, err = c.Biweekly.apply(contest.Biweekly())
	if err != nil {
		return contest.Family{}, contest.Family{}, fmt.Errorf("biweekly: %w", err)
	}
	return weekly, biweekly, nil
}

func (fc FamilyConfig) apply(f contest.Family) (contest.Family, error) {
	if fc.RefNumber > 0 {
		f.RefNumber = fc.RefNumber
	}
	if fc.RefTime != "" {
		t, err := time.Parse(time.RFC3339, fc.RefTime)
		if err != nil {
			return contest.Family{}, fmt.Errorf("parsing ref_time: %w", err)
		}
		f.RefTime = t
	}
	if fc.MinNumber > 0 {
		f.MinNumber = fc.MinNumber
	}
	return f, nil
}
