// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/vigil/internal/logger"
	"github.com/woozymasta/vigil/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"VIGIL"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"VIGIL_DB"`
	Ingest    Ingest        `group:"Ingest Options" namespace:"ingest" env-namespace:"VIGIL_INGEST"`
	Identity  Identity      `group:"Identity Options" namespace:"identity" env-namespace:"VIGIL_IDENTITY"`
	Pattern   Pattern       `group:"Activity Pattern Options" namespace:"pattern" env-namespace:"VIGIL_PATTERN"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"VIGIL_GEOIP"`
	A2S       A2S           `group:"A2S Options" namespace:"a2s" env-namespace:"VIGIL_A2S"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"VIGIL_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"VIGIL_LOG"`
	Tasks     Tasks         `group:"One-shot Tasks"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address    string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken  string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"API authentication token"`
	TrustProxy bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	PageSize   int    `long:"page-size" env:"PAGE_SIZE" description:"Default list page size" default:"100"`
}

// Storage holds database configuration.
type Storage struct {
	Path string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"vigil.db"`
}

// Ingest controls how a cycle is processed.
type Ingest struct {
	// betteralign:ignore

	Workers     int           `long:"workers" env:"WORKERS" description:"Servers processed in parallel" default:"8"`
	Attempts    int           `long:"attempts" env:"ATTEMPTS" description:"Attempts per transient failure" default:"4"`
	InitialWait time.Duration `long:"backoff" env:"BACKOFF" description:"First retry delay, doubled per attempt" default:"100ms"`
	MaxWait     time.Duration `long:"max-backoff" env:"MAX_BACKOFF" description:"Retry delay cap" default:"2s"`
	OpTimeout   time.Duration `long:"op-timeout" env:"OP_TIMEOUT" description:"Timeout of a single storage attempt" default:"10s"`
}

// Identity tunes migration detection.
type Identity struct {
	// betteralign:ignore

	SilenceWindow time.Duration `long:"silence-window" env:"SILENCE_WINDOW" description:"A server unseen this long is stale" default:"48h"`
	Lookback      time.Duration `long:"lookback" env:"LOOKBACK" description:"Oldest stale server considered a candidate" default:"720h"`
	AutoConfirm   float64       `long:"auto-confirm" env:"AUTO_CONFIRM" description:"Similarity confirmed without review" default:"0.85"`
	Review        float64       `long:"review" env:"REVIEW" description:"Minimum similarity proposed for review" default:"0.55"`
	MissionBoost  float64       `long:"mission-boost" env:"MISSION_BOOST" description:"Bonus for a shared mission campaign" default:"0.10"`
}

// Pattern tunes activity analysis.
type Pattern struct {
	// betteralign:ignore

	Timezone   string        `long:"timezone" env:"TIMEZONE" description:"IANA zone of the weekly grid" default:"America/New_York"`
	History    time.Duration `long:"history" env:"HISTORY" description:"Snapshot history analyzed" default:"720h"`
	MinSamples int           `long:"min-samples" env:"MIN_SAMPLES" description:"Snapshots required for a pattern" default:"24"`
	MinDays    int           `long:"min-days" env:"MIN_DAYS" description:"Distinct days required for a pattern" default:"3"`
	Multiplier float64       `long:"active-multiplier" env:"ACTIVE_MULTIPLIER" description:"Mean above baseline at which an hour is active" default:"1.5"`
	Workers    int           `long:"workers" env:"WORKERS" description:"Patterns recomputed in parallel" default:"4"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"vigil.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// A2S holds Source Query protocol configuration.
type A2S struct {
	// betteralign:ignore

	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" description:"Query timeout" default:"3s"`
	BufferSize uint16        `long:"buffer-size" env:"BUFFER_SIZE" description:"Response body buffer size" default:"1400"`
	Workers    int           `long:"workers" env:"WORKERS" description:"Parallel queries" default:"16"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Per IP limit: requests count" default:"60"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Per IP limit: window duration" default:"1m"`
}

// Tasks select a one-shot mode instead of serving the API.
type Tasks struct {
	// betteralign:ignore

	Input             string `short:"i" long:"input" description:"Ingest one scraper JSON file or archive as a cycle"`
	Restore           string `long:"restore" description:"Replay a backup file or directory, one cycle per file"`
	ArchiveStats      string `long:"archive-stats" description:"Print statistics of a backup directory"`
	Probe             bool   `long:"probe" description:"Re-query known servers over A2S and ingest the answers as a cycle"`
	RecomputePatterns bool   `long:"recompute-patterns" description:"Recompute activity patterns of all servers"`
	GenerateHours     int    `long:"gen-fake-cycles" hidden:"true"`
	GenerateOut       string `long:"gen-fake-out" hidden:"true"`
}

// Any reports whether a one-shot task was requested.
func (t Tasks) Any() bool {
	return t.Input != "" || t.Restore != "" || t.ArchiveStats != "" ||
		t.Probe || t.RecomputePatterns || t.GenerateHours > 0
}

// Location loads the configured pattern timezone.
func (p Pattern) Location() (*time.Location, error) {
	return time.LoadLocation(p.Timezone)
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print()
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return &cfg
}

// Validate checks values go-flags cannot express in tags.
func (c *Config) Validate() error {
	if !c.Tasks.Any() && c.Server.AuthToken == "" {
		return fmt.Errorf("required flag `-t, --auth-token' or environment variable `VIGIL_AUTH_TOKEN` was not specified")
	}

	if c.Identity.Review <= 0 || c.Identity.Review > c.Identity.AutoConfirm || c.Identity.AutoConfirm > 1 {
		return fmt.Errorf("similarity thresholds must satisfy 0 < review (%.2f) <= auto-confirm (%.2f) <= 1",
			c.Identity.Review, c.Identity.AutoConfirm)
	}

	if _, err := c.Pattern.Location(); err != nil {
		return fmt.Errorf("pattern timezone %q: %w", c.Pattern.Timezone, err)
	}

	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest workers must be positive, got %d", c.Ingest.Workers)
	}

	return nil
}
