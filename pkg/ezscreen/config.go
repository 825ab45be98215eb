package ezscreen

import (
	"runtime"
	"time"

	"github.com/himanishpuri/ezscreen/internal/retry"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/interference"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/outlier"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/recording"
	"github.com/himanishpuri/ezscreen/pkg/ezscreen/storage"
)

type Config struct {
	// SampleRate is the rate blocks are expected at. Zero accepts any rate.
	SampleRate float64
	Band       interference.Band
	Thresholds outlier.Thresholds
	Workers    int

	ClassifierTimeout time.Duration
	Retries           int
	Backoff           time.Duration
	MaxBackoff        time.Duration

	// DBPath is where the run ledger lives. Empty disables the ledger
	// unless one is given with WithLedger.
	DBPath     string
	Classifier Classifier
	Ledger     Ledger
	Logger     Logger
}

type Option func(*Config)

func WithSampleRate(rate float64) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

func WithBand(low, high float64) Option {
	return func(c *Config) {
		c.Band = interference.Band{Low: low, High: high}
	}
}

func WithPowerThreshold(t float64) Option {
	return func(c *Config) {
		c.Thresholds.Power = t
	}
}

func WithZScoreThreshold(t float64) Option {
	return func(c *Config) {
		c.Thresholds.ZScore = t
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithClassifierTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ClassifierTimeout = d
	}
}

// WithRetries sets how many extra attempts a failing classifier call gets.
func WithRetries(n int) Option {
	return func(c *Config) {
		c.Retries = n
	}
}

func WithBackoff(initial, max time.Duration) Option {
	return func(c *Config) {
		c.Backoff = initial
		c.MaxBackoff = max
	}
}

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithClassifier(cl Classifier) Option {
	return func(c *Config) {
		c.Classifier = cl
	}
}

func WithLedger(l Ledger) Option {
	return func(c *Config) {
		c.Ledger = l
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func (c *Config) retryPolicy() retry.Policy {
	return retry.Policy{
		Retries:    c.Retries,
		Backoff:    c.Backoff,
		MaxBackoff: c.MaxBackoff,
	}
}

func defaultConfig() *Config {
	return &Config{
		SampleRate:        recording.DefaultSampleRate,
		Band:              interference.PowerlineBand,
		Thresholds:        outlier.DefaultThresholds(),
		Workers:           runtime.GOMAXPROCS(0),
		ClassifierTimeout: 5 * time.Minute,
		Retries:           2,
		Backoff:           500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		DBPath:            storage.DefaultDBFile,
	}
}
