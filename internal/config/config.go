// Package config holds the single configuration record from which
// cmd/filerepod derives the values (timeouts, flags, paths) it passes
// into each component constructor. Nothing in this module reads a
// package-level global or an ambient singleton, so a test can build the
// values in memory instead of going through flags or environment
// variables at all.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config mirrors the CLI/configuration surface of spec.md §6.
type Config struct {
	StorageBasePath string `mapstructure:"storage.base.path"`

	TimeoutLockMs       int `mapstructure:"timeout.lock.ms"`
	TimeoutSyncMs       int `mapstructure:"timeout.sync.ms"`
	TimeoutConnectionMs int `mapstructure:"timeout.connection.ms"`
	TimeoutReadMs       int `mapstructure:"timeout.read.ms"`

	IntervalHealthCheckSec int `mapstructure:"interval.health.check.sec"`
	IntervalCleanupSec     int `mapstructure:"interval.cleanup.sec"`

	RetryMaxAttempts int `mapstructure:"retry.max.attempts"`

	ConsensusRequireUnanimity bool `mapstructure:"consensus.require.unanimity"`
	ReplicationVerifyWrites   bool `mapstructure:"replication.verify.writes"`

	NetworkDefaultHost  string   `mapstructure:"network.default.host"`
	NetworkDefaultPorts []string `mapstructure:"-"`

	// Fault injection knobs (internal/faultinjector), not part of
	// spec.md §6's surface but configured the same way.
	FaultBaseDelayMs          int     `mapstructure:"fault.base.delay.ms"`
	FaultMaxDelayMs           int     `mapstructure:"fault.max.delay.ms"`
	FaultConnectionFailureRate float64 `mapstructure:"fault.connection.failure.rate"`
	FaultIncorrectResponseRate float64 `mapstructure:"fault.incorrect.response.rate"`
}

// Defaults returns the configuration used when no flags/env overrides
// are supplied. Every field here has a concrete, sane production value.
func Defaults() *Config {
	return &Config{
		StorageBasePath: "/tmp/filerepo",

		TimeoutLockMs:       2000,
		TimeoutSyncMs:       5000,
		TimeoutConnectionMs: 3000,
		TimeoutReadMs:       3000,

		IntervalHealthCheckSec: 5,
		IntervalCleanupSec:     30,

		RetryMaxAttempts: 3,

		ConsensusRequireUnanimity: false,
		ReplicationVerifyWrites:   false,

		NetworkDefaultHost:  "127.0.0.1",
		NetworkDefaultPorts: nil,

		FaultBaseDelayMs:           0,
		FaultMaxDelayMs:            0,
		FaultConnectionFailureRate: 0,
		FaultIncorrectResponseRate: 0,
	}
}

func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.TimeoutLockMs) * time.Millisecond
}

func (c *Config) SyncTimeout() time.Duration {
	return time.Duration(c.TimeoutSyncMs) * time.Millisecond
}

func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.TimeoutConnectionMs) * time.Millisecond
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.TimeoutReadMs) * time.Millisecond
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.IntervalHealthCheckSec) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.IntervalCleanupSec) * time.Second
}

// BindFlags registers every configuration field onto a pflag.FlagSet
// (cmd/filerepod uses it for its flag surface). The returned Config
// starts from Defaults(); call LoadEnv after Parse() to layer in
// environment variables via viper.
func BindFlags(fs *pflag.FlagSet) *Config {
	d := Defaults()

	fs.StringVar(&d.StorageBasePath, "storage.base.path", d.StorageBasePath, "parent directory for node stores")
	fs.IntVar(&d.TimeoutLockMs, "timeout.lock.ms", d.TimeoutLockMs, "distributed lock acquisition timeout")
	fs.IntVar(&d.TimeoutSyncMs, "timeout.sync.ms", d.TimeoutSyncMs, "fan-out sync timeout")
	fs.IntVar(&d.TimeoutConnectionMs, "timeout.connection.ms", d.TimeoutConnectionMs, "peer connect timeout")
	fs.IntVar(&d.TimeoutReadMs, "timeout.read.ms", d.TimeoutReadMs, "socket read timeout")
	fs.IntVar(&d.IntervalHealthCheckSec, "interval.health.check.sec", d.IntervalHealthCheckSec, "peer heartbeat interval")
	fs.IntVar(&d.IntervalCleanupSec, "interval.cleanup.sec", d.IntervalCleanupSec, "background cleanup interval")
	fs.IntVar(&d.RetryMaxAttempts, "retry.max.attempts", d.RetryMaxAttempts, "client retry attempts")
	fs.BoolVar(&d.ConsensusRequireUnanimity, "consensus.require.unanimity", d.ConsensusRequireUnanimity, "require unanimous lock grants instead of majority")
	fs.BoolVar(&d.ReplicationVerifyWrites, "replication.verify.writes", d.ReplicationVerifyWrites, "read back every write to verify it landed")
	fs.StringVar(&d.NetworkDefaultHost, "network.default.host", d.NetworkDefaultHost, "default bind host")

	fs.StringSliceVar(&d.NetworkDefaultPorts, "network.default.ports", d.NetworkDefaultPorts, "comma-separated default ports")

	fs.Float64Var(&d.FaultConnectionFailureRate, "fault.connection.failure.rate", 0, "fraction of votes dropped by the fault injector")
	fs.Float64Var(&d.FaultIncorrectResponseRate, "fault.incorrect.response.rate", 0, "fraction of votes corrupted by the fault injector")
	fs.IntVar(&d.FaultBaseDelayMs, "fault.base.delay.ms", 0, "minimum injected vote delay")
	fs.IntVar(&d.FaultMaxDelayMs, "fault.max.delay.ms", 0, "maximum injected vote delay")

	return d
}

// LoadEnv layers FILEREPO_-prefixed environment variables over cfg
// using viper, matching the teacher corpus's layered-config pattern
// (flags first, environment as override) without requiring a config
// file to exist.
func LoadEnv(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix("FILEREPO")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if v.IsSet("storage.base.path") {
		cfg.StorageBasePath = v.GetString("storage.base.path")
	}
	if v.IsSet("consensus.require.unanimity") {
		cfg.ConsensusRequireUnanimity = v.GetBool("consensus.require.unanimity")
	}
	if v.IsSet("replication.verify.writes") {
		cfg.ReplicationVerifyWrites = v.GetBool("replication.verify.writes")
	}
	if v.IsSet("retry.max.attempts") {
		cfg.RetryMaxAttempts = v.GetInt("retry.max.attempts")
	}
	return nil
}

// Validate checks the quorum-sensitive invariants the server refuses
// to start without.
func (c *Config) Validate() error {
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("retry.max.attempts must be >= 0, got %d", c.RetryMaxAttempts)
	}
	if c.StorageBasePath == "" {
		return fmt.Errorf("storage.base.path must not be empty")
	}
	return nil
}
