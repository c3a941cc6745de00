// Package config declares the engine's pflag-bindable configuration,
// in the two-phase Bind/Preflight shape used throughout the teacher's
// own config types (e.g. internal/source/server.Config).
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the engine-level configuration surface (spec §4.6,
// "AMBIENT STACK / Configuration").
type Config struct {
	// DefaultTTL is the retention applied to a materialized query when
	// its caller does not specify one.
	DefaultTTL time.Duration

	// DefaultQueryComplete, when set, makes the lifecycle manager
	// synthesize ResultType complete immediately on materialize rather
	// than waiting on a channel "got" signal (e.g. for local-only
	// deployments with no server round-trip).
	DefaultQueryComplete bool

	// FlushInterval throttles how often queued QueriesPatch operations
	// are flushed to the server channel.
	FlushInterval time.Duration

	// SlowMaterializeThreshold is the duration above which a
	// materialize call is logged as a warning.
	SlowMaterializeThreshold time.Duration
}

// Bind registers flags on flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.DurationVar(
		&c.DefaultTTL,
		"defaultQueryTTL",
		time.Minute,
		"the retention applied to a materialized query when no explicit TTL is given")
	flags.BoolVar(
		&c.DefaultQueryComplete,
		"defaultQueryComplete",
		false,
		"synthesize ResultType complete immediately on materialize instead of waiting on the server channel")
	flags.DurationVar(
		&c.FlushInterval,
		"flushInterval",
		10*time.Millisecond,
		"how often queued query-registration changes are flushed to the server channel")
	flags.DurationVar(
		&c.SlowMaterializeThreshold,
		"slowMaterializeThreshold",
		5*time.Second,
		"log a warning when a query takes longer than this to materialize")
}

// Preflight validates the configuration; it does not fill in defaults
// (Bind's flag defaults do that).
func (c *Config) Preflight() error {
	if c.DefaultTTL < 0 {
		return errors.New("defaultQueryTTL must not be negative")
	}
	if c.FlushInterval <= 0 {
		return errors.New("flushInterval must be positive")
	}
	if c.SlowMaterializeThreshold < 0 {
		return errors.New("slowMaterializeThreshold must not be negative")
	}
	return nil
}
