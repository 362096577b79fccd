// Package config holds the coordinator/store settings. No third-party
// config-loading library appears anywhere in the retrieved reference
// corpus, so settings are parsed from environment variables with the
// standard library only (see DESIGN.md).
package config

import (
	"os"
	"strconv"
	"time"
)

// Settings controls the coordinator, log store, and diagnostics.
type Settings struct {
	// Dir is the directory a file-backed log store owns. Empty selects
	// an in-memory store instead.
	Dir string

	// ThreadAffine selects the coordinator's concurrency model: true
	// binds BeginTransaction to the caller-supplied key (spec §5); false
	// hands back a fresh base transaction every call.
	ThreadAffine bool

	// RecoverCorrupt, if true, lets Start proceed past a Corrupt scan
	// by deleting unreadable logs; if false, Start fails outright.
	RecoverCorrupt bool

	// StopTimeout bounds how long Stop(wait=true) polls for the active
	// set to drain before forcing a close.
	StopTimeout time.Duration

	// RecoveryFanout bounds how many orphan transactions are recovered
	// concurrently by the errgroup-driven recovery walk.
	RecoveryFanout int

	// Development selects zap's development logger (console-friendly,
	// synchronous) over its production logger (JSON, sampled).
	Development bool
}

// Default returns the settings used when no environment overrides are
// present.
func Default() Settings {
	return Settings{
		ThreadAffine:   true,
		RecoverCorrupt: false,
		StopTimeout:    30 * time.Second,
		RecoveryFanout: 4,
		Development:    false,
	}
}

// Load builds Settings from Default(), overridden by any of the
// TXLOG_DIR, TXLOG_THREAD_AFFINE, TXLOG_RECOVER_CORRUPT,
// TXLOG_STOP_TIMEOUT, TXLOG_RECOVERY_FANOUT, TXLOG_DEVELOPMENT
// environment variables that are set.
func Load() Settings {
	s := Default()
	if v, ok := os.LookupEnv("TXLOG_DIR"); ok {
		s.Dir = v
	}
	if v, ok := lookupBool("TXLOG_THREAD_AFFINE"); ok {
		s.ThreadAffine = v
	}
	if v, ok := lookupBool("TXLOG_RECOVER_CORRUPT"); ok {
		s.RecoverCorrupt = v
	}
	if v, ok := os.LookupEnv("TXLOG_STOP_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			s.StopTimeout = d
		}
	}
	if v, ok := os.LookupEnv("TXLOG_RECOVERY_FANOUT"); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.RecoveryFanout = n
		}
	}
	if v, ok := lookupBool("TXLOG_DEVELOPMENT"); ok {
		s.Development = v
	}
	return s
}

func lookupBool(key string) (bool, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
