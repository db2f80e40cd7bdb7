// Package config holds the discover engine configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultPageSize          = 20
	DefaultUndoWindow        = 5 * time.Second
	DefaultLoadMoreThreshold = 0.8
	DefaultSideEffectTimeout = 5 * time.Second
	DefaultMaxInFlight       = 32
	DefaultCounterTopic      = "likes"
)

// Engine configures the client-side discover engine.
type Engine struct {
	// PageSize is the number of candidates requested per page.
	PageSize int
	// UndoWindow is how long the latest swipe stays undoable.
	UndoWindow time.Duration
	// LoadMoreThreshold is the sentinel visibility ratio that triggers a page load.
	LoadMoreThreshold float64
	// SideEffectTimeout bounds each recordActivity call.
	SideEffectTimeout time.Duration
	// MaxInFlightSideEffects caps concurrent side effects; extra ones are dropped.
	MaxInFlightSideEffects int
	// CounterTopic is the subscription topic of the live counter.
	CounterTopic string
}

// Default returns the default engine configuration.
func Default() Engine {
	return Engine{
		PageSize:               DefaultPageSize,
		UndoWindow:             DefaultUndoWindow,
		LoadMoreThreshold:      DefaultLoadMoreThreshold,
		SideEffectTimeout:      DefaultSideEffectTimeout,
		MaxInFlightSideEffects: DefaultMaxInFlight,
		CounterTopic:           DefaultCounterTopic,
	}
}

// Validate checks the configuration.
func (c Engine) Validate() error {
	var errs []error
	if c.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.PageSize))
	}
	if c.UndoWindow <= 0 {
		errs = append(errs, fmt.Errorf("undo window must be positive, got %s", c.UndoWindow))
	}
	if c.LoadMoreThreshold <= 0 || c.LoadMoreThreshold > 1 {
		errs = append(errs, fmt.Errorf("load-more threshold must be in (0,1], got %v", c.LoadMoreThreshold))
	}
	if c.SideEffectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("side effect timeout must be positive, got %s", c.SideEffectTimeout))
	}
	if c.MaxInFlightSideEffects <= 0 {
		errs = append(errs, fmt.Errorf("max in-flight side effects must be positive, got %d", c.MaxInFlightSideEffects))
	}
	if c.CounterTopic == "" {
		errs = append(errs, errors.New("counter topic is required"))
	}
	return errors.Join(errs...)
}

// Environment variables read by FromEnv.
const (
	EnvPageSize          = "DISCOVER_PAGE_SIZE"
	EnvUndoWindow        = "DISCOVER_UNDO_WINDOW"
	EnvLoadMoreThreshold = "DISCOVER_LOAD_MORE_THRESHOLD"
	EnvSideEffectTimeout = "DISCOVER_SIDE_EFFECT_TIMEOUT"
	EnvMaxInFlight       = "DISCOVER_MAX_IN_FLIGHT"
	EnvCounterTopic      = "DISCOVER_COUNTER_TOPIC"
)

// FromEnv overlays DISCOVER_* environment variables on base.
// Unset variables keep the base value.
func FromEnv(base Engine) (Engine, error) {
	c := base
	var errs []error

	if v := os.Getenv(EnvPageSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvPageSize, err))
		} else {
			c.PageSize = n
		}
	}
	if v := os.Getenv(EnvUndoWindow); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvUndoWindow, err))
		} else {
			c.UndoWindow = d
		}
	}
	if v := os.Getenv(EnvLoadMoreThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvLoadMoreThreshold, err))
		} else {
			c.LoadMoreThreshold = f
		}
	}
	if v := os.Getenv(EnvSideEffectTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvSideEffectTimeout, err))
		} else {
			c.SideEffectTimeout = d
		}
	}
	if v := os.Getenv(EnvMaxInFlight); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", EnvMaxInFlight, err))
		} else {
			c.MaxInFlightSideEffects = n
		}
	}
	if v := os.Getenv(EnvCounterTopic); v != "" {
		c.CounterTopic = v
	}

	if len(errs) > 0 {
		return base, errors.Join(errs...)
	}
	return c, nil
}

// LoadEnvFile loads environment variables from path if it exists.
// Existing environment variables are never overridden.
func LoadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// EnvOr returns the value of key, or def when unset.
func EnvOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
