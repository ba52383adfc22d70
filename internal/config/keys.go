package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrUnknownKey is returned for keys that are not part of Config.
var ErrUnknownKey = errors.New("unknown config key")

// Keys returns every settable key in display order.
func Keys() []string {
	return []string{
		"store.path",
		"journal.path",
		"log.path",
		"loop.poll_interval",
		"loop.max_iterations",
		"driver.schedule",
		"driver.parallelism",
		"signals.dir",
	}
}

// Get returns the value of key formatted as a string.
func Get(cfg *Config, key string) (string, error) {
	switch key {
	case "store.path":
		return cfg.Store.Path, nil
	case "journal.path":
		return cfg.Journal.Path, nil
	case "log.path":
		return cfg.Log.Path, nil
	case "loop.poll_interval":
		return cfg.Loop.PollInterval.String(), nil
	case "loop.max_iterations":
		return strconv.Itoa(cfg.Loop.MaxIterations), nil
	case "driver.schedule":
		return cfg.Driver.Schedule, nil
	case "driver.parallelism":
		return strconv.Itoa(cfg.Driver.Parallelism), nil
	case "signals.dir":
		return cfg.Signals.Dir, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set parses value and assigns it to key, then validates the result.
func Set(cfg *Config, key, value string) error {
	next := *cfg
	switch key {
	case "store.path":
		next.Store.Path = value
	case "journal.path":
		next.Journal.Path = value
	case "log.path":
		next.Log.Path = value
	case "loop.poll_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		next.Loop.PollInterval = d
	case "loop.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		next.Loop.MaxIterations = n
	case "driver.schedule":
		next.Driver.Schedule = value
	case "driver.parallelism":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		next.Driver.Parallelism = n
	case "signals.dir":
		next.Signals.Dir = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*cfg = next
	return nil
}
