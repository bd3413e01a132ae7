package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Env reads typed settings through a LookupFunc. Unset or empty variables
// take their defaults. A malformed variable also yields its default and is
// recorded, so every bad setting can be reported at once through Err.
type Env struct {
	lookup LookupFunc
	errs   []error
}

// NewEnv returns an Env reading through lookup, or the process environment
// when lookup is nil.
func NewEnv(lookup LookupFunc) *Env {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Env{lookup: lookup}
}

// String returns the raw value of key.
func (e *Env) String(key, defaultVal string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return defaultVal
}

func (e *Env) Int(key string, defaultVal int) int {
	return parse(e, key, defaultVal, "integer", strconv.Atoi)
}

func (e *Env) Float(key string, defaultVal float64) float64 {
	return parse(e, key, defaultVal, "number", func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

func (e *Env) Bool(key string, defaultVal bool) bool {
	return parse(e, key, defaultVal, "boolean", strconv.ParseBool)
}

func (e *Env) Duration(key string, defaultVal time.Duration) time.Duration {
	return parse(e, key, defaultVal, "duration", time.ParseDuration)
}

// Err joins every malformed-variable error seen so far.
func (e *Env) Err() error {
	return errors.Join(e.errs...)
}

func parse[T any](e *Env, key string, defaultVal T, kind string, fn func(string) (T, error)) T {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return defaultVal
	}
	out, err := fn(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", key, v, kind))
		return defaultVal
	}
	return out
}
