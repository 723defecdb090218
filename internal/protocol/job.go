// Package protocol defines the JSON payloads exchanged between the hive and its wasps.
package protocol

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	DefaultThreads     = 10
	DefaultConcurrency = 50
	DefaultDuration    = 30 * time.Second
	DefaultTimeout     = 2 * time.Second

	// MaxSeconds bounds d and timeout; larger values overflow time.Duration
	// arithmetic further down.
	MaxSeconds = 24 * 60 * 60
)

// ValidationError reports a malformed job request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// JobRequest is the wire form of a job, used both for /hive/poke and /fire.
// Omitted numeric fields are zero and receive defaults in Normalize.
type JobRequest struct {
	Target      string            `json:"target" yaml:"target"`
	Threads     int               `json:"t,omitempty" yaml:"t,omitempty"`
	Concurrency int               `json:"c,omitempty" yaml:"c,omitempty"`
	Duration    int               `json:"d,omitempty" yaml:"d,omitempty"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Script      string            `json:"script,omitempty" yaml:"script,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// JobSpec is a validated job with defaults applied.
type JobSpec struct {
	Target      string
	Threads     int
	Concurrency int
	Duration    time.Duration
	Timeout     time.Duration
	Script      string
	Headers     map[string]string
}

// Normalize validates the request and applies defaults. It is the only place
// defaults are applied.
func (r JobRequest) Normalize() (JobSpec, error) {
	target := strings.TrimSpace(r.Target)
	if err := ValidateTarget(target); err != nil {
		return JobSpec{}, err
	}

	ints := []struct {
		name string
		val  int
	}{
		{"t", r.Threads},
		{"c", r.Concurrency},
		{"d", r.Duration},
		{"timeout", r.Timeout},
	}
	for _, f := range ints {
		if f.val < 0 {
			return JobSpec{}, &ValidationError{Field: f.name, Reason: "must not be negative"}
		}
	}
	for _, f := range ints[2:] {
		if f.val > MaxSeconds {
			return JobSpec{}, &ValidationError{Field: f.name, Reason: fmt.Sprintf("must be at most %d seconds", MaxSeconds)}
		}
	}

	spec := JobSpec{
		Target:      target,
		Threads:     orDefault(r.Threads, DefaultThreads),
		Concurrency: orDefault(r.Concurrency, DefaultConcurrency),
		Duration:    DefaultDuration,
		Timeout:     DefaultTimeout,
		Script:      r.Script,
	}
	if r.Duration > 0 {
		spec.Duration = time.Duration(r.Duration) * time.Second
	}
	if r.Timeout > 0 {
		spec.Timeout = time.Duration(r.Timeout) * time.Second
	}
	if spec.Threads > spec.Concurrency {
		return JobSpec{}, &ValidationError{
			Field:  "t",
			Reason: fmt.Sprintf("threads (%d) cannot exceed concurrency (%d)", spec.Threads, spec.Concurrency),
		}
	}

	if len(r.Headers) > 0 {
		spec.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			key := strings.TrimSpace(k)
			if key == "" || strings.ContainsAny(key, "\r\n:") {
				return JobSpec{}, &ValidationError{Field: "headers", Reason: fmt.Sprintf("invalid header key %q", k)}
			}
			if strings.ContainsAny(v, "\r\n") {
				return JobSpec{}, &ValidationError{Field: "headers", Reason: fmt.Sprintf("invalid header value for %s", key)}
			}
			spec.Headers[http.CanonicalHeaderKey(key)] = v
		}
	}

	return spec, nil
}

// ValidateTarget checks that target is an absolute http(s) URL with a host.
func ValidateTarget(target string) error {
	if target == "" {
		return &ValidationError{Field: "target", Reason: "need a target, cant shoot into the darkness"}
	}
	u, err := url.Parse(target)
	if err != nil {
		return &ValidationError{Field: "target", Reason: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "target", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return &ValidationError{Field: "target", Reason: "missing host"}
	}
	return nil
}

// Request converts the normalized job back to its wire form.
func (s JobSpec) Request() JobRequest {
	return JobRequest{
		Target:      s.Target,
		Threads:     s.Threads,
		Concurrency: s.Concurrency,
		Duration:    int(s.Duration / time.Second),
		Timeout:     int(s.Timeout / time.Second),
		Script:      s.Script,
		Headers:     s.Headers,
	}
}

// HeaderLines returns headers as sorted "Key: value" lines.
func (s JobSpec) HeaderLines() []string {
	if len(s.Headers) == 0 {
		return nil
	}
	lines := make([]string, 0, len(s.Headers))
	for k, v := range s.Headers {
		lines = append(lines, k+": "+v)
	}
	sort.Strings(lines)
	return lines
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
