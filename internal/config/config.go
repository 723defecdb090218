package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Hive       HiveConfig    `mapstructure:"hive"`
	Wasp       WaspConfig    `mapstructure:"wasp"`
	Client     ClientConfig  `mapstructure:"client"`
	Log        LogConfig     `mapstructure:"log"`
	Tracing    TracingConfig `mapstructure:"tracing"`
	ConfigFile string        `mapstructure:"-"`
}

type HiveConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	GracePeriod     time.Duration `mapstructure:"grace_period"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	FanoutLimit     int           `mapstructure:"fanout_limit"`
	LocalPortBase   int           `mapstructure:"local_port_base"`
	LocalPortFloor  int           `mapstructure:"local_port_floor"`
	SpawnInterval   time.Duration `mapstructure:"spawn_interval"`
	WaspBinary      string        `mapstructure:"wasp_binary"`
	PublicURL       string        `mapstructure:"public_url"`
}

// Addr is the listen address.
func (h HiveConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

// URL is the base URL handed to locally spawned wasps.
func (h HiveConfig) URL() string {
	if h.PublicURL != "" {
		return withSlash(h.PublicURL)
	}
	return fmt.Sprintf("http://127.0.0.1:%d/", h.Port)
}

type WaspConfig struct {
	HiveURL           string        `mapstructure:"hive_url"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	AdvertiseHost     string        `mapstructure:"advertise_host"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	CheckinAttempts   int           `mapstructure:"checkin_attempts"`
	WrkPath           string        `mapstructure:"wrk_path"`
}

func (w WaspConfig) Addr() string {
	return net.JoinHostPort(w.Host, strconv.Itoa(w.Port))
}

type ClientConfig struct {
	HiveURL      string        `mapstructure:"hive_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// TracingConfig enables OTLP export when an endpoint is set.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
	Propagate   *bool   `mapstructure:"propagate"`
}

func (t TracingConfig) Enabled() bool {
	return t.Endpoint != ""
}

// ShouldPropagate reports whether W3C trace headers go out on hive/wasp calls.
// Propagation follows Enabled unless explicitly turned off.
func (t TracingConfig) ShouldPropagate() bool {
	if !t.Enabled() {
		return false
	}
	return t.Propagate == nil || *t.Propagate
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

// ValidateHive checks the settings the controller needs.
func (c Config) ValidateHive() error {
	issues := c.commonIssues()
	h := c.Hive
	issues = append(issues, portIssue("hive.port", h.Port)...)
	issues = append(issues, positive("hive.monitor_interval", h.MonitorInterval)...)
	issues = append(issues, positive("hive.request_timeout", h.RequestTimeout)...)
	if h.GracePeriod < 0 {
		issues = append(issues, "hive.grace_period must not be negative")
	}
	if h.SpawnInterval < 0 {
		issues = append(issues, "hive.spawn_interval must not be negative")
	}
	if h.FanoutLimit < 1 {
		issues = append(issues, "hive.fanout_limit must be at least 1")
	}
	issues = append(issues, portIssue("hive.local_port_base", h.LocalPortBase)...)
	issues = append(issues, portIssue("hive.local_port_floor", h.LocalPortFloor)...)
	if h.LocalPortFloor > h.LocalPortBase {
		issues = append(issues, fmt.Sprintf("hive.local_port_floor (%d) must not exceed hive.local_port_base (%d)", h.LocalPortFloor, h.LocalPortBase))
	}
	if h.PublicURL != "" {
		issues = append(issues, urlIssue("hive.public_url", h.PublicURL)...)
	}
	return asError(issues)
}

// ValidateWasp checks the settings an agent needs.
func (c Config) ValidateWasp() error {
	issues := c.commonIssues()
	w := c.Wasp
	if strings.TrimSpace(w.HiveURL) == "" {
		issues = append(issues, "wasp.hive_url is required (--hive-url or WWB_HIVE_URL)")
	} else {
		issues = append(issues, urlIssue("wasp.hive_url", w.HiveURL)...)
	}
	issues = append(issues, portIssue("wasp.port", w.Port)...)
	issues = append(issues, positive("wasp.heartbeat_interval", w.HeartbeatInterval)...)
	if w.CheckinAttempts < 1 {
		issues = append(issues, "wasp.checkin_attempts must be at least 1")
	}
	return asError(issues)
}

// ValidateClient checks the settings operator commands need.
func (c Config) ValidateClient() error {
	issues := c.commonIssues()
	issues = append(issues, urlIssue("client.hive_url", c.Client.HiveURL)...)
	issues = append(issues, positive("client.poll_interval", c.Client.PollInterval)...)
	return asError(issues)
}

func (c Config) commonIssues() []string {
	var issues []string
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", c.Tracing.SampleRate))
	}
	return issues
}

func portIssue(name string, port int) []string {
	if port < 1 || port > 65535 {
		return []string{fmt.Sprintf("%s must be between 1 and 65535, got %d", name, port)}
	}
	return nil
}

func positive(name string, d time.Duration) []string {
	if d <= 0 {
		return []string{fmt.Sprintf("%s must be positive, got %s", name, d)}
	}
	return nil
}

func urlIssue(name, raw string) []string {
	u, err := url.Parse(raw)
	if err != nil {
		return []string{fmt.Sprintf("%s: %v", name, err)}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []string{fmt.Sprintf("%s must be an absolute http(s) URL, got %q", name, raw)}
	}
	return nil
}

func asError(issues []string) error {
	if len(issues) == 0 {
		return nil
	}
	return ValidationError{issues: issues}
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
