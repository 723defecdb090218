package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment override: hive.port is WWB_HIVE_PORT.
const EnvPrefix = "WWB"

// DefaultConfigPath is read when --config is not given and the file exists.
const DefaultConfigPath = "~/.wwb/config.yaml"

// keyAnnotation links a flag to the config key it overrides.
const keyAnnotation = "wwb.config.key"

// Loader layers defaults, the config file, environment and flags.
type Loader struct {
	defaultPath string
}

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{defaultPath: DefaultConfigPath}
}

// WithDefaultPath overrides the implicit config file location, for tests.
func (l *Loader) WithDefaultPath(path string) *Loader {
	l.defaultPath = path
	return l
}

// Load resolves the configuration. Flags registered through this package
// override the key they are bound to, but only when set on the command line.
func (l *Loader) Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// WWB_HIVE_URL is the shared name agents and operators use for the hive.
	if err := v.BindEnv("wasp.hive_url", "WWB_WASP_HIVE_URL", "WWB_HIVE_URL"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("client.hive_url", "WWB_CLIENT_HIVE_URL", "WWB_HIVE_URL"); err != nil {
		return nil, err
	}
	// No default, so AutomaticEnv alone would never surface it.
	if err := v.BindEnv("tracing.propagate"); err != nil {
		return nil, err
	}

	path, err := l.configPath(fs)
	if err != nil {
		return nil, err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			keys, ok := f.Annotations[keyAnnotation]
			if !ok || len(keys) == 0 || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(keys[0], f)
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFile = path
	if cfg.Wasp.HiveURL != "" {
		cfg.Wasp.HiveURL = withSlash(cfg.Wasp.HiveURL)
	}
	if cfg.Client.HiveURL != "" {
		cfg.Client.HiveURL = withSlash(cfg.Client.HiveURL)
	}
	return cfg, nil
}

func (l *Loader) configPath(fs *pflag.FlagSet) (string, error) {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			return f.Value.String(), nil
		}
	}
	if l.defaultPath == "" {
		return "", nil
	}
	path, err := homedir.Expand(l.defaultPath)
	if err != nil {
		return "", nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat config %s: %w", path, err)
	}
	return path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("hive.host", "0.0.0.0")
	v.SetDefault("hive.port", 4269)
	v.SetDefault("hive.monitor_interval", 15*time.Second)
	v.SetDefault("hive.grace_period", 5*time.Second)
	v.SetDefault("hive.request_timeout", 3*time.Second)
	v.SetDefault("hive.fanout_limit", 32)
	v.SetDefault("hive.local_port_base", 4268)
	v.SetDefault("hive.local_port_floor", 3000)
	v.SetDefault("hive.spawn_interval", 100*time.Millisecond)
	v.SetDefault("hive.wasp_binary", "")
	v.SetDefault("hive.public_url", "")

	v.SetDefault("wasp.hive_url", "")
	v.SetDefault("wasp.host", "0.0.0.0")
	v.SetDefault("wasp.port", 4268)
	v.SetDefault("wasp.advertise_host", "")
	v.SetDefault("wasp.heartbeat_interval", 5*time.Second)
	v.SetDefault("wasp.checkin_attempts", 5)
	v.SetDefault("wasp.wrk_path", "wrk")

	v.SetDefault("client.hive_url", "http://127.0.0.1:4269/")
	v.SetDefault("client.poll_interval", time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.protocol", "grpc")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.service_name", "")
}
