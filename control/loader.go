// control/loader.go
// Author: momentics <momentics@gmail.com>
//
// Viper-backed configuration loading with hot-reload propagation.

package control

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. HIOCHAT_SERVER_ADDR.
const EnvPrefix = "HIOCHAT"

// Loader reads Config and re-reads it when the file changes.
type Loader struct {
	v   *viper.Viper
	log zerolog.Logger

	mu        sync.RWMutex
	current   Config
	listeners []func(Config)
}

// NewLoader prepares a loader. An empty path searches ./hioload-chat.yaml.
func NewLoader(path string, log zerolog.Logger) *Loader {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hioload-chat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, log: log}
}

// Load reads the file (if any), applies env overrides and validates.
func (l *Loader) Load() (Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		l.log.Debug().Msg("no config file, using defaults and environment")
	}
	cfg, err := l.decode()
	if err != nil {
		return Config{}, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Current returns the last successfully loaded config.
func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnReload registers fn to run after each successful reload.
func (l *Loader) OnReload(fn func(Config)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// Watch starts watching the config file. Invalid edits are logged and
// the previous config stays in effect.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.reload(e.Name)
	})
	l.v.WatchConfig()
}

func (l *Loader) reload(source string) {
	cfg, err := l.decode()
	if err != nil {
		l.log.Warn().Err(err).Str("file", source).Msg("config reload rejected")
		return
	}
	l.mu.Lock()
	l.current = cfg
	listeners := slices.Clone(l.listeners)
	l.mu.Unlock()
	l.log.Info().Str("file", source).Msg("config reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Load is a one-shot NewLoader(path).Load().
func Load(path string, log zerolog.Logger) (Config, error) {
	return NewLoader(path, log).Load()
}

// Default returns the built-in configuration with no file or environment applied.
func Default() Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("control: invalid built-in defaults: %v", err))
	}
	return cfg
}
