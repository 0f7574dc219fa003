package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const EnvPrefix = "TASKBOARD"

// Runtime holds process settings: where the database lives, how the server
// listens and authenticates, and how the workflow engine behaves.
type Runtime struct {
	Workspace string
	DBPath    string

	ServerAddr     string
	ServerBasePath string

	JWTSecret              string
	AllowLegacyActorHeader bool

	StaleAfter time.Duration

	MaxCascadeDepth int
	AsyncHooks      bool
	LinksBaseURL    string

	LogLevel  string
	LogFormat string
}

// SetDefaults registers default values for every runtime key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("db.path", "")
	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.base_path", "/v0")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.allow_legacy_actor_header", false)
	v.SetDefault("sessions.stale_after", "30m")
	v.SetDefault("rules.max_cascade_depth", 3)
	v.SetDefault("rules.async_hooks", false)
	v.SetDefault("links.base_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// NewViper returns a viper instance reading TASKBOARD_* variables and, when
// file is set, the given config file.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if file == "" {
		return v, nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read runtime config %s: %w", file, err)
		}
	}
	return v, nil
}

// LoadRuntime decodes and validates the runtime settings held by v.
func LoadRuntime(v *viper.Viper) (Runtime, error) {
	rt := Runtime{
		Workspace:              v.GetString("workspace"),
		DBPath:                 v.GetString("db.path"),
		ServerAddr:             v.GetString("server.addr"),
		ServerBasePath:         v.GetString("server.base_path"),
		JWTSecret:              v.GetString("auth.jwt_secret"),
		AllowLegacyActorHeader: v.GetBool("auth.allow_legacy_actor_header"),
		StaleAfter:             v.GetDuration("sessions.stale_after"),
		MaxCascadeDepth:        v.GetInt("rules.max_cascade_depth"),
		AsyncHooks:             v.GetBool("rules.async_hooks"),
		LinksBaseURL:           v.GetString("links.base_url"),
		LogLevel:               v.GetString("log.level"),
		LogFormat:              v.GetString("log.format"),
	}
	if rt.StaleAfter <= 0 {
		return rt, fmt.Errorf("sessions.stale_after must be positive")
	}
	if rt.MaxCascadeDepth < 1 {
		return rt, fmt.Errorf("rules.max_cascade_depth must be at least 1")
	}
	if _, err := ParseLevel(rt.LogLevel); err != nil {
		return rt, err
	}
	switch rt.LogFormat {
	case "text", "json":
	default:
		return rt, fmt.Errorf("log.format must be text or json, got %q", rt.LogFormat)
	}
	return rt, nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log.level %q", s)
	}
	return lvl, nil
}

// NewLogger builds the process logger. The returned LevelVar can be changed
// at runtime.
func NewLogger(w io.Writer, rt Runtime) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	if lvl, err := ParseLevel(rt.LogLevel); err == nil {
		level.Set(lvl)
	}
	opts := &slog.HandlerOptions{Level: level}
	if rt.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), level
	}
	return slog.New(slog.NewTextHandler(w, opts)), level
}

// WatchLogLevel reloads log.level into level whenever the config file backing
// v changes. It is a no-op when v has no config file.
func WatchLogLevel(v *viper.Viper, level *slog.LevelVar, log *slog.Logger) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		lvl, err := ParseLevel(v.GetString("log.level"))
		if err != nil {
			log.Warn("ignoring runtime config change", "file", e.Name, "error", err)
			return
		}
		if lvl != level.Level() {
			level.Set(lvl)
			log.Info("log level changed", "level", lvl.String())
		}
	})
	v.WatchConfig()
}
