// Package config holds the settings shared by the image tools.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/osstudy/nanos/fs"
	"github.com/osstudy/nanos/logging/slogpretty"
)

type ImageConfig struct {
	Path      string `yaml:"path" env:"TFS_IMAGE"`
	Size      uint64 `yaml:"size" env:"TFS_IMAGE_SIZE" env-default:"67108864"`
	Journal   uint64 `yaml:"journal" env:"TFS_JOURNAL" env-default:"1048576"`
	Alignment uint64 `yaml:"alignment" env:"TFS_ALIGNMENT" env-default:"512"`
	MinExtent uint64 `yaml:"min_extent" env:"TFS_MIN_EXTENT" env-default:"4096"`
	MaxExtent uint64 `yaml:"max_extent" env:"TFS_MAX_EXTENT" env-default:"1048576"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"TFS_LOG_LEVEL" env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"TFS_LOG_PRETTY" env-default:"true"`
}

type Config struct {
	Image ImageConfig `yaml:"image"`
	Log   LogConfig   `yaml:"log"`
}

// Load reads the YAML file at path, if any, with environment variables
// taking precedence over it.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path == "" {
		err = cleanenv.ReadEnv(&cfg)
	} else {
		err = cleanenv.ReadConfig(path, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic("cannot read config: " + err.Error())
	}
	return cfg
}

// Options are the filesystem options the image was (or is to be) made
// with.
func (c *Config) Options() []fs.Option {
	return []fs.Option{
		fs.WithJournalSize(c.Image.Journal),
		fs.WithAlignment(c.Image.Alignment),
		fs.WithExtentSizes(c.Image.MinExtent, c.Image.MaxExtent),
	}
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger builds the tool logger writing to out.
func (c *Config) Logger(out io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if !c.Log.Pretty {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	h := slogpretty.PrettyHandlerOptions{SlogOpts: opts}.NewPrettyHandler(out)
	return slog.New(h)
}
