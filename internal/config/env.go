package config

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
)

type Env struct {
	Env      string `envconfig:"ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Scheduler tuning.
	DefaultMaxRetries int `envconfig:"DEFAULT_MAX_RETRIES" default:"3"`

	// Workflow engine tuning.
	LoopMaxIterations int `envconfig:"LOOP_MAX_ITERATIONS" default:"25"`

	// Stats collector window.
	StatsWindowMinutes int `envconfig:"STATS_WINDOW_MINUTES" default:"60"`

	// Event bus channel buffer.
	EventBuffer int `envconfig:"EVENT_BUFFER" default:"256"`

	// Template storage.
	StorageType string `envconfig:"STORAGE_TYPE" default:"local"`
	TemplateDir string `envconfig:"TEMPLATE_DIR" default:".taskmesh/templates"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Prefix    string `envconfig:"S3_PREFIX" default:"taskmesh/"`
	S3Region    string `envconfig:"S3_REGION" default:"ap-northeast-1"`
}

const namespace = "TASKMESH"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *Env) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
