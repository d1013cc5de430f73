package internal

import (
	"log/slog"

	"github.com/starford/ansuz/internal/upload"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config   *Config
	logger   *slog.Logger
	uploader upload.Uploader
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the logger built from the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithUploader replaces the uploader selected by upload.mode.
func WithUploader(u upload.Uploader) Option {
	return func(a *application) {
		a.uploader = u
	}
}
