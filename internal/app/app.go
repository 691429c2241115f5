package app

import (
	"io"
	"log/slog"

	"github.com/vk/flowpack/internal/config"
	"github.com/vk/flowpack/internal/resolver"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle for one invocation.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	config *Config
	loader config.Loader
	// registry is the single registry client for the App's lifetime; nil
	// when no registry is configured. Released by Close.
	registry *resolver.RegistryClient
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger.
func NewApp(outW, errW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, errW)
	a := &App{
		outW:   outW,
		errW:   errW,
		logger: logger,
		config: appConfig,
		loader: loader,
	}
	if appConfig.RegistryURL != "" {
		a.registry = resolver.NewRegistryClient(appConfig.RegistryURL)
	}
	return a
}

// Logger returns the application's logger. This is primarily for testing.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases the App's registry client, if any. Safe to call on an
// App that never had one.
func (a *App) Close() error {
	if a.registry == nil {
		return nil
	}
	return a.registry.Close()
}
