package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/flowpack/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("flowpack", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
flowpack - A deterministic pack builder for flow documents.

Usage:
  flowpack [options] [FLOW_PATH]

Arguments:
  FLOW_PATH
    Path to a single .hcl flow file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	flowFlag := flagSet.String("flow", "", "Path to the flow file or directory.")
	fFlag := flagSet.String("f", "", "Path to the flow file or directory (shorthand).")
	outFlag := flagSet.String("o", "", "Output path for the pack. Defaults to the flow name with a .fpack extension.")
	componentsFlag := flagSet.String("components", "", "Directory mapping bare component names to local component directories.")
	cacheFlag := flagSet.String("cache", defaultCacheDir(), "Build cache directory for registry components.")
	registryFlag := flagSet.String("registry", "", "Component registry base URL. Empty disables registry resolution.")
	metaFlag := flagSet.String("meta", "", "Path to a pack metadata .hcl file.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 8, "Number of concurrent workers for node resolution.")
	strictFlag := flagSet.Bool("strict", false, "Build twice and fail if the digests differ. Also enabled by FLOWPACK_STRICT=1.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *flowFlag != "" {
		path = *flowFlag
	} else if *fFlag != "" {
		path = *fFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Flow path determined.", "path", path)

	if path == "" {
		slog.Debug("No flow path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	outputPath := *outFlag
	if outputPath == "" {
		outputPath = defaultOutputPath(path)
	}

	strict := *strictFlag || os.Getenv("FLOWPACK_STRICT") == "1"
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		FlowPath:      path,
		ComponentsDir: *componentsFlag,
		CacheDir:      *cacheFlag,
		RegistryURL:   *registryFlag,
		OutputPath:    outputPath,
		MetaPath:      *metaFlag,
		LogFormat:     logFormat,
		LogLevel:      logLevel,
		WorkerCount:   *workersFlag,
		Strict:        strict,
	})

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

// defaultOutputPath derives a .fpack name next to the current directory
// from the flow path's base name.
func defaultOutputPath(flowPath string) string {
	base := filepath.Base(flowPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".fpack"
}

// defaultCacheDir places the component cache under the user cache root,
// falling back to a local directory when no user cache is available.
func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "flowpack")
	}
	return ".flowpack-cache"
}
