package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/flowpack/internal/app"
	"github.com/vk/flowpack/internal/hcl"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Stdout    string
	Err       error
	// OutputPath is where the harness pointed the build: a .fpack file,
	// or a directory when Options.OutputDir was set.
	OutputPath string
	// Root is the temporary directory the fixture files were written to.
	Root string
}

// Options tunes the harness beyond its defaults.
type Options struct {
	RegistryURL string
	MetaFile    string
	Strict      bool
	Workers     int
	// OutputDir makes the harness pass a directory as the output path,
	// for flow paths that yield more than one flow.
	OutputDir bool
}

// RunBuild provides a standardized harness for running end-to-end build
// tests. Fixture files are written relative to a fresh temp root; flow
// documents go under "flows/", local components under "components/".
func RunBuild(t *testing.T, files map[string]string, opts Options) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	for _, sub := range []string{"flows", "components", "cache"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, sub), 0o755))
	}

	for name, content := range files {
		filePath := filepath.Join(tmpDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	outputPath := filepath.Join(tmpDir, "out.fpack")
	if opts.OutputDir {
		outputPath = filepath.Join(tmpDir, "packs")
	}
	metaPath := ""
	if opts.MetaFile != "" {
		metaPath = filepath.Join(tmpDir, opts.MetaFile)
	}
	workers := opts.Workers
	if workers == 0 {
		workers = 4
	}

	appConfig, err := app.NewConfig(app.Config{
		FlowPath:      filepath.Join(tmpDir, "flows"),
		ComponentsDir: filepath.Join(tmpDir, "components"),
		CacheDir:      filepath.Join(tmpDir, "cache"),
		RegistryURL:   opts.RegistryURL,
		OutputPath:    outputPath,
		MetaPath:      metaPath,
		LogFormat:     "text",
		LogLevel:      "debug",
		WorkerCount:   workers,
		Strict:        opts.Strict,
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	stdout := &bytes.Buffer{}
	testApp := app.NewApp(stdout, logBuffer, appConfig, hcl.NewLoader())
	t.Cleanup(func() { _ = testApp.Close() })
	runErr := testApp.Run(context.Background())

	if os.Getenv("FLOWPACK_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
	}

	return &HarnessResult{
		LogOutput:  logBuffer.String(),
		Stdout:     stdout.String(),
		Err:        runErr,
		OutputPath: outputPath,
		Root:       tmpDir,
	}
}
