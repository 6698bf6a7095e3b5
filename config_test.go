package hookscan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, `
signature: "48 8B ?? 00 FF"
module_name: game.dll
timeout: 30s
on_failure: log-and-continue
`)

	cfg, err := LoadConfig(path)
	assert.NoError(err)
	assert.Equal("48 8B ?? 00 FF", cfg.Signature)
	assert.Equal("game.dll", cfg.Module)
	assert.Equal(Duration(30*time.Second), cfg.Timeout)
	assert.Equal(FailLogAndContinue, cfg.OnFailure)
	assert.Equal(5, cfg.Pattern().Len())
}

func TestLoadConfig_Defaults(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, `
signature: "90 90"
module_name: game.dll
`)

	cfg, err := LoadConfig(path)
	assert.NoError(err)
	assert.Equal(FailAbort, cfg.OnFailure)
	assert.Equal(Duration(0), cfg.Timeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("not yaml", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "{{{"))
		assert.Error(t, err)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "module_name: game.dll\n"))
		assert.ErrorContains(t, err, "signature")
	})

	t.Run("bad signature", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
signature: "GG HH"
module_name: game.dll
`))
		var serr *SyntaxError
		assert.ErrorAs(t, err, &serr)
	})

	t.Run("missing module", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `signature: "90 90"`))
		assert.ErrorContains(t, err, "module_name")
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
signature: "90 90"
module_name: game.dll
timeout: soon
`))
		assert.ErrorContains(t, err, "soon")
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, `
signature: "90 90"
module_name: game.dll
on_failure: shrug
`))
		assert.ErrorContains(t, err, "shrug")
	})
}

func TestWatchConfig(t *testing.T) {
	assert := assert.New(t)

	path := writeConfig(t, `
signature: "90 90"
module_name: game.dll
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, nil, func(cfg *Config) { reloaded <- cfg })
	}()

	// Give the watcher time to register before the first change.
	time.Sleep(100 * time.Millisecond)

	err := os.WriteFile(path, []byte(`
signature: "48 8B ?? 00 FF"
module_name: engine.dll
`), 0o644)
	assert.NoError(err)

	select {
	case cfg := <-reloaded:
		assert.Equal("engine.dll", cfg.Module)
	case <-time.After(5 * time.Second):
		t.Fatal("reload never observed")
	}

	// A broken rewrite keeps the previous config: fn must not fire.
	err = os.WriteFile(path, []byte(`signature: ""`), 0o644)
	assert.NoError(err)

	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid config was delivered: %+v", cfg)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
