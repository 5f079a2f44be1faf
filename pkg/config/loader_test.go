package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/lxd-inventory/pkg/engine"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

func TestLoaderLocate(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "lxd_inventory.yml")
	second := writeFile(t, dir, "lxd_inventory.yaml", "{}\n")
	explicit := writeFile(t, dir, "explicit.yml", "{}\n")
	fromEnv := writeFile(t, dir, "env.yml", "{}\n")

	tests := []struct {
		name     string
		explicit string
		env      string
		want     string
		wantErr  bool
	}{
		{name: "explicit wins", explicit: explicit, env: fromEnv, want: explicit},
		{name: "environment", env: fromEnv, want: fromEnv},
		{name: "search paths", want: second},
		{name: "missing explicit", explicit: filepath.Join(dir, "nope.yml"), wantErr: true},
		{name: "missing environment", env: filepath.Join(dir, "nope.yml"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(zerolog.Nop()).
				WithSearchPaths(first, second).
				WithEnv(mapEnv(map[string]string{EnvConfigPath: tt.env}))

			got, err := l.Locate(tt.explicit)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Locate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var ee *engine.EngineError
				if !errors.As(err, &ee) || ee.Code != ErrCodeConfigNotFound {
					t.Errorf("expected %s, got %v", ErrCodeConfigNotFound, err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Locate() = %q, want %q", got, tt.want)
			}
		})
	}

	l := NewLoader(zerolog.Nop()).WithSearchPaths(first, dir).WithEnv(mapEnv(nil))
	if got, err := l.Locate(""); err != nil || got != "" {
		t.Errorf("Locate() with nothing present = %q, %v", got, err)
	}
}

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	l := NewLoader(zerolog.Nop())

	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, dir, "inv.yml", `
lxd_endpoints:
  lab:
    endpoint: https://lab:8443
    filters:
      status: running
`)
		raw, err := l.Load(ctx, path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if _, ok := raw["lxd_endpoints"]; !ok {
			t.Errorf("raw = %v", raw)
		}
	})

	t.Run("cue", func(t *testing.T) {
		path := writeFile(t, dir, "inv.cue", `
endpoint: "https://lab:8443"
filters: {
	status: ["running", "frozen"]
	prefer_ipv6: true
}
`)
		raw, err := l.Load(ctx, path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		endpoints, err := newTestResolver(nil).Resolve(raw, Overrides{})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		cfg := endpoints[DefaultEndpointName]
		if cfg.Endpoint != "https://lab:8443" || !cfg.Filters.PreferIPv6 || len(cfg.Filters.Status) != 2 {
			t.Errorf("cfg = %+v", cfg)
		}
	})

	t.Run("empty path", func(t *testing.T) {
		raw, err := l.Load(ctx, "")
		if err != nil || !raw.IsEmpty() {
			t.Errorf("Load(\"\") = %v, %v", raw, err)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		raw, err := l.Load(ctx, writeFile(t, dir, "empty.yml", ""))
		if err != nil || !raw.IsEmpty() {
			t.Errorf("Load() = %v, %v", raw, err)
		}
	})

	failures := []struct {
		name    string
		file    string
		content string
		code    string
	}{
		{name: "malformed yaml", file: "bad.yml", content: "filters: [\n", code: engine.ErrCodeMalformedConfig},
		{name: "schema violation", file: "typo.yml", content: "filter:\n  status: running\n", code: engine.ErrCodeValidation},
		{name: "malformed cue", file: "bad.cue", content: "filters: {\n", code: engine.ErrCodeMalformedConfig},
		{name: "cue schema violation", file: "typo.cue", content: "verify_ssl: \"maybe\"\n", code: engine.ErrCodeValidation},
	}

	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			_, err := l.Load(ctx, path)
			if !engine.IsConfiguration(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var ee *engine.EngineError
			if !errors.As(err, &ee) || ee.Code != tt.code {
				t.Errorf("code = %v, want %s", err, tt.code)
			}
			if ee != nil && ee.Details["path"] != path {
				t.Errorf("details = %v, want path %s", ee.Details, path)
			}
		})
	}
}

func TestLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inv.yml", "{}\n")
	writeFile(t, dir, "other.yml", "{}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- NewLoader(zerolog.Nop()).Watch(ctx, path, func() { changed <- struct{}{} })
	}()

	// Keep touching the file until the watcher has been registered and fired.
	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-changed:
			break wait
		case <-ticker.C:
			writeFile(t, dir, "inv.yml", "filters: {status: running}\n")
		case <-deadline:
			t.Fatal("onChange was not called")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
