package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/shared"
	tu "github.com/desertthunder/miroir/internal/testing"
)

type site struct {
	server    *httptest.Server
	delivered atomic.Int32
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<h1>Miroir</h1>"))
	})
	mux.HandleFunc("GET /style.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body{}"))
	})
	mux.HandleFunc("POST /api/submit-story", func(w http.ResponseWriter, r *http.Request) {
		s.delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	})

	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func newTestRunner(t *testing.T, origin string) (*Runner, *bytes.Buffer) {
	t.Helper()

	config := shared.DefaultConfig()
	config.Server.Origin = origin
	config.Delivery.BaseURL = origin
	config.Database.Path = filepath.Join(t.TempDir(), "miroir.db")
	config.Cache.Version = "miroir-test-v1"
	config.Cache.StaticManifest = []string{"/index.html", "/style.css"}

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: defaultConfigPath,
		Logger:     log.New(io.Discard),
		Output:     output,
	})
	return runner, output
}

func run(runner *Runner, args ...string) error {
	app := &cli.Command{
		Name: "miroir",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigPath},
		},
		Commands: runner.register(),
	}
	return app.Run(context.Background(), append([]string{"miroir"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config: nil,
			})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Logger: nil,
			})

			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Output: nil,
			})

			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				HTTPClient: nil,
			})

			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				ConfigPath: "/test/path/config.toml",
			})

			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, true)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			data := map[string]string{"key": "value"}
			err := runner.writeJSON(data, false)

			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			expected := `{"key":"value"}` + "\n"
			if result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			// channels cannot be marshaled to JSON
			data := make(chan int)
			err := runner.writeJSON(data, false)

			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			failing := &tu.FWriter{}
			runner := NewRunner(RunnerOpts{Output: failing})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)

			if err == nil {
				t.Fatal("expected error writing newline")
			}
			if !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if output.String() != "hello world" {
				t.Errorf("expected 'hello world', got %q", output.String())
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		names := map[string]bool{}
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names[cmd.Name] = true
		}

		for _, want := range []string{"setup", "serve", "cache", "queue", "prefs", "notify", "status"} {
			if !names[want] {
				t.Errorf("expected %q command to be registered", want)
			}
		}
	})
}

func TestParseFields(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "pairs", pairs: []string{"title=Hello", "body=a=b"}, want: map[string]string{"title": "Hello", "body": "a=b"}},
		{name: "empty value", pairs: []string{"note="}, want: map[string]string{"note": ""}},
		{name: "no separator", pairs: []string{"title"}, wantErr: true},
		{name: "no name", pairs: []string{"=x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFields(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFields(%v) error = %v, wantErr %v", tt.pairs, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestCategoriesArg(t *testing.T) {
	all, err := categoriesArg("")
	if err != nil || len(all) != len(models.Categories()) {
		t.Errorf("empty name should select every category, got %v (%v)", all, err)
	}

	one, err := categoriesArg("reflection")
	if err != nil || len(one) != 1 || one[0] != models.CategoryReflection {
		t.Errorf("expected reflection, got %v (%v)", one, err)
	}

	if _, err := categoriesArg("poem"); !errors.Is(err, shared.ErrInvalidCategory) {
		t.Errorf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestConfigure(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		runner, _ := newTestRunner(t, "http://127.0.0.1:3000")
		err := run(runner, "--config", filepath.Join(t.TempDir(), "absent.toml"), "cache", "status")
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("loads named file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "miroir.toml")
		content := "[cache]\nversion = \"miroir-from-file\"\n\n[database]\npath = \"" +
			filepath.ToSlash(filepath.Join(dir, "file.db")) + "\"\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		runner, output := newTestRunner(t, "http://127.0.0.1:3000")
		if err := run(runner, "--config", path, "cache", "status"); err != nil {
			t.Fatalf("cache status failed: %v", err)
		}
		if runner.config.Cache.Version != "miroir-from-file" {
			t.Errorf("expected version from file, got %q", runner.config.Cache.Version)
		}
		if !strings.Contains(output.String(), "current: miroir-from-file") {
			t.Errorf("unexpected output %q", output.String())
		}
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("init writes the example config", func(t *testing.T) {
		wd := tu.MustGetwd(t)
		tu.MustChdir(t, t.TempDir())
		t.Cleanup(func() { tu.MustChdir(t, wd) })

		runner, output := newTestRunner(t, "http://127.0.0.1:3000")
		if err := run(runner, "setup", "init"); err != nil {
			t.Fatalf("setup init failed: %v", err)
		}
		tu.AssertFileExists(t, defaultConfigPath)
		if !strings.Contains(tu.MustReadFile(t, defaultConfigPath), "[cache]") {
			t.Error("expected the example config to be written")
		}
		if !strings.Contains(output.String(), "Configuration written") {
			t.Errorf("unexpected output %q", output.String())
		}

		if err := run(runner, "setup", "init"); err == nil {
			t.Error("expected an error when the config already exists")
		}
	})

	t.Run("database and migrations", func(t *testing.T) {
		runner, output := newTestRunner(t, "http://127.0.0.1:3000")
		if err := run(runner, "setup", "database"); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}
		if err := run(runner, "setup", "migrations"); err != nil {
			t.Fatalf("setup migrations failed: %v", err)
		}
		if strings.Contains(output.String(), "pending") || !strings.Contains(output.String(), "applied") {
			t.Errorf("expected every migration applied:\n%s", output.String())
		}
	})
}

func TestCacheCommands(t *testing.T) {
	s := newSite(t)
	runner, output := newTestRunner(t, s.server.URL)

	if err := run(runner, "cache", "install"); err != nil {
		t.Fatalf("cache install failed: %v", err)
	}
	if !strings.Contains(output.String(), "Installed miroir-test-v1 (2 manifest entries)") {
		t.Errorf("unexpected install output %q", output.String())
	}

	output.Reset()
	if err := run(runner, "cache", "status"); err != nil {
		t.Fatalf("cache status failed: %v", err)
	}
	if !strings.Contains(output.String(), "miroir-test-v1") || !strings.Contains(output.String(), "current") {
		t.Errorf("unexpected status output %q", output.String())
	}

	t.Run("offline navigation falls back to the home page", func(t *testing.T) {
		output.Reset()
		if err := run(runner, "cache", "fetch", "--offline", "--navigate", "--body", "/reflections.html"); err != nil {
			t.Fatalf("cache fetch failed: %v", err)
		}
		if !strings.Contains(output.String(), "200") || !strings.Contains(output.String(), "<h1>Miroir</h1>") {
			t.Errorf("expected the cached home page, got %q", output.String())
		}
	})

	t.Run("offline asset miss fails", func(t *testing.T) {
		err := run(runner, "cache", "fetch", "--offline", "/missing.png")
		if !errors.Is(err, shared.ErrOffline) {
			t.Errorf("expected ErrOffline, got %v", err)
		}
	})

	t.Run("activate purges stale generations", func(t *testing.T) {
		runner.config.Cache.Version = "miroir-test-v2"
		if err := run(runner, "cache", "install"); err != nil {
			t.Fatalf("cache install failed: %v", err)
		}

		output.Reset()
		if err := run(runner, "cache", "activate"); err != nil {
			t.Fatalf("cache activate failed: %v", err)
		}
		if !strings.Contains(output.String(), "Deleted miroir-test-v1") {
			t.Errorf("expected v1 to be deleted, got %q", output.String())
		}
	})
}

func TestQueueCommands(t *testing.T) {
	s := newSite(t)
	runner, output := newTestRunner(t, s.server.URL)

	if err := run(runner, "queue", "submit", "--field", "title=Hello", "story"); err != nil {
		t.Fatalf("queue submit failed: %v", err)
	}
	if !strings.Contains(output.String(), "Queued story-submissions") {
		t.Errorf("unexpected submit output %q", output.String())
	}

	t.Run("list pending", func(t *testing.T) {
		output.Reset()
		if err := run(runner, "queue", "list", "--pending", "story"); err != nil {
			t.Fatalf("queue list failed: %v", err)
		}
		if !strings.Contains(output.String(), `title="Hello"`) {
			t.Errorf("expected the queued record, got %q", output.String())
		}
	})

	t.Run("sync delivers", func(t *testing.T) {
		output.Reset()
		if err := run(runner, "queue", "sync", "story"); err != nil {
			t.Fatalf("queue sync failed: %v", err)
		}
		if !strings.Contains(output.String(), "1 pending, 1 delivered, 0 failed") {
			t.Errorf("unexpected sync output %q", output.String())
		}
		if s.delivered.Load() != 1 {
			t.Errorf("expected one delivery, got %d", s.delivered.Load())
		}

		output.Reset()
		if err := run(runner, "queue", "sync", "story"); err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		if !strings.Contains(output.String(), "0 pending, 0 delivered") || s.delivered.Load() != 1 {
			t.Errorf("second sync should deliver nothing, got %q", output.String())
		}
	})

	t.Run("sync needs a delivery endpoint", func(t *testing.T) {
		unset, _ := newTestRunner(t, s.server.URL)
		unset.config.Delivery.BaseURL = ""

		if err := run(unset, "queue", "sync", "story"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if err := run(unset, "queue", "submit", "--sync", "story"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig for submit --sync, got %v", err)
		}
		if err := run(unset, "queue", "submit", "story"); err != nil {
			t.Errorf("queueing without an endpoint should still work: %v", err)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		if err := run(runner, "queue", "submit", "poem"); !errors.Is(err, shared.ErrInvalidCategory) {
			t.Errorf("expected ErrInvalidCategory, got %v", err)
		}
		if err := run(runner, "queue", "submit"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if err := run(runner, "queue", "submit", "--field", "oops", "story"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("export", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "export")
		output.Reset()
		if err := run(runner, "queue", "export", "--format", "csv", "--output", dir); err != nil {
			t.Fatalf("queue export failed: %v", err)
		}
		if !strings.Contains(output.String(), "2 succeeded, 0 failed") {
			t.Errorf("unexpected export output %q", output.String())
		}
	})
}

func TestPrefsCommands(t *testing.T) {
	runner, output := newTestRunner(t, "http://127.0.0.1:3000")

	if err := run(runner, "prefs", "set", "notifications.quiet_start", "23"); err != nil {
		t.Fatalf("prefs set failed: %v", err)
	}
	if err := run(runner, "prefs", "set", "notifications.quiet_start", "25"); !errors.Is(err, shared.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an out of range hour, got %v", err)
	}

	output.Reset()
	if err := run(runner, "prefs", "get", "notifications.quiet_start"); err != nil {
		t.Fatalf("prefs get failed: %v", err)
	}
	if !strings.Contains(output.String(), "notifications.quiet_start = 23") {
		t.Errorf("unexpected get output %q", output.String())
	}

	output.Reset()
	if err := run(runner, "prefs", "list"); err != nil {
		t.Fatalf("prefs list failed: %v", err)
	}
	if !strings.Contains(output.String(), "notifications.enabled") {
		t.Errorf("unexpected list output %q", output.String())
	}

	if err := run(runner, "prefs", "reset", "notifications.quiet_start"); err != nil {
		t.Fatalf("prefs reset failed: %v", err)
	}
	output.Reset()
	if err := run(runner, "prefs", "get", "notifications.quiet_start"); err != nil {
		t.Fatalf("prefs get failed: %v", err)
	}
	if !strings.Contains(output.String(), "not set") {
		t.Errorf("expected reset preference to be unset, got %q", output.String())
	}
}

func TestNotifyCommands(t *testing.T) {
	runner, output := newTestRunner(t, "http://127.0.0.1:3000")

	t.Run("push disabled", func(t *testing.T) {
		if err := run(runner, "prefs", "set", "notifications.enabled", "false"); err != nil {
			t.Fatalf("prefs set failed: %v", err)
		}
		output.Reset()
		if err := run(runner, "notify", "push", "A new story"); err != nil {
			t.Fatalf("notify push failed: %v", err)
		}
		if !strings.Contains(output.String(), "suppressed") {
			t.Errorf("expected suppression, got %q", output.String())
		}
	})

	t.Run("click", func(t *testing.T) {
		output.Reset()
		if err := run(runner, "notify", "click", "explore"); err != nil {
			t.Fatalf("notify click failed: %v", err)
		}
		if !strings.Contains(output.String(), "Opens http://127.0.0.1:3000/") {
			t.Errorf("unexpected click output %q", output.String())
		}

		output.Reset()
		if err := run(runner, "notify", "click", "close"); err != nil {
			t.Fatalf("notify click failed: %v", err)
		}
		if !strings.Contains(output.String(), "nothing opens") {
			t.Errorf("unexpected click output %q", output.String())
		}
	})
}

func TestStatusBackend(t *testing.T) {
	s := newSite(t)
	runner, _ := newTestRunner(t, s.server.URL)

	if err := run(runner, "queue", "submit", "--field", "title=one", "reflection"); err != nil {
		t.Fatalf("queue submit failed: %v", err)
	}

	ctx := context.Background()
	a, err := runner.open(ctx, nil)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer a.Close()

	backend := &statusBackend{app: a}
	snapshot, err := backend.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snapshot.Version != "miroir-test-v1" {
		t.Errorf("unexpected version %q", snapshot.Version)
	}

	var reflection int
	for _, c := range snapshot.Categories {
		if c.Category == models.CategoryReflection {
			reflection = c.Unsynced
		}
	}
	if reflection != 1 {
		t.Errorf("expected one unsynced reflection, got %d", reflection)
	}

	records, err := backend.Records(ctx, models.CategoryReflection)
	if err != nil || len(records) != 1 || records[0].Field("title") != "one" {
		t.Errorf("unexpected records %v (%v)", records, err)
	}
}
