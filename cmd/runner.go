package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/cache"
	"github.com/desertthunder/miroir/internal/queue"
	"github.com/desertthunder/miroir/internal/repositories"
	"github.com/desertthunder/miroir/internal/services"
	"github.com/desertthunder/miroir/internal/shared"
	"github.com/desertthunder/miroir/internal/tasks"
	"github.com/desertthunder/miroir/internal/worker"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	configPath string
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string // file Config was loaded from, if any
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

// SetLogger replaces the logger used by subsequent commands.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serveCommand, cacheCommand, queueCommand, prefsCommand, notifyCommand, statusCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// configure reloads the configuration when --config names a different file than the one already loaded.
func (r *Runner) configure(cmd *cli.Command) error {
	path := cmd.String("config")
	if path == "" || path == r.configPath {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", shared.ErrMissingConfig, path)
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return err
	}
	r.config = config
	r.configPath = path

	if err := shared.ApplyLogLevel(r.logger, config.Log.Level); err != nil {
		r.logger.Warn("ignoring log level", "error", err)
	}
	return nil
}

// app is the offline runtime assembled from the configuration.
type app struct {
	db          *sql.DB
	submissions *repositories.SubmissionRepository
	preferences *repositories.PreferenceRepository
	cacheStore  *repositories.CacheRepository
	cache       *cache.Manager
	syncer      *queue.Syncer
	worker      *worker.ServiceWorker
	queue       *queue.Queue
}

// Close stops the scheduler and releases the database.
func (a *app) Close() error {
	a.worker.Scheduler().Close()
	return a.db.Close()
}

// open builds the runtime. A nil network uses the runner's HTTP client transport.
func (r *Runner) open(ctx context.Context, network http.RoundTripper) (*app, error) {
	c := r.config
	if network == nil {
		network = r.httpClient.Transport
	}
	if network == nil {
		network = http.DefaultTransport
	}

	db, err := shared.OpenDatabase(c.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		db:          db,
		submissions: repositories.NewSubmissionRepository(db),
		preferences: repositories.NewPreferenceRepository(db),
		cacheStore:  repositories.NewCacheRepository(db),
	}

	a.cache, err = cache.NewManager(cache.ConfigFrom(c), a.cacheStore, network, r.logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	client := services.NewHTTPClient(ctx, c.Delivery, &http.Client{Transport: network, Timeout: 30 * time.Second})
	var api *services.APIService
	if c.Delivery.BaseURL != "" {
		api = services.NewAPIService(c.Delivery.BaseURL, client)
	}
	deliverer := services.NewHTTPDeliverer(api, r.logger)
	a.syncer = queue.NewSyncer(a.submissions, deliverer, queue.PolicyFrom(c.Queue), r.logger)

	probeURL := c.Scheduler.ProbeURL
	if probeURL == "" {
		probeURL = c.Delivery.BaseURL
	}

	a.worker, err = worker.New(worker.Options{
		Cache:       a.cache,
		Syncer:      a.syncer,
		Preferences: a.preferences,
		Transport:   network,
		Probe:       &tasks.HTTPProbe{URL: probeURL, Client: &http.Client{Transport: network}},
		Interval:    c.Scheduler.PollInterval.Duration,
		Logger:      r.logger,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	a.queue = queue.NewQueue(a.submissions, a.worker.Scheduler(), r.logger)
	return a, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
