package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/services"
	"github.com/desertthunder/miroir/internal/shared"
)

// offlineTransport fails every request, standing in for a lost connection.
type offlineTransport struct{}

func (offlineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return nil, fmt.Errorf("%w: %s", shared.ErrOffline, req.URL.Host)
}

// CacheInstall precaches the static manifest into the current generation.
func (r *Runner) CacheInstall(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	r.logger.Infof("installing cache generation: %s", a.cache.Version())
	if err := a.worker.Install(ctx); err != nil {
		return err
	}

	r.writePlain("✓ Installed %s (%d manifest entries)\n", a.cache.Version(), len(r.config.Cache.StaticManifest))
	return nil
}

// CacheActivate purges every generation other than the current one.
func (r *Runner) CacheActivate(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	deleted, err := a.cache.Activate(ctx)
	if err != nil {
		return err
	}

	r.writePlain("✓ Activated %s\n", a.cache.Version())
	if len(deleted) == 0 {
		r.writePlain("  No stale generations\n")
	}
	for _, name := range deleted {
		r.writePlain("  Deleted %s\n", name)
	}
	return nil
}

// CacheStatus lists the stored generations and marks the current one.
func (r *Runner) CacheStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	generations, err := a.cache.Generations(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(struct {
			Current     string                   `json:"current"`
			Generations []models.CacheGeneration `json:"generations"`
		}{a.cache.Version(), generations}, true)
	}

	r.writePlainHeader("Cache generations (current: " + a.cache.Version() + ")")
	if len(generations) == 0 {
		r.writePlain("No generations installed. Run 'miroir cache install'.\n")
		return nil
	}
	for _, g := range generations {
		state := "stale"
		if string(g.Name) == a.cache.Version() {
			state = "current"
		}
		r.writePlain("%-24s %4d entries %10d bytes  %s\n", g.Name, g.Entries, g.Bytes, state)
	}
	return nil
}

// CacheFetch requests a site path through the cache-first transport and reports where the answer came from.
func (r *Runner) CacheFetch(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path is required", shared.ErrMissingArgument)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	if err := r.configure(cmd); err != nil {
		return err
	}

	var network http.RoundTripper
	if cmd.Bool("offline") {
		network = offlineTransport{}
	}

	a, err := r.open(ctx, network)
	if err != nil {
		return err
	}
	defer a.Close()

	header := http.Header{}
	if cmd.Bool("navigate") {
		header.Set("Sec-Fetch-Mode", "navigate")
		header.Set("Accept", "text/html")
	}

	api := services.NewAPIService(r.config.Server.Origin, &http.Client{Transport: a.cache})
	resp, err := api.Get(ctx, path, header)
	if err != nil {
		return err
	}

	r.writePlain("%s %d\n", api.BaseURL()+path, resp.StatusCode)
	r.writePlain("Content-Type: %s\n", resp.Headers.Get("Content-Type"))
	r.writePlain("Bytes: %d\n", len(resp.Body))
	if cmd.Bool("body") {
		r.writePlainln("%s", resp.Body)
	}
	return nil
}
