package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/desertthunder/miroir/internal/server"
	"github.com/desertthunder/miroir/internal/shared"
)

// Serve runs the site server and the background runtime until interrupted.
//
// Without --proxy the public directory is served and the runtime caches it from server.origin. With
// --proxy every page request is forwarded to the upstream through the runtime, so pages keep loading
// from the cache when the upstream is gone.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	if upstream := cmd.String("upstream"); upstream != "" {
		r.config.Server.Origin = upstream
	}

	if err := r.config.ValidateDelivery(); err != nil {
		r.logger.Warn("submissions will stay queued", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", r.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.config.Addr(), err)
	}
	siteURL := "http://" + ln.Addr().String()

	opts := server.SiteOptions{
		PublicDir: r.config.Server.PublicDir,
		Outbox:    a.queue,
		Logger:    r.logger,
	}
	if cmd.Bool("proxy") {
		origin, err := url.Parse(r.config.Server.Origin)
		if err != nil {
			ln.Close()
			return fmt.Errorf("%w: server.origin: %v", shared.ErrInvalidConfig, err)
		}
		if origin.Host == ln.Addr().String() || origin.Host == r.config.Addr() {
			ln.Close()
			return fmt.Errorf("%w: proxy upstream %s is this server", shared.ErrInvalidConfig, origin)
		}
		opts.Origin = origin
		opts.Transport = a.worker
	}

	srv := server.NewServer(r.config.Addr(), server.NewSite(opts), r.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })
	g.Go(func() error {
		if err := a.worker.Start(gctx); err != nil {
			r.logger.Error("background runtime stopped, serving without it", "error", err)
		}
		return nil
	})

	r.logger.Info("site ready", "url", siteURL, "proxy", opts.Origin != nil, "version", a.cache.Version())
	if cmd.Bool("open") {
		if err := shared.OpenBrowser(siteURL); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
		}
	}

	return g.Wait()
}
