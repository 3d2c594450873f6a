package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/queue"
	"github.com/desertthunder/miroir/internal/repositories"
	"github.com/desertthunder/miroir/internal/shared"
	"github.com/desertthunder/miroir/internal/ui"
)

// recordLimit bounds how many records the dashboard loads per store.
const recordLimit = 200

// statusBackend implements [ui.Backend] over the assembled runtime.
type statusBackend struct {
	app *app
}

var _ ui.Backend = (*statusBackend)(nil)

func (b *statusBackend) Snapshot(ctx context.Context) (*ui.Snapshot, error) {
	generations, err := b.app.cache.Generations(ctx)
	if err != nil {
		return nil, err
	}

	categories := make([]ui.CategoryStatus, 0, len(models.Categories()))
	for _, c := range models.Categories() {
		counts, err := b.app.submissions.Count(ctx, c)
		if err != nil {
			return nil, err
		}
		categories = append(categories, ui.CategoryStatus{Category: c, Total: counts.Total, Unsynced: counts.Unsynced})
	}

	return &ui.Snapshot{
		Version:     b.app.cache.Version(),
		Generations: generations,
		Categories:  categories,
		PendingTags: b.app.worker.Scheduler().Pending(),
		TakenAt:     time.Now(),
	}, nil
}

func (b *statusBackend) Records(ctx context.Context, category models.Category) ([]*models.SubmissionRecord, error) {
	return b.app.submissions.List(ctx, category, repositories.ListCriteria{Limit: recordLimit})
}

func (b *statusBackend) Sync(ctx context.Context, category models.Category) (queue.SyncReport, error) {
	return b.app.syncer.SyncCategory(ctx, category)
}

// TUI launches the interactive offline status dashboard.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/miroir-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	if err := shared.ApplyLogLevel(fileLogger, r.config.Log.Level); err != nil {
		fileLogger.Warn("ignoring log level", "error", err)
	}
	r.SetLogger(fileLogger)

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	model := ui.NewModel(ctx, &statusBackend{app: a})
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
