package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/formatter"
	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/queue"
	"github.com/desertthunder/miroir/internal/repositories"
	"github.com/desertthunder/miroir/internal/shared"
	"github.com/desertthunder/miroir/internal/tasks"
)

// parseFields turns name=value pairs into a field map.
func parseFields(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: field %q must be name=value", shared.ErrInvalidArgument, pair)
		}
		fields[name] = value
	}
	return fields, nil
}

// categoriesArg returns the named category, or all of them when name is empty.
func categoriesArg(name string) ([]models.Category, error) {
	if name == "" {
		return models.Categories(), nil
	}
	c, err := models.ParseCategory(name)
	if err != nil {
		return nil, err
	}
	return []models.Category{c}, nil
}

// QueueSubmit stores a submission and requests a deferred sync for its category.
func (r *Runner) QueueSubmit(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("category")
	if name == "" {
		return fmt.Errorf("%w: category is required (story, reflection)", shared.ErrMissingArgument)
	}
	category, err := models.ParseCategory(name)
	if err != nil {
		return err
	}

	fields, err := parseFields(cmd.StringSlice("field"))
	if err != nil {
		return err
	}

	if err := r.configure(cmd); err != nil {
		return err
	}
	if cmd.Bool("sync") {
		if err := r.config.ValidateDelivery(); err != nil {
			return err
		}
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	record, err := a.queue.Enqueue(ctx, category, fields)
	if err != nil {
		return fmt.Errorf("saving failed, please retry: %w", err)
	}
	r.writePlain("✓ Queued %s %s\n", category.Store(), record.ID())

	if cmd.Bool("sync") {
		if n := a.worker.Scheduler().Flush(ctx); n == 0 {
			r.writePlain("  Delivery deferred; it runs on the next 'miroir serve' or 'miroir queue sync'\n")
		} else {
			r.writePlain("  Delivered\n")
		}
	}
	return nil
}

// QueueList prints the records of one store.
func (r *Runner) QueueList(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("category")
	if name == "" {
		return fmt.Errorf("%w: category is required (story, reflection)", shared.ErrMissingArgument)
	}
	category, err := models.ParseCategory(name)
	if err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	criteria := repositories.ListCriteria{Limit: int(cmd.Int("limit"))}
	if cmd.Bool("pending") {
		synced := false
		criteria.Synced = &synced
	}

	records, err := a.submissions.List(ctx, category, criteria)
	if err != nil {
		return err
	}

	return formatter.Write(r.output, format, category.Store(), records)
}

// QueueSync drains one or every category now and prints a report per category.
func (r *Runner) QueueSync(ctx context.Context, cmd *cli.Command) error {
	categories, err := categoriesArg(cmd.StringArg("category"))
	if err != nil {
		return err
	}

	if err := r.configure(cmd); err != nil {
		return err
	}
	if err := r.config.ValidateDelivery(); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	reports := make([]queue.SyncReport, 0, len(categories))
	for _, category := range categories {
		report, err := a.syncer.SyncCategory(ctx, category)
		if err != nil {
			return fmt.Errorf("failed to sync %s: %w", category.Store(), err)
		}
		reports = append(reports, report)
	}

	if cmd.Bool("json") {
		return r.writeJSON(reports, true)
	}

	for _, report := range reports {
		r.writePlain("%s: %d pending, %d delivered, %d failed\n",
			report.Category.Store(), report.Pending, report.Delivered, report.Failed)

		ids := make([]string, 0, len(report.Errors))
		for id := range report.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r.writePlain("  %s: %s\n", id, report.Errors[id])
		}
	}
	return nil
}

// QueueExport writes every store to a directory with a manifest.
func (r *Runner) QueueExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	progress := make(chan tasks.ProgressUpdate, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.logger.Infof("[%d/%d] %s", update.Step, update.Total, update.Message)
		}
	}()

	result, err := tasks.ExportSubmissions(ctx, a.submissions, tasks.ExportOpts{
		Format:      format,
		OutputDir:   cmd.String("output"),
		PendingOnly: cmd.Bool("pending"),
		Progress:    progress,
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlainHeader("Export: " + result.OutputDirectory)
	for _, res := range result.Results {
		if res.Success {
			r.writePlain("✓ %-24s %4d records  %s\n", res.Category.Store(), res.Records, res.File)
		} else {
			r.writePlain("✗ %-24s %s\n", res.Category.Store(), res.Error)
		}
	}
	r.writePlainln("%d succeeded, %d failed", result.SuccessfulExports, result.FailedExports)
	return nil
}
