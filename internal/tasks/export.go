package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/desertthunder/miroir/internal/formatter"
	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/repositories"
	"github.com/desertthunder/miroir/internal/shared"
)

// SubmissionLister reads category stores. [repositories.SubmissionRepository] implements it.
type SubmissionLister interface {
	List(ctx context.Context, category models.Category, criteria repositories.ListCriteria) ([]*models.SubmissionRecord, error)
}

// ProgressUpdate reports export progress to an optional listener.
type ProgressUpdate struct {
	Step    int
	Total   int
	Message string
}

// ExportOpts contains configuration for submission exports.
type ExportOpts struct {
	Format      formatter.Format      // Export format: json, csv, markdown, txt
	OutputDir   string                // Base output directory (default: miroir_export_{epoch})
	Categories  []models.Category     // Categories to export (default: all)
	PendingOnly bool                  // Only export unsynced records
	NumWorkers  int                   // Concurrent workers (default: 2)
	Progress    chan<- ProgressUpdate // Optional, never blocks
}

// CategoryExportResult describes the file written for one category.
type CategoryExportResult struct {
	Category models.Category `json:"category"`
	Records  int             `json:"records"`
	File     string          `json:"file,omitempty"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
}

// ExportResult summarizes a whole export run.
type ExportResult struct {
	OutputDirectory   string                 `json:"output_directory"`
	ManifestPath      string                 `json:"-"`
	ExportedAt        time.Time              `json:"exported_at"`
	SuccessfulExports int                    `json:"successful_exports"`
	FailedExports     int                    `json:"failed_exports"`
	Results           []CategoryExportResult `json:"results"`
}

// ExportSubmissions writes one file per category concurrently and a manifest summarizing the run.
//
// A failed category does not stop the others; its error is recorded in the result.
func ExportSubmissions(ctx context.Context, lister SubmissionLister, opts ExportOpts) (*ExportResult, error) {
	if opts.OutputDir == "" {
		opts.OutputDir = fmt.Sprintf("miroir_export_%d", time.Now().Unix())
	}
	if len(opts.Categories) == 0 {
		opts.Categories = models.Categories()
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 2
	}
	if opts.Format == "" {
		opts.Format = formatter.FormatJSON
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	result := &ExportResult{
		OutputDirectory: opts.OutputDir,
		ExportedAt:      time.Now().UTC(),
		Results:         make([]CategoryExportResult, 0, len(opts.Categories)),
	}

	jobs := make(chan models.Category, len(opts.Categories))
	results := make(chan CategoryExportResult, len(opts.Categories))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go exportWorker(ctx, &wg, lister, jobs, results, opts)
	}

	for _, c := range opts.Categories {
		jobs <- c
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Results = append(result.Results, res)

		if res.Success {
			result.SuccessfulExports++
			sendProgress(opts.Progress, ProgressUpdate{
				Step:    completed,
				Total:   len(opts.Categories),
				Message: fmt.Sprintf("Exported %d %s records to %s", res.Records, res.Category, res.File),
			})
		} else {
			result.FailedExports++
			sendProgress(opts.Progress, ProgressUpdate{
				Step:    completed,
				Total:   len(opts.Categories),
				Message: fmt.Sprintf("Failed to export %s: %s", res.Category, res.Error),
			})
		}
	}

	manifest, err := shared.MarshalJSON(result, true)
	if err != nil {
		return result, fmt.Errorf("export completed but failed to encode manifest: %w", err)
	}

	manifestPath := filepath.Join(opts.OutputDir, "export_manifest.json")
	if err := os.WriteFile(manifestPath, manifest, 0644); err != nil {
		return result, fmt.Errorf("export completed but failed to write manifest: %w", err)
	}
	result.ManifestPath = manifestPath
	return result, nil
}

// exportWorker is a worker goroutine that exports categories from the jobs channel.
func exportWorker(
	ctx context.Context,
	wg *sync.WaitGroup,
	lister SubmissionLister,
	jobs <-chan models.Category,
	results chan<- CategoryExportResult,
	opts ExportOpts,
) {
	defer wg.Done()

	for category := range jobs {
		results <- exportCategory(ctx, lister, category, opts)
	}
}

func exportCategory(ctx context.Context, lister SubmissionLister, category models.Category, opts ExportOpts) CategoryExportResult {
	result := CategoryExportResult{Category: category}

	if err := ctx.Err(); err != nil {
		result.Error = err.Error()
		return result
	}

	var criteria repositories.ListCriteria
	if opts.PendingOnly {
		pending := false
		criteria.Synced = &pending
	}

	records, err := lister.List(ctx, category, criteria)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read %s: %v", category.Store(), err)
		return result
	}
	result.Records = len(records)

	path := filepath.Join(opts.OutputDir, fmt.Sprintf("%s.%s", category.Store(), opts.Format.Extension()))
	file, err := formatter.WriteExport(opts.Format, category.Store(), records, path)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.File = file
	result.Success = true
	return result
}

func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}
