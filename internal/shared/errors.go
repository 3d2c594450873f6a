package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Cache errors
	ErrCacheMiss     = fmt.Errorf("cache miss")
	ErrInstallFailed = fmt.Errorf("cache install failed")
	ErrNotInstalled  = fmt.Errorf("no installed cache generation")

	// Queue errors
	ErrStorage             = fmt.Errorf("storage unavailable")
	ErrInvalidCategory     = fmt.Errorf("invalid submission category")
	ErrSubmissionNotFound  = fmt.Errorf("submission not found")
	ErrDuplicateSubmission = fmt.Errorf("submission already exists")
	ErrUnknownTag          = fmt.Errorf("unknown sync tag")
	ErrDeliveryFailed      = fmt.Errorf("delivery failed")

	// Scheduling errors
	ErrSchedulerClosed = fmt.Errorf("scheduler closed")
	ErrOffline         = fmt.Errorf("network unreachable")

	// Preference errors
	ErrPreferenceNotFound = fmt.Errorf("preference not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
