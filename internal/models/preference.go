package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/miroir/internal/shared"
)

// Preference is one opaque user preference.
type Preference struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

func (p *Preference) ID() string           { return p.Key }
func (p *Preference) CreatedAt() time.Time { return p.UpdatedAt }

// Validate requires a non-blank key.
func (p *Preference) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%w: preference key is required", shared.ErrInvalidInput)
	}
	return nil
}
