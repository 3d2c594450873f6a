package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/desertthunder/miroir/internal/shared"
)

// Preference keys in the preference store.
const (
	KeyEnabled             = "notifications.enabled"
	KeyNewStories          = "notifications.new_stories"
	KeyReflectionReminders = "notifications.reflection_reminders"
	KeyWeeklyDigest        = "notifications.weekly_digest"
	KeyQuietStart          = "notifications.quiet_start"
	KeyQuietEnd            = "notifications.quiet_end"
)

// Keys lists every notification preference key.
func Keys() []string {
	return []string{KeyEnabled, KeyNewStories, KeyReflectionReminders, KeyWeeklyDigest, KeyQuietStart, KeyQuietEnd}
}

// PreferenceSource reads stored preferences as a key/value map.
type PreferenceSource interface {
	Map(ctx context.Context) (map[string]string, error)
}

// Preferences controls which notifications are shown and when.
type Preferences struct {
	Enabled             bool
	NewStories          bool
	ReflectionReminders bool
	WeeklyDigest        bool
	QuietStart          int // Hour of day, 0-23
	QuietEnd            int
}

// DefaultPreferences enables everything with quiet hours from 22:00 to 08:00.
func DefaultPreferences() Preferences {
	return Preferences{
		Enabled:             true,
		NewStories:          true,
		ReflectionReminders: true,
		WeeklyDigest:        true,
		QuietStart:          22,
		QuietEnd:            8,
	}
}

// LoadPreferences overlays the stored notification keys on [DefaultPreferences].
//
// Malformed stored values return [shared.ErrInvalidInput] naming the key.
func LoadPreferences(ctx context.Context, src PreferenceSource) (Preferences, error) {
	p := DefaultPreferences()
	if src == nil {
		return p, nil
	}

	values, err := src.Map(ctx)
	if err != nil {
		return p, err
	}

	for key, dst := range map[string]*bool{
		KeyEnabled:             &p.Enabled,
		KeyNewStories:          &p.NewStories,
		KeyReflectionReminders: &p.ReflectionReminders,
		KeyWeeklyDigest:        &p.WeeklyDigest,
	} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return DefaultPreferences(), fmt.Errorf("%w: %s=%q is not a boolean", shared.ErrInvalidInput, key, raw)
		}
		*dst = b
	}

	for key, dst := range map[string]*int{KeyQuietStart: &p.QuietStart, KeyQuietEnd: &p.QuietEnd} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		h, err := ParseHour(raw)
		if err != nil {
			return DefaultPreferences(), fmt.Errorf("%s: %w", key, err)
		}
		*dst = h
	}

	return p, nil
}

// ParseHour accepts "8", "08" or "08:00" and returns the hour.
func ParseHour(s string) (int, error) {
	if t, err := time.Parse("15:04", s); err == nil {
		return t.Hour(), nil
	}
	h, err := strconv.Atoi(s)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: hour %q", shared.ErrInvalidInput, s)
	}
	return h, nil
}

// ValidateValue checks a value before it is stored under a notification key. Other keys pass.
func ValidateValue(key, value string) error {
	switch key {
	case KeyEnabled, KeyNewStories, KeyReflectionReminders, KeyWeeklyDigest:
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%w: %s expects true or false", shared.ErrInvalidInput, key)
		}
	case KeyQuietStart, KeyQuietEnd:
		if _, err := ParseHour(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// InQuietHours reports whether now's hour falls in [QuietStart, QuietEnd).
func (p Preferences) InQuietHours(now time.Time) bool {
	h := now.Hour()
	switch {
	case p.QuietStart == p.QuietEnd:
		return false
	case p.QuietStart < p.QuietEnd:
		return h >= p.QuietStart && h < p.QuietEnd
	default:
		return h >= p.QuietStart || h < p.QuietEnd
	}
}

// SuppressPush reports whether a push arriving at now should not be shown.
func (p Preferences) SuppressPush(now time.Time) bool {
	return !p.Enabled || !p.NewStories || p.InQuietHours(now)
}

// Reminders returns the reminders enabled by p.
func (p Preferences) Reminders() []Reminder {
	if !p.Enabled {
		return nil
	}
	var out []Reminder
	if p.ReflectionReminders {
		out = append(out, DailyReflection)
	}
	if p.WeeklyDigest {
		out = append(out, WeeklyDigest)
	}
	return out
}
