package worker

import (
	"context"
	"time"

	"github.com/desertthunder/miroir/internal/notify"
)

// reminderRecheck bounds how long the loop sleeps, so preference changes are picked up.
const reminderRecheck = time.Hour

// nextReminder returns the enabled reminder that fires first after now.
func nextReminder(prefs notify.Preferences, now time.Time) (notify.Reminder, time.Time, bool) {
	var (
		first notify.Reminder
		at    time.Time
		found bool
	)
	for _, r := range prefs.Reminders() {
		next := r.Next(now)
		if !found || next.Before(at) {
			first, at, found = r, next, true
		}
	}
	return first, at, found
}

func (w *ServiceWorker) runReminders(ctx context.Context) error {
	for {
		now := w.now()
		r, at, ok := nextReminder(w.preferences(ctx), now)

		wait := reminderRecheck
		if ok && at.Sub(now) < wait {
			wait = at.Sub(now)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if ok && !w.now().Before(at) {
			if _, err := w.remind(ctx, r); err != nil {
				w.logger.Warn("reminder failed", "reminder", r.Name, "err", err)
			}
		}
	}
}

// remind shows r unless preferences turned it off or it is quiet time. It reports whether it was shown.
func (w *ServiceWorker) remind(ctx context.Context, r notify.Reminder) (bool, error) {
	now := w.now()
	prefs := w.preferences(ctx)

	enabled := false
	for _, candidate := range prefs.Reminders() {
		if candidate.Name == r.Name {
			enabled = true
		}
	}
	if !enabled || prefs.InQuietHours(now) {
		w.logger.Debug("reminder skipped", "reminder", r.Name, "enabled", enabled)
		return false, nil
	}

	if err := w.notifier.Notify(ctx, r.Notification(now)); err != nil {
		return false, err
	}
	return true, nil
}
