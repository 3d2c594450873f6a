package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/miroir/internal/notify"
	"github.com/desertthunder/miroir/internal/shared"
)

// PrefsList prints every preference key with its effective value.
func (r *Runner) PrefsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	prefs, err := notify.LoadPreferences(ctx, a.preferences)
	if err != nil {
		r.logger.Warn("stored preferences are invalid, showing defaults", "error", err)
	}

	effective := map[string]string{
		notify.KeyEnabled:             strconv.FormatBool(prefs.Enabled),
		notify.KeyNewStories:          strconv.FormatBool(prefs.NewStories),
		notify.KeyReflectionReminders: strconv.FormatBool(prefs.ReflectionReminders),
		notify.KeyWeeklyDigest:        strconv.FormatBool(prefs.WeeklyDigest),
		notify.KeyQuietStart:          strconv.Itoa(prefs.QuietStart),
		notify.KeyQuietEnd:            strconv.Itoa(prefs.QuietEnd),
	}

	if cmd.Bool("json") {
		return r.writeJSON(effective, true)
	}

	r.writePlainHeader("Notification preferences")
	for _, key := range notify.Keys() {
		r.writePlain("%-36s %s\n", key, effective[key])
	}
	return nil
}

// PrefsGet prints one stored preference.
func (r *Runner) PrefsGet(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("key")
	if key == "" {
		return fmt.Errorf("%w: key is required", shared.ErrMissingArgument)
	}

	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	pref, err := a.preferences.Get(ctx, key)
	if errors.Is(err, shared.ErrPreferenceNotFound) {
		r.writePlain("%s is not set, the default applies\n", key)
		return nil
	}
	if err != nil {
		return err
	}

	r.writePlain("%s = %s\n", pref.Key, pref.Value)
	return nil
}

// PrefsSet validates and stores a preference.
func (r *Runner) PrefsSet(ctx context.Context, cmd *cli.Command) error {
	key, value := cmd.StringArg("key"), cmd.StringArg("value")
	if key == "" || value == "" {
		return fmt.Errorf("%w: key and value are required", shared.ErrMissingArgument)
	}
	if err := notify.ValidateValue(key, value); err != nil {
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

	if err := a.preferences.Set(ctx, key, value); err != nil {
		return err
	}
	r.writePlain("✓ %s = %s\n", key, value)
	return nil
}

// PrefsReset removes a stored preference.
func (r *Runner) PrefsReset(ctx context.Context, cmd *cli.Command) error {
	key := cmd.StringArg("key")
	if key == "" {
		return fmt.Errorf("%w: key is required", shared.ErrMissingArgument)
	}

	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.preferences.Delete(ctx, key); err != nil {
		return err
	}
	r.writePlain("✓ %s reset to default\n", key)
	return nil
}

// NotifyPush handles a push payload given as an argument, or read from stdin when the argument is "-".
func (r *Runner) NotifyPush(ctx context.Context, cmd *cli.Command) error {
	payload := []byte(cmd.StringArg("payload"))
	if string(payload) == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		payload = data
	}

	if err := r.configure(cmd); err != nil {
		return err
	}

	a, err := r.open(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.worker.Push(ctx, payload)
	if err != nil {
		return err
	}
	if n == nil {
		r.writePlain("Notification suppressed by preferences\n")
		return nil
	}

	if cmd.Bool("json") {
		return r.writeJSON(n, true)
	}
	r.writePlain("%s\n%s\n", n.Title, n.Body)
	for _, action := range n.Actions {
		r.writePlain("  [%s] %s\n", action.Action, action.Title)
	}
	return nil
}

// NotifyClick prints the page a notification action opens.
func (r *Runner) NotifyClick(ctx context.Context, cmd *cli.Command) error {
	target := notify.Click(cmd.StringArg("action"))
	if target == "" {
		r.writePlain("Notification closed, nothing opens\n")
		return nil
	}

	u := r.config.Server.Origin + target
	r.writePlain("Opens %s\n", u)
	return nil
}
