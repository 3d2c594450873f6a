package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/miroir/internal/models"
)

var (
	_ list.Item = categoryItem{}
	_ list.Item = recordItem{}
)

// categoryItem wraps a [CategoryStatus] to implement [list.Item].
type categoryItem struct {
	status CategoryStatus
}

func (i categoryItem) FilterValue() string { return string(i.status.Category) }
func (i categoryItem) Title() string       { return i.status.Category.Store() }
func (i categoryItem) Description() string {
	desc := fmt.Sprintf("%d pending • %d total", i.status.Unsynced, i.status.Total)
	if i.status.Unsynced == 0 {
		desc = fmt.Sprintf("all synced • %d total", i.status.Total)
	}
	return desc
}

// recordItem wraps [models.SubmissionRecord] to implement [list.Item].
type recordItem struct {
	record *models.SubmissionRecord
}

func (i recordItem) FilterValue() string { return i.record.ID() }
func (i recordItem) Title() string       { return i.record.ID() }
func (i recordItem) Description() string {
	state := "pending"
	if i.record.Synced() {
		state = "synced"
	}
	desc := fmt.Sprintf("%s • %s", i.record.Timestamp().Local().Format(time.DateTime), state)
	if n := i.record.Attempts(); n > 0 && !i.record.Synced() {
		desc = fmt.Sprintf("%s • %d failed attempts", desc, n)
	}
	if e := i.record.LastError(); e != "" {
		desc = fmt.Sprintf("%s • %s", desc, e)
	}
	return desc
}
