package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/queue"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSnapshotLoaded MsgKind = iota
	MsgRecordsLoaded
	MsgSyncComplete
	MsgRefreshTick
)

type snapshotResult struct {
	snapshot *Snapshot
	err      error
}

type recordsResult struct {
	category models.Category
	records  []*models.SubmissionRecord
	err      error
}

type syncResult struct {
	report queue.SyncReport
	err    error
}

// snapshotLoadedMsg is the constructor for [MsgSnapshotLoaded]
func snapshotLoadedMsg(snapshot *Snapshot, err error) Msg {
	return Msg{kind: MsgSnapshotLoaded, data: snapshotResult{snapshot, err}}
}

// recordsLoadedMsg is the constructor for [MsgRecordsLoaded]
func recordsLoadedMsg(category models.Category, records []*models.SubmissionRecord, err error) Msg {
	return Msg{kind: MsgRecordsLoaded, data: recordsResult{category, records, err}}
}

// syncCompleteMsg is the constructor for [MsgSyncComplete]
func syncCompleteMsg(report queue.SyncReport, err error) Msg {
	return Msg{kind: MsgSyncComplete, data: syncResult{report, err}}
}

// refreshTickMsg is the constructor for [MsgRefreshTick]
func refreshTickMsg() Msg {
	return Msg{kind: MsgRefreshTick}
}
