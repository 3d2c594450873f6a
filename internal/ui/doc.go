// Package ui implements the status dashboard of the offline runtime using bubbletea's Elm architecture.
//
// The TUI has a small multi-view workflow:
//  1. [DashboardView] : Cache generations, deferred sync tags and one entry per submission store
//  2. [RecordListView] : Records of the selected store with their sync state
//  3. [ConfirmView] : Confirm an on-demand sync
//  4. [SyncView] : Wait for the sync run
//  5. [ResultView] : Delivered and failed counts, with the error per failed record
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Data comes from a [Backend]; the dashboard reloads its [Snapshot] every [RefreshInterval].
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s, y/n, r, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
