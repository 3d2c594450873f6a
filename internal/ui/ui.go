package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/miroir/internal/models"
	"github.com/desertthunder/miroir/internal/queue"
)

// RefreshInterval is how often the dashboard reloads its snapshot.
const RefreshInterval = 5 * time.Second

// CategoryStatus counts the records of one store.
type CategoryStatus struct {
	Category models.Category
	Total    int
	Unsynced int
}

// Snapshot is the state the dashboard renders.
type Snapshot struct {
	Version     string
	Generations []models.CacheGeneration
	Categories  []CategoryStatus
	PendingTags []string
	TakenAt     time.Time
}

// Backend supplies the dashboard with data and runs syncs on demand.
type Backend interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
	Records(ctx context.Context, category models.Category) ([]*models.SubmissionRecord, error)
	Sync(ctx context.Context, category models.Category) (queue.SyncReport, error)
}

// ViewState represents the current view in the TUI.
type ViewState int

const (
	DashboardView ViewState = iota
	RecordListView
	ConfirmView
	SyncView
	ResultView
)

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	backend      Backend
	width        int
	height       int
	snapshot     *Snapshot
	categoryList list.Model
	recordList   list.Model
	selected     models.Category
	report       *queue.SyncReport
	syncErr      error
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model over backend.
func NewModel(ctx context.Context, backend Backend) *Model {
	return &Model{
		ctx:          ctx,
		view:         DashboardView,
		backend:      backend,
		categoryList: newList(nil, "Submission stores"),
		recordList:   newList(nil, "Records"),
		help:         help.New(),
		keys:         newKeyMap(),
	}
}

func newList(items []list.Item, title string) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetShowHelp(false)
	return l
}

// Init loads the first snapshot and starts the refresh ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.loadSnapshot(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeLists()
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case DashboardView:
			return m.handleDashboardKeys(msg)
		case RecordListView:
			return m.handleRecordListKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case SyncView:
			if key.Matches(msg, m.keys.quit) {
				return m, tea.Quit
			}
			return m, nil
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSnapshotLoaded:
		res := msg.data.(snapshotResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		m.snapshot = res.snapshot
		items := make([]list.Item, len(res.snapshot.Categories))
		for i, c := range res.snapshot.Categories {
			items[i] = categoryItem{status: c}
		}
		cmd := m.categoryList.SetItems(items)
		return m, cmd

	case MsgRecordsLoaded:
		res := msg.data.(recordsResult)
		if res.err != nil {
			m.err = res.err
			m.view = DashboardView
			return m, nil
		}
		items := make([]list.Item, len(res.records))
		for i, r := range res.records {
			items[i] = recordItem{record: r}
		}
		m.recordList = newList(items, res.category.Store())
		m.resizeLists()
		m.view = RecordListView
		return m, nil

	case MsgSyncComplete:
		res := msg.data.(syncResult)
		m.report = &res.report
		m.syncErr = res.err
		m.view = ResultView
		return m, m.loadSnapshot()

	case MsgRefreshTick:
		return m, tea.Batch(m.loadSnapshot(), m.tick())
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit", m.err))
	}

	switch m.view {
	case DashboardView:
		return m.renderDashboard()
	case RecordListView:
		return m.renderRecordList()
	case ConfirmView:
		return m.renderConfirm()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleDashboardKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.categoryList.FilterState() == list.Filtering {
		return m.updateLists(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.refresh):
		m.err = nil
		return m, m.loadSnapshot()
	case key.Matches(msg, m.keys.enter):
		if c, ok := m.selectedCategory(); ok {
			m.selected = c
			return m, m.loadRecords(c)
		}
	case key.Matches(msg, m.keys.sync):
		if c, ok := m.selectedCategory(); ok {
			m.selected = c
			m.view = ConfirmView
			return m, nil
		}
	}

	return m.updateLists(msg)
}

func (m *Model) handleRecordListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = DashboardView
		return m, nil
	case key.Matches(msg, m.keys.sync):
		m.view = ConfirmView
		return m, nil
	}
	return m.updateLists(msg)
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.quit):
		m.view = DashboardView
		return m, nil
	case key.Matches(msg, m.keys.yes):
		m.view = SyncView
		return m, m.runSync(m.selected)
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.refresh):
		m.view = DashboardView
		m.report = nil
		m.syncErr = nil
		return m, m.loadSnapshot()
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case DashboardView:
		m.categoryList, cmd = m.categoryList.Update(msg)
	case RecordListView:
		m.recordList, cmd = m.recordList.Update(msg)
	}
	return m, cmd
}

func (m *Model) resizeLists() {
	w, h := max(m.width-4, 0), max(m.height-14, 4)
	m.categoryList.SetSize(w, h)
	m.recordList.SetSize(w, max(m.height-6, 4))
}

func (m *Model) selectedCategory() (models.Category, bool) {
	item, ok := m.categoryList.SelectedItem().(categoryItem)
	if !ok {
		return "", false
	}
	return item.status.Category, true
}

func (m *Model) loadSnapshot() tea.Cmd {
	return func() tea.Msg {
		snapshot, err := m.backend.Snapshot(m.ctx)
		return snapshotLoadedMsg(snapshot, err)
	}
}

func (m *Model) loadRecords(category models.Category) tea.Cmd {
	return func() tea.Msg {
		records, err := m.backend.Records(m.ctx, category)
		return recordsLoadedMsg(category, records, err)
	}
}

func (m *Model) runSync(category models.Category) tea.Cmd {
	return func() tea.Msg {
		report, err := m.backend.Sync(m.ctx, category)
		return syncCompleteMsg(report, err)
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(time.Time) tea.Msg { return refreshTickMsg() })
}

func (m *Model) renderDashboard() string {
	if m.snapshot == nil {
		return styles.help.Render("Loading…")
	}

	title := styles.title.Render(fmt.Sprintf("Miroir offline status • %s", m.snapshot.Version))

	var gens strings.Builder
	gens.WriteString("Cache generations\n")
	if len(m.snapshot.Generations) == 0 {
		gens.WriteString(styles.warn.Render("  none installed"))
	}
	for i, g := range m.snapshot.Generations {
		line := fmt.Sprintf("  %s  %d entries  %s", g.Name, g.Entries, humanBytes(g.Bytes))
		if string(g.Name) == m.snapshot.Version {
			line = styles.ok.Render(line + "  (current)")
		} else {
			line = styles.warn.Render(line + "  (stale)")
		}
		if i > 0 {
			gens.WriteString("\n")
		}
		gens.WriteString(line)
	}

	pending := "none"
	if len(m.snapshot.PendingTags) > 0 {
		tags := append([]string(nil), m.snapshot.PendingTags...)
		sort.Strings(tags)
		pending = strings.Join(tags, ", ")
	}
	tags := fmt.Sprintf("Deferred syncs: %s", pending)

	helpKeys := []key.Binding{m.keys.enter, m.keys.sync, m.keys.refresh, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s\n\n%s\n\n%s", title, styles.box.Render(gens.String()), tags, m.categoryList.View(), helpView)
}

func (m *Model) renderRecordList() string {
	helpKeys := []key.Binding{m.keys.sync, m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)
	return fmt.Sprintf("%s\n\n%s", m.recordList.View(), helpView)
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Deliver pending %s now?", m.selected.Store()))

	info := ""
	if m.snapshot != nil {
		for _, c := range m.snapshot.Categories {
			if c.Category == m.selected {
				info = fmt.Sprintf("\nPending records: %d\n", c.Unsynced)
			}
		}
	}

	helpKeys := []key.Binding{m.keys.yes, m.keys.no, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n%s", title, info, helpView)
}

func (m *Model) renderSync() string {
	title := styles.title.Render("Syncing " + m.selected.Store())
	return fmt.Sprintf("%s\n\nDelivering pending records...", title)
}

func (m *Model) renderResult() string {
	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	if m.syncErr != nil {
		return styles.err.Render(fmt.Sprintf("Sync failed: %v\n\nPress esc to go back, q to quit", m.syncErr))
	}
	if m.report == nil {
		return styles.err.Render("No result available\n\nPress esc to go back, q to quit")
	}

	r := m.report
	title := styles.ok.Render(fmt.Sprintf("✓ Sync of %s finished", r.Category.Store()))
	info := fmt.Sprintf("\nPending: %d\nDelivered: %d\nFailed: %d", r.Pending, r.Delivered, r.Failed)

	var failed string
	if r.Failed > 0 {
		failed = fmt.Sprintf("\n\n%s", styles.warn.Render(fmt.Sprintf("%d records stay queued:", r.Failed)))
		ids := make([]string, 0, len(r.Errors))
		for id := range r.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			failed += fmt.Sprintf("\n  • %s: %s", id, r.Errors[id])
		}
	}

	return fmt.Sprintf("%s\n%s%s\n\n%s", title, info, failed, helpView)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
