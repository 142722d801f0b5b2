package viewer

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"tunecast/internal/domain"
	"tunecast/internal/history"
)

// HistorySource is the slice of the ledger the browser needs
type HistorySource interface {
	Query(filterType domain.EntryType, titleSubstring string) []domain.HistoryEntry
	ExportFiltered(entries []domain.HistoryEntry, format history.ExportFormat) (string, error)
	ClearAll() error
}

// historyModel is a single-column browser over the play history with
// type cycling, live title filtering and export shortcuts.
type historyModel struct {
	source HistorySource

	entries []domain.HistoryEntry
	cursor  int
	offset  int

	width  int
	height int

	filterActive bool
	filterInput  textinput.Model
	typeFilter   domain.EntryType

	confirmClear bool
	status       string
	quitting     bool
}

func newHistoryModel(source HistorySource) historyModel {
	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.Prompt = "/ "
	ti.PromptStyle = accentStyle
	ti.TextStyle = textStyle

	m := historyModel{source: source, filterInput: ti, height: 24, width: 80}
	m.reload()
	return m
}

// RunHistoryBrowser blocks until the user leaves the history view
func RunHistoryBrowser(source HistorySource) error {
	_, err := tea.NewProgram(newHistoryModel(source), tea.WithAltScreen()).Run()
	return err
}

func (m *historyModel) reload() {
	m.entries = m.source.Query(m.typeFilter, m.filterInput.Value())
	if m.cursor >= len(m.entries) {
		m.cursor = max(0, len(m.entries)-1)
	}
	m.ensureVisible()
}

func (m historyModel) Init() tea.Cmd {
	return nil
}

func (m historyModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ensureVisible()
		return m, nil

	case tea.KeyMsg:
		if m.confirmClear {
			return m.updateConfirm(msg)
		}
		if m.filterActive && m.filterInput.Focused() {
			return m.updateFilter(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m historyModel) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		if err := m.source.ClearAll(); err != nil {
			m.status = "clear failed: " + err.Error()
		} else {
			m.status = "history cleared"
		}
		m.confirmClear = false
		m.reload()
	default:
		m.confirmClear = false
		m.status = ""
	}
	return m, nil
}

func (m historyModel) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.clearFilter()
		return m, nil
	case "enter":
		m.filterInput.Blur()
		return m, nil
	case "backspace":
		if m.filterInput.Value() == "" {
			m.clearFilter()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.reload()
	return m, cmd
}

func (m historyModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		if m.filterActive && msg.String() == "esc" {
			m.clearFilter()
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case "j", "down":
		if m.cursor < len(m.entries)-1 {
			m.cursor++
			m.ensureVisible()
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
			m.ensureVisible()
		}
	case "g":
		m.cursor, m.offset = 0, 0
	case "G":
		m.cursor = max(0, len(m.entries)-1)
		m.ensureVisible()
	case "ctrl+d":
		m.cursor = min(len(m.entries)-1, m.cursor+m.visibleRows()/2)
		m.ensureVisible()
	case "ctrl+u":
		m.cursor = max(0, m.cursor-m.visibleRows()/2)
		m.ensureVisible()

	case "/":
		m.filterActive = true
		m.filterInput.Focus()
		return m, textinput.Blink

	case "t":
		m.typeFilter = nextTypeFilter(m.typeFilter)
		m.cursor, m.offset = 0, 0
		m.reload()

	case "e":
		m.export(history.FormatCSV)
	case "E":
		m.export(history.FormatJSON)

	case "D":
		if len(m.entries) > 0 || m.typeFilter != "" {
			m.confirmClear = true
		}
	}
	return m, nil
}

func (m *historyModel) export(format history.ExportFormat) {
	path, err := m.source.ExportFiltered(m.entries, format)
	if err != nil {
		m.status = "export failed: " + err.Error()
		return
	}
	m.status = "exported to " + path
}

func (m *historyModel) clearFilter() {
	m.filterActive = false
	m.filterInput.Blur()
	m.filterInput.SetValue("")
	m.cursor, m.offset = 0, 0
	m.reload()
}

func nextTypeFilter(cur domain.EntryType) domain.EntryType {
	switch cur {
	case "":
		return domain.EntryTypeSingle
	case domain.EntryTypeSingle:
		return domain.EntryTypePlaylistEntry
	default:
		return ""
	}
}

func (m *historyModel) visibleRows() int {
	// Header, filter line, status and footer take four rows
	return max(1, m.height-4)
}

func (m *historyModel) ensureVisible() {
	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

func (m historyModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	title := "Play History"
	if m.typeFilter != "" {
		title += " [" + string(m.typeFilter) + "]"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d entries", len(m.entries))))
	b.WriteString("\n")

	if m.filterActive {
		b.WriteString(m.filterInput.View() + "\n")
	} else {
		b.WriteString("\n")
	}

	rows := m.visibleRows()
	if len(m.entries) == 0 {
		b.WriteString(dimStyle.Render("  nothing here") + "\n")
	}
	for i := m.offset; i < len(m.entries) && i < m.offset+rows; i++ {
		b.WriteString(m.renderRow(i) + "\n")
	}

	if m.confirmClear {
		b.WriteString(errorStyle.Render("Delete ALL history? [y/N]"))
	} else if m.status != "" {
		b.WriteString(okStyle.Render(m.status))
	} else {
		b.WriteString(dimStyle.Render("j/k move · / filter · t type · e/E export csv/json · D clear · q quit"))
	}
	return b.String()
}

func (m historyModel) renderRow(i int) string {
	e := m.entries[i]
	when := time.Unix(e.Timestamp, 0).Format("2006-01-02 15:04")
	line := fmt.Sprintf("%s  %-40.40s  x%d", when, e.Title, e.PlayCount)

	if i == m.cursor {
		return selectedStyle.Render("> " + line)
	}
	return textStyle.Render("  " + line)
}
