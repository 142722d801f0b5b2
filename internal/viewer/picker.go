package viewer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"
)

// PickItem is one selectable row in a picker
type PickItem struct {
	Title    string
	Subtitle string
}

// itemSource adapts items for fuzzy ranking over title and subtitle
type itemSource []PickItem

func (s itemSource) String(i int) string { return s[i].Title + " " + s[i].Subtitle }
func (s itemSource) Len() int            { return len(s) }

// pickerModel is an always-filtering selection list, used for search
// results and the offline cache.
type pickerModel struct {
	heading string
	items   []PickItem

	input   textinput.Model
	visible []int // indices into items, fuzzy-ranked while filtering

	cursor   int
	offset   int
	height   int
	selected int
	quitting bool
}

func newPickerModel(heading string, items []PickItem) pickerModel {
	ti := textinput.New()
	ti.Placeholder = "type to filter..."
	ti.Prompt = "> "
	ti.PromptStyle = accentStyle
	ti.TextStyle = textStyle
	ti.Focus()

	m := pickerModel{
		heading:  heading,
		items:    items,
		input:    ti,
		height:   24,
		selected: -1,
	}
	m.applyFilter()
	return m
}

// Pick shows the list and blocks until a row is chosen or the picker
// is dismissed. Returns the index into items, or -1 on cancel.
func Pick(heading string, items []PickItem) (int, error) {
	final, err := tea.NewProgram(newPickerModel(heading, items)).Run()
	if err != nil {
		return -1, err
	}
	return final.(pickerModel).selected, nil
}

func (m *pickerModel) applyFilter() {
	query := strings.TrimSpace(m.input.Value())
	m.visible = m.visible[:0]
	if query == "" {
		for i := range m.items {
			m.visible = append(m.visible, i)
		}
	} else {
		for _, match := range fuzzy.FindFrom(query, itemSource(m.items)) {
			m.visible = append(m.visible, match.Index)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = max(0, len(m.visible)-1)
	}
	m.ensureVisible()
}

func (m pickerModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.ensureVisible()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if len(m.visible) > 0 {
				m.selected = m.visible[m.cursor]
			}
			m.quitting = true
			return m, tea.Quit
		case "down", "ctrl+n":
			if m.cursor < len(m.visible)-1 {
				m.cursor++
				m.ensureVisible()
			}
			return m, nil
		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
				m.ensureVisible()
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.applyFilter()
		return m, cmd
	}
	return m, nil
}

func (m *pickerModel) visibleRows() int {
	return max(1, m.height-4)
}

func (m *pickerModel) ensureVisible() {
	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
}

func (m pickerModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.heading))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %d/%d", len(m.visible), len(m.items))))
	b.WriteString("\n" + m.input.View() + "\n")

	rows := m.visibleRows()
	if len(m.visible) == 0 {
		b.WriteString(dimStyle.Render("  no matches") + "\n")
	}
	for i := m.offset; i < len(m.visible) && i < m.offset+rows; i++ {
		item := m.items[m.visible[i]]
		line := item.Title
		if item.Subtitle != "" {
			line += dimStyle.Render("  " + item.Subtitle)
		}
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("> ") + titleStyle.Render(line) + "\n")
		} else {
			b.WriteString("  " + textStyle.Render(line) + "\n")
		}
	}

	b.WriteString(dimStyle.Render("enter select · esc cancel"))
	return b.String()
}
