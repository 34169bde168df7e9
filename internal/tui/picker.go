// Package tui holds the interactive terminal candidate picker.
package tui

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"github.com/lvcoi/dgetmusic/internal/resolver"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#0B0B0B")).
				Background(lipgloss.Color("#7FDBFF")).
				Bold(true).
				Padding(0, 1)

	pickerHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6ADC8")).
			Faint(true)

	pickerHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#F8F8F2")).
				Bold(true)

	pickerSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#0B0B0B")).
				Background(lipgloss.Color("#00F5D4")).
				Bold(true)

	pickerRowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EAEAEA"))
)

const digitBufferTimeout = 1500 * time.Millisecond

type pickerModel struct {
	viewport      viewport.Model
	title         string
	ready         bool
	width         int
	height        int
	candidates    []resolver.Candidate
	selected      int
	chosen        bool
	quitting      bool
	digitBuffer   string
	lastDigitTime time.Time
}

type quitMsg struct{}

type digitBufferExpireMsg struct {
	expireTime time.Time
}

func newPickerModel(title string, candidates []resolver.Candidate) *pickerModel {
	vp := viewport.New(80, 20)
	vp.MouseWheelEnabled = true
	vp.Style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#7FDBFF"))

	m := &pickerModel{
		viewport:   vp,
		title:      title,
		width:      80,
		height:     24,
		candidates: candidates,
		selected:   0,
	}
	if len(candidates) == 0 {
		m.selected = -1
	}
	vp.SetContent(buildRows(candidates, m.selected, 80))
	m.viewport = vp
	return m
}

// FormatDuration renders seconds as m:ss or h:mm:ss, and "--:--" when unknown.
func FormatDuration(c resolver.Candidate) string {
	secs, ok := c.Duration.Get()
	if !ok {
		return "--:--"
	}
	h, m, s := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func buildRows(candidates []resolver.Candidate, selected, width int) string {
	titleWidth := width - 16
	if titleWidth < 20 {
		titleWidth = 20
	}

	var b strings.Builder
	b.WriteString(pickerHeaderStyle.Render(fmt.Sprintf("  #   %-8s %s", "length", "title")))
	b.WriteString("\n")
	for i, c := range candidates {
		line := fmt.Sprintf("%3d   %-8s %s", i+1, FormatDuration(c), truncate.StringWithTail(c.Title, uint(titleWidth), "…"))
		if i == selected {
			line = pickerSelectedStyle.Render(line)
		} else {
			line = pickerRowStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *pickerModel) Init() tea.Cmd {
	return nil
}

func scheduleDigitBufferExpiry(expireTime time.Time) tea.Cmd {
	return tea.Tick(digitBufferTimeout, func(time.Time) tea.Msg {
		return digitBufferExpireMsg{expireTime: expireTime}
	})
}

func quitAfterDelay() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return quitMsg{}
	})
}

func (m *pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.quitting {
		switch msg := msg.(type) {
		case tea.WindowSizeMsg:
			m.width = msg.Width
			m.height = msg.Height
			return m, nil
		case quitMsg:
			return m, tea.Quit
		default:
			return m, nil
		}
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 2
		m.viewport.Height = msg.Height - 6
		m.updateContent()
		m.viewport, cmd = m.viewport.Update(msg)
		m.ready = true
		return m, cmd
	case tea.KeyMsg:
		n := len(m.candidates)
		switch key := msg.String(); key {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			m.chosen = false
			return m, quitAfterDelay()
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			} else if n > 0 {
				m.selected = n - 1
			}
			m.updateContent()
		case "down", "j":
			if m.selected < n-1 {
				m.selected++
			} else if n > 0 {
				m.selected = 0
			}
			m.updateContent()
		case "home", "g":
			if n > 0 {
				m.selected = 0
			}
			m.updateContent()
		case "end", "G":
			if n > 0 {
				m.selected = n - 1
			}
			m.updateContent()
		case "enter":
			if m.selected >= 0 && m.selected < n {
				m.chosen = true
				m.quitting = true
				return m, quitAfterDelay()
			}
		case "0", "1", "2", "3", "4", "5", "6", "7", "8", "9":
			now := time.Now()
			if !m.lastDigitTime.IsZero() && now.Sub(m.lastDigitTime) > digitBufferTimeout {
				m.digitBuffer = ""
			}
			m.digitBuffer += key
			m.lastDigitTime = now
			idx, err := strconv.Atoi(m.digitBuffer)
			if err != nil || idx < 1 || idx > n {
				m.digitBuffer = ""
				return m, nil
			}
			m.selected = idx - 1
			m.updateContent()
			if idx*10 > n {
				m.digitBuffer = ""
				return m, nil
			}
			return m, scheduleDigitBufferExpiry(now)
		}
		return m, nil
	case digitBufferExpireMsg:
		if !m.lastDigitTime.IsZero() && msg.expireTime.Equal(m.lastDigitTime) {
			m.digitBuffer = ""
		}
		return m, nil
	case tea.MouseMsg:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case quitMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *pickerModel) updateContent() {
	m.viewport.SetContent(buildRows(m.candidates, m.selected, m.width))
	if m.selected < 0 {
		return
	}
	targetLine := 1 + m.selected
	top := m.viewport.YOffset
	bottom := top + m.viewport.Height - 2
	if targetLine < top {
		m.viewport.YOffset = targetLine
	} else if targetLine >= bottom {
		m.viewport.YOffset = targetLine - m.viewport.Height + 3
	}
}

func (m *pickerModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render(m.title))
	b.WriteString(" ")
	switch {
	case m.quitting && m.chosen:
		b.WriteString(pickerHelpStyle.Render(fmt.Sprintf("Selected #%d ✓", m.selected+1)))
	case m.quitting:
		b.WriteString(pickerHelpStyle.Render("Cancelled"))
	case m.digitBuffer != "":
		b.WriteString(pickerHelpStyle.Render(fmt.Sprintf("Typing #%s_", m.digitBuffer)))
	default:
		b.WriteString(pickerHelpStyle.Render("↑/↓ select · Enter play · q quit"))
	}
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if !m.quitting {
		b.WriteString(pickerHelpStyle.Render("Type a number to jump, Home/End for first/last"))
	}
	return b.String()
}

// Selection returns the chosen index, or -1 when the picker was cancelled.
func (m *pickerModel) Selection() int {
	if m.chosen && m.selected >= 0 && m.selected < len(m.candidates) {
		return m.selected
	}
	return -1
}

// Pick shows candidates full-screen on stderr and returns the chosen index,
// or -1 when the user cancelled.
func Pick(title string, candidates []resolver.Candidate) (int, error) {
	if len(candidates) == 0 {
		return -1, nil
	}
	model := newPickerModel(title, candidates)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(os.Stderr))
	result, err := p.Run()
	if err != nil {
		return -1, err
	}
	if m, ok := result.(*pickerModel); ok {
		return m.Selection(), nil
	}
	return -1, nil
}
