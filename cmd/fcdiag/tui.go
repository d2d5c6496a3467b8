package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benchlab/fcdiag/pkg/models"
	"github.com/benchlab/fcdiag/pkg/reconcile"
	"github.com/benchlab/fcdiag/pkg/session"
	"github.com/benchlab/fcdiag/pkg/throughput"
	"github.com/benchlab/fcdiag/pkg/view"
)

// Dracula theme colors.
const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPink       = "#FF79C6"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaYellow     = "#F1FA8C"
	draculaComment    = "#6272A4"
)

const (
	refreshInterval = 250 * time.Millisecond
	historyTail     = 60
)

type styles struct {
	title, header, selected, ok, notOK, testing, unknown, help, status, errLine lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaPink)).
			Bold(true),
		header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)).
			Bold(true),
		selected: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaForeground)).
			Background(lipgloss.Color(draculaPurple)),
		ok:      lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)),
		notOK:   lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)),
		testing: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaYellow)),
		unknown: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment)),
		help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaComment)),
		status: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaCyan)),
		errLine: lipgloss.NewStyle().
			Foreground(lipgloss.Color(draculaRed)).
			Bold(true),
	}
}

type tickMsg time.Time

type opDoneMsg struct {
	op  string
	err error
}

type dashModel struct {
	ctrl  *session.Controller
	store *reconcile.Store
	meter *throughput.Meter

	sessionCfg models.SessionConfig

	search    textinput.Model
	searching bool
	filter    view.Filter
	sortKey   view.SortKey
	selected  int
	rows      []models.DeviceRecord

	notice  string
	canCopy bool
	styles  styles
}

func initialModel(
	ctrl *session.Controller,
	store *reconcile.Store,
	meter *throughput.Meter,
	sessionCfg models.SessionConfig,
) *dashModel {
	si := textinput.New()
	si.Placeholder = "uid or port"
	si.Width = 24
	si.PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan))
	si.TextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground))

	canCopy := clipboard.WriteAll("") == nil

	return &dashModel{
		ctrl:       ctrl,
		store:      store,
		meter:      meter,
		sessionCfg: sessionCfg,
		search:     si,
		filter:     view.FilterAll,
		sortKey:    view.SortStatus,
		canCopy:    canCopy,
		styles:     newStyles(),
	}
}

func (*dashModel) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tick()

	case opDoneMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		} else {
			m.notice = ""
		}

		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m *dashModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searching {
		switch msg.Type {
		case tea.KeyEsc, tea.KeyEnter:
			m.searching = false
			m.search.Blur()

			return m, nil
		default:
			var cmd tea.Cmd
			m.search, cmd = m.search.Update(msg)
			m.refresh()

			return m, cmd
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "/":
		m.searching = true
		m.search.Focus()

		return m, textinput.Blink

	case "f":
		m.filter = nextFilter(m.filter)
		m.refresh()

	case "o":
		m.sortKey = nextSort(m.sortKey)
		m.refresh()

	case "up", "k":
		if m.selected > 0 {
			m.selected--
		}

	case "down", "j":
		if m.selected < len(m.rows)-1 {
			m.selected++
		}

	case "s":
		cfg := m.sessionCfg

		return m, func() tea.Msg {
			return opDoneMsg{op: "start", err: m.ctrl.Start(context.Background(), cfg)}
		}

	case "x":
		return m, func() tea.Msg {
			return opDoneMsg{op: "stop", err: m.ctrl.Stop(context.Background())}
		}

	case "R":
		cfg := m.sessionCfg

		return m, func() tea.Msg {
			return opDoneMsg{op: "restart", err: m.ctrl.Reconfigure(context.Background(), cfg)}
		}

	case "r":
		if rec, ok := m.selectedRecord(); ok {
			key := rec.Key

			return m, func() tea.Msg {
				return opDoneMsg{op: "retest", err: m.ctrl.Retest(context.Background(), key)}
			}
		}

	case "y":
		if rec, ok := m.selectedRecord(); ok && m.canCopy {
			if err := clipboard.WriteAll(rec.Key); err != nil {
				m.notice = "copy failed"
			} else {
				m.notice = "copied " + rec.Key
			}
		}
	}

	return m, nil
}

func (m *dashModel) selectedRecord() (models.DeviceRecord, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return models.DeviceRecord{}, false
	}

	return m.rows[m.selected], true
}

func (m *dashModel) refresh() {
	m.rows = view.Project(m.store.Records(), m.filter, m.search.Value(), m.sortKey)

	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}

	if m.selected < 0 {
		m.selected = 0
	}
}

func nextFilter(f view.Filter) view.Filter {
	switch f {
	case view.FilterAll:
		return view.FilterTesting
	case view.FilterTesting:
		return view.FilterOK
	case view.FilterOK:
		return view.FilterNotOK
	default:
		return view.FilterAll
	}
}

func nextSort(k view.SortKey) view.SortKey {
	switch k {
	case view.SortStatus:
		return view.SortPort
	case view.SortPort:
		return view.SortUpdated
	default:
		return view.SortStatus
	}
}

func (m *dashModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("fcdiag bench diagnostics"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	b.WriteString(m.styles.header.Render(fmt.Sprintf(
		"  %-16s %-14s %-9s %-5s %6s %7s  %s",
		"KEY", "PORT", "STATE", "OK", "VBAT", "LOOP", "REASONS",
	)))
	b.WriteString("\n")

	if len(m.rows) == 0 {
		b.WriteString(m.styles.help.Render("  no devices"))
		b.WriteString("\n")
	}

	for i, rec := range m.rows {
		b.WriteString(m.renderRow(i, &rec))
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.errLine.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.styles.help.Render(
		"s start | x stop | R restart | r retest | / search | f filter | o sort | y copy | q quit",
	))
	b.WriteString("\n")

	return b.String()
}

func (m *dashModel) statusLine() string {
	state := string(m.ctrl.State())
	id := m.ctrl.SessionID()

	if id != "" && len(id) > 8 {
		id = id[:8]
	}

	parts := []string{
		"state=" + state,
		fmt.Sprintf("rate=%d ev/s", m.meter.Rate()),
		"filter=" + string(m.filter),
		"sort=" + string(m.sortKey),
	}

	if id != "" {
		parts = append(parts, "session="+id)
	}

	if m.searching || m.search.Value() != "" {
		parts = append(parts, "search="+m.search.View())
	}

	line := m.styles.status.Render(strings.Join(parts, "  "))

	if errStr := m.ctrl.LastError(); errStr != "" {
		line += "\n" + m.styles.errLine.Render("error: "+errStr)
	}

	return line
}

func (m *dashModel) renderRow(i int, rec *models.DeviceRecord) string {
	okStr := "-"

	switch {
	case rec.Data.Testing():
		okStr = "..."
	case rec.Data.OK == nil:
	case *rec.Data.OK:
		okStr = "PASS"
	default:
		okStr = "FAIL"
	}

	vbat := lastSample(models.Tail(rec.Data.History.Vbat, historyTail))
	loopHz := lastSample(models.Tail(rec.Data.History.LoopHz, historyTail))

	line := fmt.Sprintf(
		"  %-16s %-14s %-9s %-5s %6.2f %7.0f  %s",
		trunc(rec.Key, 16),
		trunc(rec.Data.Port, 14),
		rec.Data.State,
		okStr,
		vbat,
		loopHz,
		strings.Join(rec.Data.Reasons, ","),
	)

	if i == m.selected {
		return m.styles.selected.Render(line)
	}

	return m.rowStyle(rec).Render(line)
}

func (m *dashModel) rowStyle(rec *models.DeviceRecord) lipgloss.Style {
	switch {
	case rec.Data.Testing():
		return m.styles.testing
	case rec.Data.OK == nil:
		return m.styles.unknown
	case *rec.Data.OK:
		return m.styles.ok
	default:
		return m.styles.notOK
	}
}

func lastSample(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}

	return s[len(s)-1]
}

func trunc(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n-1] + "…"
}
