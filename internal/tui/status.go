// Package tui renders the live session status view for status --watch.
// The model re-reads the session record whenever the state file changes
// on disk and on a coarse tick, so tunnel death and externally driven
// teardown both show up without keypresses.
package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"

	"github.com/elsewhere-cli/elsewhere/internal/session"
)

// tickInterval drives uptime and tunnel-liveness refreshes between
// file events.
const tickInterval = time.Second

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
	activeStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	degradedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// StatusModel is the bubbletea model behind status --watch.
type StatusModel struct {
	store       *session.Store
	tunnelAlive func(pid int) bool
	watcher     *fsnotify.Watcher

	spinner spinner.Model
	sess    *session.Session
	loadErr error
	gone    bool
}

// NewStatusModel builds the watch model. tunnelAlive probes the tunnel
// process.
func NewStatusModel(store *session.Store, tunnelAlive func(pid int) bool) (*StatusModel, error) {
	// Watch the directory: the store replaces the file by rename, which
	// directory watches report reliably and file watches lose.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(store.Path())); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch state directory: %w", err)
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = pendingStyle

	m := &StatusModel{
		store:       store,
		tunnelAlive: tunnelAlive,
		watcher:     watcher,
		spinner:     sp,
	}
	m.reload()
	return m, nil
}

// Close releases the file watcher.
func (m *StatusModel) Close() {
	m.watcher.Close()
}

type fileChangedMsg struct{}

type tickMsg time.Time

func (m *StatusModel) watchCmd() tea.Cmd {
	return func() tea.Msg {
		target := filepath.Base(m.store.Path())
		for {
			select {
			case event, ok := <-m.watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				return fileChangedMsg{}
			case _, ok := <-m.watcher.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the spinner, the tick loop, and the file watch.
func (m *StatusModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd(), m.watchCmd())
}

// Update handles keypresses, file events, and ticks.
func (m *StatusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
		return m, nil

	case fileChangedMsg:
		m.reload()
		if m.gone {
			return m, tea.Quit
		}
		return m, m.watchCmd()

	case tickMsg:
		m.reload()
		if m.gone {
			return m, tea.Quit
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// reload re-reads the session record.
func (m *StatusModel) reload() {
	sess, err := m.store.Load()
	switch {
	case err == nil:
		m.sess, m.loadErr, m.gone = sess, nil, false
	case errors.Is(err, session.ErrNotFound):
		m.sess, m.loadErr, m.gone = nil, nil, true
	default:
		m.loadErr = err
	}
}

// View renders the status panel.
func (m *StatusModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("elsewhere session"))
	b.WriteString("\n\n")

	switch {
	case m.loadErr != nil:
		b.WriteString(degradedStyle.Render("state record unreadable"))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render(m.loadErr.Error()))
		b.WriteString("\n")
	case m.sess == nil:
		b.WriteString(mutedStyle.Render("no active session"))
		b.WriteString("\n")
	default:
		b.WriteString(m.renderSession())
	}

	b.WriteString("\n")
	b.WriteString(mutedStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m *StatusModel) renderSession() string {
	sess := m.sess
	alive := sess.TunnelPID > 0 && m.tunnelAlive(sess.TunnelPID)

	var state string
	switch {
	case sess.Phase == session.PhaseActive && alive:
		state = activeStyle.Render("active")
	case sess.Phase == session.PhaseActive && !alive:
		state = degradedStyle.Render("degraded (tunnel died, run \"elsewhere stop\")")
	case sess.Phase == session.PhaseTearingDown:
		state = m.spinner.View() + pendingStyle.Render(" tearing down")
	default:
		state = m.spinner.View() + pendingStyle.Render(" "+string(sess.Phase))
	}

	rows := []struct{ label, value string }{
		{"state", state},
		{"region", sess.Region},
		{"session", sess.ID},
		{"proxy", fmt.Sprintf("socks5://127.0.0.1:%d", sess.LocalPort)},
	}
	if sess.PublicIP != "" {
		rows = append(rows, struct{ label, value string }{"exit ip", sess.PublicIP})
	}
	rows = append(rows, struct{ label, value string }{"uptime", formatUptime(sess.Uptime(time.Now()))})
	if len(sess.Residual) > 0 {
		rows = append(rows, struct{ label, value string }{
			"residual", degradedStyle.Render(strings.Join(sess.Residual, ", ")),
		})
	}

	var b strings.Builder
	for _, row := range rows {
		b.WriteString(labelStyle.Render(row.label))
		b.WriteString(row.value)
		b.WriteString("\n")
	}
	return b.String()
}

// formatUptime renders a duration as 1h02m03s without fractional parts.
func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
