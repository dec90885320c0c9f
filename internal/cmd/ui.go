package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/elsewhere-cli/elsewhere/internal/lifecycle"
	"github.com/elsewhere-cli/elsewhere/internal/session"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(12)
)

// isTTY reports whether stdout is a terminal; plain output otherwise.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func render(style lipgloss.Style, s string) string {
	if !isTTY() {
		return s
	}
	return style.Render(s)
}

// printSessionSummary prints the connection details of an active
// session.
func printSessionSummary(sess *session.Session) {
	fmt.Printf("%s%s\n", render(labelStyle, "state"), render(okStyle, string(sess.Phase)))
	fmt.Printf("%s%s\n", render(labelStyle, "region"), sess.Region)
	fmt.Printf("%ssocks5://127.0.0.1:%d\n", render(labelStyle, "proxy"), sess.LocalPort)
	if sess.PublicIP != "" {
		fmt.Printf("%s%s\n", render(labelStyle, "exit ip"), sess.PublicIP)
	}
	if !sess.SystemProxy {
		fmt.Printf("%spoint applications at the SOCKS port directly\n", render(labelStyle, "note"))
	}
}

// printStatus prints the plain (non-watch) status view.
func printStatus(st *lifecycle.Status) {
	sess := st.Session

	state := string(sess.Phase)
	switch {
	case st.Degraded:
		state = render(failStyle, "degraded (tunnel died, run \"elsewhere stop\")")
	case sess.Phase == session.PhaseActive:
		state = render(okStyle, state)
	default:
		state = render(warnStyle, state)
	}

	fmt.Printf("%s%s\n", render(labelStyle, "state"), state)
	fmt.Printf("%s%s\n", render(labelStyle, "region"), sess.Region)
	fmt.Printf("%s%s\n", render(labelStyle, "session"), sess.ID)
	fmt.Printf("%ssocks5://127.0.0.1:%d\n", render(labelStyle, "proxy"), sess.LocalPort)
	if sess.PublicIP != "" {
		fmt.Printf("%s%s\n", render(labelStyle, "exit ip"), sess.PublicIP)
	}
	fmt.Printf("%s%s\n", render(labelStyle, "uptime"), sess.Uptime(time.Now()).Round(time.Second))
	if len(sess.Residual) > 0 {
		fmt.Printf("%s%s\n", render(labelStyle, "residual"), render(failStyle, fmt.Sprint(sess.Residual)))
	}
}

// printResults prints one line per resource reclaimed (or not) by a
// teardown or cleanup pass.
func printResults(results []lifecycle.ResourceResult) {
	for _, r := range results {
		name := r.String()
		if r.Region != "" {
			name = fmt.Sprintf("%s [%s]", name, r.Region)
		}
		switch r.Outcome {
		case lifecycle.OutcomeDestroyed:
			fmt.Printf("%s %s\n", render(okStyle, "destroyed"), name)
		case lifecycle.OutcomeAbsent:
			fmt.Printf("%s %s\n", render(okStyle, "already absent"), name)
		case lifecycle.OutcomeSkipped:
			fmt.Printf("%s %s\n", render(warnStyle, "skipped"), name)
		case lifecycle.OutcomeFailed:
			fmt.Printf("%s %s: %v\n", render(failStyle, "FAILED"), name, r.Err)
		}
	}
}
