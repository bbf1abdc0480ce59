package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/gh0stshe11/reconpilot/internal/app/recon"
	"github.com/gh0stshe11/reconpilot/internal/domain/events"
	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

func printOK(w io.Writer, msg string) { fmt.Fprint(w, pterm.Success.Sprintln(msg)) }

func printError(w io.Writer, err error) { fmt.Fprint(w, pterm.Error.Sprintln(err.Error())) }

func renderTable(w io.Writer, data pterm.TableData) {
	out, err := pterm.DefaultTable.WithHasHeader(true).WithBoxed(false).WithData(data).Srender()
	if err != nil {
		printError(w, err)
		return
	}
	fmt.Fprintln(w, out)
}

func shortID(id fmt.Stringer) string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// renderEvent prints one line of scan progress. Events without an operator
// facing meaning are ignored.
func renderEvent(w io.Writer, evt events.Event) {
	switch p := evt.Payload.(type) {
	case domain.TaskStateChange:
		line := fmt.Sprintf("%-10s %-12s %s [%s]", p.To, p.Tool, p.Target, p.TaskID)
		switch p.To {
		case domain.TaskStatusRunning:
			fmt.Fprint(w, pterm.Info.Sprintln(line))
		case domain.TaskStatusSucceeded:
			fmt.Fprint(w, pterm.Success.Sprintln(line))
		case domain.TaskStatusFailed:
			fmt.Fprint(w, pterm.Error.Sprintfln("%s: %s %s", line, p.FailureReason, p.Error))
		case domain.TaskStatusSkipped:
			fmt.Fprint(w, pterm.Warning.Sprintln(line))
		}
	case events.ScopeViolation:
		fmt.Fprint(w, pterm.Warning.Sprintfln("out of scope: %s (rule %s, pattern %q)", p.Target, p.Rule, p.Pattern))
	case events.ConfirmationRequest:
		fmt.Fprint(w, pterm.Info.Sprintfln("confirm %s on %s? approve|reject %s (expires %s)",
			p.Tool, p.Target, p.RequestID, p.ExpiresAt.Local().Format(time.TimeOnly)))
	case events.ConfirmationDecision:
		verdict := "rejected"
		if p.Approved {
			verdict = "approved"
		}
		if p.TimedOut {
			verdict += " (timed out)"
		}
		fmt.Fprint(w, pterm.Info.Sprintfln("request %s %s", shortID(p.RequestID), verdict))
	case domain.DiscoveryIngestion:
		if p.Assets > 0 || p.Findings > 0 {
			fmt.Fprint(w, pterm.Info.Sprintfln("%s on %s: %d assets, %d findings, %d new tasks",
				p.Tool, p.Target, p.Assets, p.Findings, p.Derived))
		}
	case domain.SessionStateChange:
		fmt.Fprint(w, pterm.Info.Sprintfln("session %s is %s", p.Session.ID, p.Session.Status))
	}
}

func renderStatus(w io.Writer, st recon.Status) {
	fmt.Fprint(w, pterm.Info.Sprintfln("session %s  target %s  mode %s  status %s",
		st.SessionID, st.Target, st.Mode, st.SessionStatus))

	statuses := []domain.TaskStatus{
		domain.TaskStatusPending, domain.TaskStatusReady, domain.TaskStatusRunning,
		domain.TaskStatusSucceeded, domain.TaskStatusFailed, domain.TaskStatusSkipped,
	}
	header := []string{"tasks"}
	row := []string{strconv.Itoa(st.TotalTasks)}
	for _, s := range statuses {
		header = append(header, string(s))
		row = append(row, strconv.Itoa(st.Tasks[s]))
	}
	renderTable(w, pterm.TableData{header, row})

	renderTable(w, pterm.TableData{
		{"assets", "findings", "critical", "high", "risk score", "scope violations", "dropped events"},
		{
			strconv.Itoa(st.Assets), strconv.Itoa(st.Findings),
			strconv.Itoa(st.Critical()), strconv.Itoa(st.High()),
			strconv.Itoa(st.RiskScore), strconv.Itoa(st.ScopeViolations),
			strconv.FormatUint(st.DroppedEvents, 10),
		},
	})

	if tasks := slices.Concat(st.Running, st.Failed, st.Skipped); len(tasks) > 0 {
		data := pterm.TableData{{"id", "tool", "target", "status", "reason", "attempts"}}
		for _, t := range tasks {
			reason := string(t.Reason)
			if t.Error != "" {
				reason = strings.TrimSpace(reason + " " + t.Error)
			}
			data = append(data, []string{
				t.ID.String(), t.Tool, t.Target, string(t.Status), reason, strconv.Itoa(t.Attempts),
			})
		}
		renderTable(w, data)
	}

	for _, req := range st.PendingConfirmations {
		fmt.Fprint(w, pterm.Warning.Sprintfln("pending: %s on %s -> approve|reject %s", req.Tool, req.Target, req.RequestID))
	}
}

func renderSessions(w io.Writer, sessions []*domain.Session) {
	if len(sessions) == 0 {
		fmt.Fprint(w, pterm.Info.Sprintln("no sessions"))
		return
	}
	data := pterm.TableData{{"id", "target", "mode", "status", "created", "updated"}}
	for _, s := range sessions {
		data = append(data, []string{
			s.ID().String(), s.Target(), string(s.Mode()), string(s.Status()),
			s.CreatedAt().Local().Format(time.DateTime), s.UpdatedAt().Local().Format(time.DateTime),
		})
	}
	renderTable(w, data)
}

func renderTools(w io.Writer, infos []domain.ToolInfo) {
	data := pterm.TableData{{"tool", "category", "passive", "root", "weight", "timeout", "enabled", "available"}}
	for _, t := range infos {
		data = append(data, []string{
			t.Name, string(t.Category), yesNo(t.Passive), yesNo(t.RequiresRoot),
			strconv.FormatFloat(t.Weight, 'f', -1, 64), t.Timeout.String(),
			yesNo(t.Enabled), yesNo(t.Available),
		})
	}
	renderTable(w, data)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
