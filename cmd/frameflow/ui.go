package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/session"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/system"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	errorBoxStyle = boxStyle.Copy().
			BorderForeground(lipgloss.Color("#EF4444"))
)

// terminalNotifier prints classified engine errors as a boxed message.
type terminalNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func (n *terminalNotifier) Notify(note types.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintln(n.out)
	fmt.Fprintln(n.out, renderNotification(note))
}

func renderNotification(note types.Notification) string {
	style := errorBoxStyle
	title := errorStyle.Render("Engine error: " + string(note.Category))
	if !note.Category.IsError() {
		style = boxStyle.Copy().BorderForeground(lipgloss.Color("#F59E0B"))
		title = warnStyle.Render("Engine warning: " + string(note.Category))
	}

	lines := []string{title, "", note.Message}
	if note.Line != "" {
		lines = append(lines, "", labelStyle.Render("Output: ")+note.Line)
	}
	return style.Render(strings.Join(lines, "\n"))
}

func printResult(out io.Writer, result *types.InterpolationResult, runErr error) {
	rows := [][2]string{
		{"Engine", string(result.Engine)},
		{"Multiplier", fmt.Sprintf("%dx in %d pass(es)", result.Multiplier, result.Passes)},
		{"Output", result.OutputDir},
		{"Elapsed", session.FormatElapsed(result.Elapsed)},
	}
	if result.Notification != nil {
		rows = append(rows, [2]string{"Error", string(result.Notification.Category)})
	}

	var header string
	switch result.State {
	case types.RunStateSucceeded:
		header = successStyle.Render(result.Summary)
	case types.RunStateCanceled:
		header = warnStyle.Render("Interpolation canceled")
	default:
		header = errorStyle.Render("Interpolation failed")
		if runErr != nil {
			rows = append(rows, [2]string{"Cause", runErr.Error()})
		}
	}

	fmt.Fprintln(out, boxStyle.Render(header+"\n\n"+renderRows(rows)))
}

func renderRows(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		label := labelStyle.Render(fmt.Sprintf("%-*s", width+1, r[0]+":"))
		lines = append(lines, label+" "+r[1])
	}
	return strings.Join(lines, "\n")
}

func renderEngines(engines []types.EngineInfo) string {
	lines := []string{titleStyle.Render("Engines")}
	for _, e := range engines {
		status := errorStyle.Render("missing")
		if e.Installed {
			status = successStyle.Render("installed")
		}
		mode := "chained 2x passes"
		if e.NativeMultiplier {
			mode = "single pass"
		}
		lines = append(lines, fmt.Sprintf("%-10s %-28s %s", e.Kind, e.Name, status),
			labelStyle.Render(fmt.Sprintf("           %s, .%s frames, %s", mode, e.DefaultOutputExt, e.PackageDir)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderSystem(snap system.Snapshot) string {
	gpu := snap.GPU.Name
	if gpu == "" {
		gpu = "unknown"
	}
	vram := "unknown"
	if snap.GPU.FreeVRAMGB > 0 {
		vram = fmt.Sprintf("%.2f GB (%s)", snap.GPU.FreeVRAMGB, system.ClassifyVRAM(snap.GPU.FreeVRAMGB))
	}
	rows := [][2]string{
		{"GPU", gpu},
		{"Free VRAM", vram},
		{"CPU cores", fmt.Sprintf("%d", snap.Host.CPUCores)},
		{"CPU usage", fmt.Sprintf("%.1f%%", snap.Host.CPUPercent)},
		{"Memory used", fmt.Sprintf("%.1f%% (%d MB available)", snap.Host.MemoryUsedPercent, snap.Host.MemoryAvailableMB)},
		{"Load", fmt.Sprintf("%.2f %.2f %.2f", snap.Host.Load1, snap.Host.Load5, snap.Host.Load15)},
	}
	return boxStyle.Render(titleStyle.Render("System") + "\n\n" + renderRows(rows))
}

func renderRuns(runs []database.InterpolationRun) string {
	if len(runs) == 0 {
		return labelStyle.Render("No recorded runs")
	}
	lines := []string{titleStyle.Render("Runs")}
	for _, r := range runs {
		lines = append(lines, fmt.Sprintf("%s  %-10s %dx  %-9s %d/%d passes  %s",
			r.StartedAt.Format("2006-01-02 15:04"), r.Engine, r.Multiplier,
			statusStyle(r.Status).Render(string(r.Status)), r.PassesCompleted, r.PassesTotal, r.ID))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderRun(run *database.InterpolationRun) string {
	rows := [][2]string{
		{"ID", run.ID},
		{"Engine", run.Engine},
		{"Status", statusStyle(run.Status).Render(string(run.Status))},
		{"Input", run.InputDir},
		{"Output", run.OutputDir},
		{"Passes", fmt.Sprintf("%d/%d", run.PassesCompleted, run.PassesTotal)},
		{"Started", run.StartedAt.Format("2006-01-02 15:04:05")},
	}
	if run.ElapsedMs > 0 {
		rows = append(rows, [2]string{"Elapsed", session.FormatElapsed(msDuration(run.ElapsedMs))})
	}
	if run.ErrorCategory != "" {
		rows = append(rows, [2]string{"Error", run.ErrorCategory})
	}
	if run.Detail != "" {
		rows = append(rows, [2]string{"Detail", run.Detail})
	}
	for _, p := range run.Passes {
		rows = append(rows, [2]string{fmt.Sprintf("Pass %d", p.PassIndex),
			fmt.Sprintf("exit %d in %s", p.ExitCode, session.FormatElapsed(msDuration(p.ElapsedMs)))})
	}
	return boxStyle.Render(renderRows(rows))
}

func statusStyle(status database.RunStatus) lipgloss.Style {
	switch status {
	case database.RunStatusSucceeded:
		return successStyle
	case database.RunStatusCanceled, database.RunStatusRunning:
		return warnStyle
	default:
		return errorStyle
	}
}
