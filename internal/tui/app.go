package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/digggggmori-pixel/usbsentinel/pkg/types"
)

const maxRecent = 12

// ── Custom messages ──

type entryMsg types.UsageEntry

type watchDoneMsg struct {
	err error
}

// ── Watch Model ──

// WatchModel shows device connections as the watcher records them
type WatchModel struct {
	width     int
	height    int
	spinner   spinner.Model
	host      types.HostInfo
	started   time.Time
	recent    []types.UsageEntry
	total     int
	entries   <-chan types.UsageEntry
	done      <-chan error
	cancel    context.CancelFunc
	err       error
	quitting  bool
	finished  bool
	extraInfo string
}

// NewWatchModel creates the model. cancel stops the watcher; entries and
// done are fed by the watcher goroutine.
func NewWatchModel(host types.HostInfo, cancel context.CancelFunc, entries <-chan types.UsageEntry, done <-chan error) WatchModel {
	return WatchModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(ColorAccent)),
		),
		host:    host,
		started: time.Now(),
		entries: entries,
		done:    done,
		cancel:  cancel,
	}
}

// WithInfo sets an extra status line, e.g. the metrics address
func (m WatchModel) WithInfo(info string) WatchModel {
	m.extraInfo = info
	return m
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, listenEntries(m.entries), listenDone(m.done), tea.WindowSize())
}

func listenEntries(ch <-chan types.UsageEntry) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return entryMsg(e)
	}
}

func listenDone(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return watchDoneMsg{err: <-ch}
	}
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case entryMsg:
		m.total++
		m.recent = append(m.recent, types.UsageEntry(msg))
		if len(m.recent) > maxRecent {
			m.recent = m.recent[len(m.recent)-maxRecent:]
		}
		return m, listenEntries(m.entries)

	case watchDoneMsg:
		m.finished = true
		m.err = msg.err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// Err returns the watcher error that ended the view, if any
func (m WatchModel) Err() error {
	return m.err
}

// Total returns the number of connections seen
func (m WatchModel) Total() int {
	return m.total
}

func (m WatchModel) View() string {
	if m.quitting {
		return "\n  Stopping watch...\n\n"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("USB Sentinel") + "  " + SubtitleStyle.Render("real-time device watch"))
	b.WriteString("\n\n")
	b.WriteString(LabelStyle.Render("Host") + "  " + ValueStyle.Render(m.host.Hostname))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("OS") + "  " + ValueStyle.Render(m.host.OSVersion))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("Uptime") + "  " + ValueStyle.Render(time.Since(m.started).Round(time.Second).String()))
	b.WriteString("\n")
	b.WriteString(LabelStyle.Render("Seen") + "  " + ValueStyle.Render(fmt.Sprintf("%d connections", m.total)))
	b.WriteString("\n")
	if m.extraInfo != "" {
		b.WriteString(LabelStyle.Render("Info") + "  " + ValueStyle.Render(m.extraInfo))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(AlertStyle.Render("Watch failed: " + m.err.Error()))
	case m.finished:
		b.WriteString(HintStyle.Render("Watch stopped."))
	default:
		b.WriteString(m.spinner.View() + " " + StepActive.Render("Waiting for USB devices..."))
	}
	b.WriteString("\n\n")

	b.WriteString(SeparatorStyle.Render(strings.Repeat("─", 40)))
	b.WriteString("\n")
	if len(m.recent) == 0 {
		b.WriteString(StepPending.Render("No devices connected yet"))
		b.WriteString("\n")
	}
	for i := len(m.recent) - 1; i >= 0; i-- {
		e := m.recent[i]
		b.WriteString(StepDone.Render(e.Timestamp.Format("15:04:05")) + "  " +
			BadgeStyle.Render(e.Action) + " " + DetectionStyle.Render(Truncate(e.DeviceID, 60)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(HintStyle.Render("q: stop watching"))

	return frame(b.String(), m.width, m.height)
}

// frame draws content inside a rounded border of exactly w×h cells
func frame(content string, w, h int) string {
	if w < 40 {
		w = 80
	}
	if h < 10 {
		h = 24
	}

	// Content area: inside border(2 cols) + horizontal padding(2 cols)
	cw := w - 4
	ch := h - 2

	srcLines := strings.Split(content, "\n")
	capStyle := lipgloss.NewStyle().MaxWidth(cw)
	cropped := make([]string, ch)
	for i := 0; i < ch; i++ {
		if i < len(srcLines) {
			cropped[i] = capStyle.Render(srcLines[i])
		}
		if vis := lipgloss.Width(cropped[i]); vis < cw {
			cropped[i] += strings.Repeat(" ", cw-vis)
		}
	}

	borderFg := lipgloss.NewStyle().Foreground(ColorBorder)
	hBar := strings.Repeat("─", w-2)
	vBar := borderFg.Render("│")

	out := make([]string, 0, h)
	out = append(out, borderFg.Render("╭"+hBar+"╮"))
	for _, line := range cropped {
		out = append(out, vBar+" "+line+" "+vBar)
	}
	out = append(out, borderFg.Render("╰"+hBar+"╯"))

	return strings.Join(out, "\n")
}

// RunWatch starts the Bubble Tea program and blocks until the user quits or
// the watcher finishes. It returns the watcher error, if any.
func RunWatch(model WatchModel) error {
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(WatchModel); ok {
		return m.Err()
	}
	return nil
}
