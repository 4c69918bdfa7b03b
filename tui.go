package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"voxchat/recorder"
	"voxchat/transcript"
)

// TUI message types
type RecordingStartMsg struct{ Device string }
type RecordingStopMsg struct {
	Chunks   int
	Size     int
	MIMEType string
	Duration time.Duration
}
type RecordingFailedMsg struct{ Err error }
type EntryMsg struct{ Entry transcript.Entry }
type NoticeMsg struct{ Text string }
type tickMsg time.Time

type tuiState int

const (
	tuiStateIdle tuiState = iota
	tuiStateRecording
)

// tuiActions are the side effects the model triggers. They run as tea.Cmds,
// off the render loop.
type tuiActions struct {
	Send     func(text string)
	Toggle   func()
	CopyLast func() string // returns a notice
}

type tuiModel struct {
	actions tuiActions

	state         tuiState
	recStart      time.Time
	now           time.Time
	width, height int

	input   []rune
	entries []transcript.Entry
	scroll  int // lines scrolled up from the bottom

	serverLine  string
	deviceLine  string
	hotkeyLabel string
	notice      string
}

var (
	tuiProgram *tea.Program
	tuiMu      sync.Mutex
)

var (
	labelStyles = map[transcript.Role]lipgloss.Style{
		transcript.RoleUser:  lipgloss.NewStyle().Foreground(lipgloss.Color("4")).Bold(true),
		transcript.RoleBot:   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		transcript.RoleError: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

func newTUIModel(actions tuiActions, serverLine, hotkeyLabel string) tuiModel {
	return tuiModel{
		actions:     actions,
		serverLine:  serverLine,
		hotkeyLabel: hotkeyLabel,
		now:         time.Now(),
	}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

// tuiSend delivers msg to the running program, if any.
func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tickMsg:
		m.now = time.Time(msg)
		return m, tuiTick()

	case RecordingStartMsg:
		m.state = tuiStateRecording
		m.recStart = time.Now()
		m.now = m.recStart
		m.notice = ""
		if msg.Device != "" {
			m.deviceLine = "mic: " + msg.Device
		}

	case RecordingStopMsg:
		m.state = tuiStateIdle
		m.notice = fmt.Sprintf("sent %.1fs of audio (%.1f KB %s)", msg.Duration.Seconds(), float64(msg.Size)/1024, msg.MIMEType)

	case RecordingFailedMsg:
		m.state = tuiStateIdle
		m.notice = "microphone unavailable: " + msg.Err.Error()

	case EntryMsg:
		m.entries = append(m.entries, msg.Entry)
		m.scroll = 0

	case NoticeMsg:
		m.notice = msg.Text
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyEnter:
		text := string(m.input)
		m.input = m.input[:0]
		if strings.TrimSpace(text) == "" || m.actions.Send == nil {
			return m, nil
		}
		send := m.actions.Send
		return m, func() tea.Msg {
			send(text)
			return nil
		}

	case tea.KeyCtrlR:
		if m.actions.Toggle == nil {
			return m, nil
		}
		toggle := m.actions.Toggle
		return m, func() tea.Msg {
			toggle()
			return nil
		}

	case tea.KeyCtrlY:
		if m.actions.CopyLast == nil {
			return m, nil
		}
		copyLast := m.actions.CopyLast
		return m, func() tea.Msg {
			return NoticeMsg{Text: copyLast()}
		}

	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}

	case tea.KeyCtrlU:
		m.input = m.input[:0]

	case tea.KeyPgUp:
		m.scroll += max(m.transcriptHeight()-1, 1)

	case tea.KeyPgDown:
		m.scroll = max(m.scroll-max(m.transcriptHeight()-1, 1), 0)

	case tea.KeySpace:
		m.input = append(m.input, ' ')

	case tea.KeyRunes:
		for _, r := range msg.Runes {
			if r == '\n' || r == '\r' {
				r = ' '
			}
			m.input = append(m.input, r)
		}
	}
	return m, nil
}

// transcriptHeight is the number of rows left for the conversation after
// the status bar, the input line and the help line.
func (m tuiModel) transcriptHeight() int {
	return max(m.height-4, 1)
}

func renderEntry(e transcript.Entry, width int) []string {
	label := labelStyles[e.Role].Render(transcript.Label(e.Role) + ":")
	text := label + " " + transcript.Sanitize(e.Text)
	if width > 0 {
		text = lipgloss.NewStyle().Width(width).Render(text)
	}
	return strings.Split(text, "\n")
}

func (m tuiModel) statusLine() string {
	var status string
	if m.state == tuiStateRecording {
		status = recStyle.Render(fmt.Sprintf("● REC %.1fs", m.now.Sub(m.recStart).Seconds()))
	} else {
		status = idleStyle.Render("○ idle")
	}
	parts := []string{status}
	if m.serverLine != "" {
		parts = append(parts, idleStyle.Render(m.serverLine))
	}
	if m.deviceLine != "" {
		parts = append(parts, idleStyle.Render(m.deviceLine))
	}
	if m.notice != "" {
		parts = append(parts, noticeStyle.Render(m.notice))
	}
	return strings.Join(parts, dimStyle.Render("  │  "))
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var lines []string
	for _, e := range m.entries {
		lines = append(lines, renderEntry(e, m.width)...)
	}
	if len(lines) == 0 {
		lines = []string{idleStyle.Render("No messages yet. Type below or press Ctrl+R to record.")}
	}

	h := m.transcriptHeight()
	scroll := min(m.scroll, max(len(lines)-h, 0))
	end := len(lines) - scroll
	start := max(end-h, 0)
	visible := lines[start:end]
	for len(visible) < h {
		visible = append([]string{""}, visible...)
	}

	help := "enter send · ctrl+r record · ctrl+y copy reply · pgup/pgdn scroll · ctrl+c quit"
	if m.hotkeyLabel != "" {
		help = "enter send · ctrl+r / " + m.hotkeyLabel + " record · ctrl+y copy reply · ctrl+c quit"
	}

	var b strings.Builder
	b.WriteString(m.statusLine() + "\n")
	b.WriteString(strings.Join(visible, "\n") + "\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", m.width)) + "\n")
	b.WriteString(promptStyle.Render("> ") + transcript.Sanitize(string(m.input)) + "█\n")
	b.WriteString(dimStyle.Render(help))
	return b.String()
}

// tuiSink forwards events to the running program.
type tuiSink struct{}

func (tuiSink) RecordingStart(device string) { tuiSend(RecordingStartMsg{Device: device}) }
func (tuiSink) RecordingStop(p recorder.Payload) {
	tuiSend(RecordingStopMsg{Chunks: p.Chunks, Size: len(p.Data), MIMEType: p.MIMEType, Duration: p.Duration})
}
func (tuiSink) RecordingFailed(err error) { tuiSend(RecordingFailedMsg{Err: err}) }
func (tuiSink) Entry(e transcript.Entry)  { tuiSend(EntryMsg{Entry: e}) }
func (tuiSink) Notice(text string)        { tuiSend(NoticeMsg{Text: text}) }
