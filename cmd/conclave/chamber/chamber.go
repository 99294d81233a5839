// Package chamber implements the interactive council chamber using bubbletea.
// The chamber renders the five seats, the active speaker's words, and the
// session transcript, driven entirely by the session controller's event
// stream.
package chamber

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"conclave/cmd/conclave/ui"
	"conclave/internal/council"
	"conclave/internal/session"
)

// unsealPhrase is the hidden absolution gesture: typed blind on the
// disbanded screen, it resets the strike counter.
const unsealPhrase = "absolvo"

// Messages for tea updates.
type (
	sessionEventMsg session.Event
	sessionDoneMsg  struct{ err error }
	banLiftedMsg    struct{ err error }
)

// chamberModel is the main model for the interactive chamber.
type chamberModel struct {
	// UI components
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	styles    ui.Styles
	renderer  *glamour.TermRenderer

	// Backend
	ctrl    *session.Controller
	members []council.Member

	// Mirrored session state, updated from the event stream
	state         session.State
	history       []session.TranscriptMessage
	activeSpeaker string
	statement     string
	strikes       int
	rejection     string
	notice        string

	// Hidden reset gesture buffer, only fed while disbanded
	unsealBuffer string

	sessionCancel context.CancelFunc

	width  int
	height int
	ready  bool
	err    error
}

// New builds the chamber model around a session controller.
func New(ctrl *session.Controller) chamberModel {
	styles := ui.DefaultStyles()

	ti := textinput.New()
	ti.Placeholder = "Address the Council... (Enter to submit, Ctrl+C to leave)"
	ti.Focus()
	ti.Prompt = "│ "
	ti.CharLimit = 2048
	ti.Width = 80
	ti.PromptStyle = styles.Prompt
	ti.TextStyle = styles.UserInput

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 12)
	vp.SetContent("")

	var renderer *glamour.TermRenderer
	if styles.Theme.IsDark {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(80),
		)
	} else {
		renderer, _ = glamour.NewTermRenderer(
			glamour.WithStylePath("light"),
			glamour.WithWordWrap(80),
		)
	}

	return chamberModel{
		textinput: ti,
		viewport:  vp,
		spinner:   sp,
		styles:    styles,
		renderer:  renderer,
		ctrl:      ctrl,
		members:   ctrl.Members(),
		state:     ctrl.State(),
		strikes:   ctrl.Strikes(),
	}
}

func (m chamberModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.waitForEvent(),
	)
}

// waitForEvent blocks on the controller's event stream and re-arms itself
// after every delivery.
func (m chamberModel) waitForEvent() tea.Cmd {
	events := m.ctrl.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return sessionEventMsg(ev)
	}
}

func (m chamberModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			// There is no mid-debate cancellation; leaving the chamber is
			// the only way out, and it tears the live session down with it.
			if m.sessionCancel != nil {
				m.sessionCancel()
			}
			return m, tea.Quit

		case tea.KeyEnter:
			if m.state == session.StateIdle {
				return m.handleSubmit()
			}
			return m, nil
		}

		if m.state == session.StateBanned {
			return m.handleUnsealKeystroke(msg)
		}

		if m.state == session.StateIdle {
			m.textinput, tiCmd = m.textinput.Update(msg)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 3
		councilHeight := 8
		inputHeight := 3
		footerHeight := 2

		vpHeight := msg.Height - headerHeight - councilHeight - inputHeight - footerHeight
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, vpHeight)
			m.viewport.SetContent(m.renderTranscript())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = vpHeight
		}
		m.textinput.Width = msg.Width - 4

		if m.renderer != nil {
			m.renderer, _ = glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-8),
			)
		}

	case spinner.TickMsg:
		if m.deliberating() {
			m.spinner, spCmd = m.spinner.Update(msg)
			return m, spCmd
		}

	case sessionEventMsg:
		m = m.applyEvent(session.Event(msg))
		return m, tea.Batch(m.waitForEvent(), m.spinner.Tick)

	case sessionDoneMsg:
		m.sessionCancel = nil
		// Session outcomes surface through events; only errors with no
		// user-visible rendering land here.
		if msg.err != nil && m.rejection == "" && m.notice == "" && m.state != session.StateBanned {
			m.err = msg.err
		}

	case banLiftedMsg:
		if msg.err != nil {
			m.err = msg.err
		}
	}

	m.viewport, vpCmd = m.viewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m chamberModel) handleSubmit() (tea.Model, tea.Cmd) {
	query := strings.TrimSpace(m.textinput.Value())
	if query == "" {
		return m, nil
	}

	m.textinput.Reset()
	m.err = nil
	m.rejection = ""
	m.notice = ""

	ctx, cancel := context.WithCancel(context.Background())
	m.sessionCancel = cancel
	ctrl := m.ctrl
	return m, tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			return sessionDoneMsg{err: ctrl.Submit(ctx, query)}
		},
	)
}

// handleUnsealKeystroke feeds typed runes into the hidden reset buffer and
// fires the absolution when the phrase completes. There is no visible
// affordance on the disbanded screen.
func (m chamberModel) handleUnsealKeystroke(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type != tea.KeyRunes {
		return m, nil
	}
	m.unsealBuffer += strings.ToLower(string(msg.Runes))
	if len(m.unsealBuffer) > len(unsealPhrase) {
		m.unsealBuffer = m.unsealBuffer[len(m.unsealBuffer)-len(unsealPhrase):]
	}
	if m.unsealBuffer == unsealPhrase {
		m.unsealBuffer = ""
		ctrl := m.ctrl
		return m, func() tea.Msg {
			return banLiftedMsg{err: ctrl.ResetStrikes()}
		}
	}
	return m, nil
}

func (m chamberModel) applyEvent(ev session.Event) chamberModel {
	switch ev.Kind {
	case session.EventStateChanged:
		m.state = ev.State
	case session.EventTranscriptReset:
		m.history = nil
		m.viewport.SetContent("")
	case session.EventSpeakerChanged:
		m.activeSpeaker = ev.SpeakerID
		m.statement = ev.Statement
	case session.EventMessageAppended:
		if ev.Message != nil {
			m.history = append(m.history, *ev.Message)
			m.viewport.SetContent(m.renderTranscript())
			m.viewport.GotoBottom()
		}
	case session.EventGuardRejected:
		m.rejection = ev.Reason
		m.strikes = ev.Strikes
	case session.EventDebateFailed:
		m.notice = ev.Reason
	case session.EventFocusTranscript:
		m.viewport.GotoBottom()
	case session.EventBanLifted:
		m.strikes = 0
		m.rejection = ""
		m.unsealBuffer = ""
	}
	return m
}

func (m chamberModel) deliberating() bool {
	return m.state == session.StateGathering || m.state == session.StateScripting
}

func (m chamberModel) View() string {
	if !m.ready {
		return "Summoning the Council..."
	}

	if m.state == session.StateBanned {
		return m.renderDisbanded()
	}

	header := m.renderHeader()
	councilView := m.renderCouncil()
	transcriptView := m.styles.Content.Render(m.viewport.View())

	var banners []string
	if m.rejection != "" {
		banners = append(banners, m.styles.Error.Render(
			fmt.Sprintf("✦ %s  (Strike %d/%d)", m.rejection, m.strikes, session.BanThreshold)))
	}
	if m.notice != "" {
		banners = append(banners, m.styles.Warning.Render("✦ "+m.notice))
	}
	if m.err != nil {
		banners = append(banners, m.styles.Error.Render("Error: "+m.err.Error()))
	}

	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.Theme.Primary).
		Padding(0, 1)
	inputArea := inputStyle.Render(m.textinput.View())

	sections := []string{header, councilView}
	sections = append(sections, banners...)
	sections = append(sections, transcriptView, inputArea, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m chamberModel) renderHeader() string {
	title := m.styles.Header.Render(" ◭ CONCLAVE ")

	var status string
	switch m.state {
	case session.StateGathering:
		status = m.styles.Warning.Render("● The Council deliberates")
	case session.StateScripting:
		status = m.styles.Warning.Render("● The Chairman composes")
	case session.StatePresenting:
		status = m.styles.Info.Render("● In session")
	default:
		status = m.styles.Success.Render("● Convened")
	}

	line := lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status)
	if m.strikes > 0 {
		line = lipgloss.JoinHorizontal(lipgloss.Center, line, "  ",
			m.styles.Warning.Render(fmt.Sprintf("Strike %d/%d", m.strikes, session.BanThreshold)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, line, m.styles.RenderDivider(m.width))
}

// renderCouncil draws the row of seats plus the active speaker's words.
func (m chamberModel) renderCouncil() string {
	cards := make([]string, 0, len(m.members))
	for _, member := range m.members {
		name := m.styles.MemberName.Render(member.Name)
		title := m.styles.MemberTitle.Render(member.Title)
		body := lipgloss.JoinVertical(lipgloss.Center, name, title)

		if member.ID == m.activeSpeaker {
			accent := lipgloss.Color(member.Accent)
			cards = append(cards, m.styles.MemberCardActive.
				BorderForeground(accent).
				Render(body))
		} else {
			cards = append(cards, m.styles.MemberCard.Render(body))
		}
	}
	row := lipgloss.JoinHorizontal(lipgloss.Top, cards...)

	var below string
	switch {
	case m.deliberating():
		below = m.styles.Spinner.Render(m.spinner.View()) + " " +
			m.styles.Subtitle.Render(m.deliberationLabel())
	case m.activeSpeaker != "" && m.statement != "":
		accent := m.styles.Theme.Accent
		if member, ok := m.memberByID(m.activeSpeaker); ok {
			accent = lipgloss.Color(member.Accent)
		}
		below = m.styles.SpeechBubble.
			BorderForeground(accent).
			Width(m.bubbleWidth()).
			Render(m.statement)
	}

	if below == "" {
		return m.styles.Content.Render(row)
	}
	return m.styles.Content.Render(lipgloss.JoinVertical(lipgloss.Left, row, below))
}

func (m chamberModel) deliberationLabel() string {
	if m.state == session.StateScripting {
		return "The Chairman weighs the stances..."
	}
	return "The Council forms its positions..."
}

func (m chamberModel) bubbleWidth() int {
	w := m.width - 8
	if w < 20 {
		w = 20
	}
	return w
}

func (m chamberModel) renderTranscript() string {
	var sb strings.Builder

	for _, msg := range m.history {
		switch msg.Type {
		case session.MessageUserQuery:
			style := m.styles.Bold.Foreground(m.styles.Theme.Foreground).MarginTop(1)
			sb.WriteString(style.Render("You") + "\n")
			sb.WriteString(m.styles.UserInput.Render(msg.Content))
			sb.WriteString("\n")

		case session.MessageDecree:
			style := m.styles.Bold.Foreground(m.styles.Theme.Primary).MarginTop(1)
			sb.WriteString(style.Render("⚖ THE DECREE") + "\n")
			sb.WriteString(m.styles.Decree.Render(m.safeRenderMarkdown(msg.Content)))
			sb.WriteString("\n")

		default:
			name := msg.SpeakerID
			accent := m.styles.Theme.Accent
			if member, ok := m.memberByID(msg.SpeakerID); ok {
				name = member.Name
				accent = lipgloss.Color(member.Accent)
			}
			style := m.styles.Bold.Foreground(accent).MarginTop(1)
			sb.WriteString(style.Render(name) + "\n")
			sb.WriteString(m.styles.Body.Render(msg.Content))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// safeRenderMarkdown renders markdown with panic recovery.
func (m chamberModel) safeRenderMarkdown(content string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			result = content
		}
	}()

	if m.renderer != nil && content != "" {
		rendered, err := m.renderer.Render(content)
		if err == nil {
			return strings.TrimRight(rendered, "\n")
		}
	}
	return content
}

func (m chamberModel) renderDisbanded() string {
	banner := `
  ██████╗ ██╗███████╗██████╗  █████╗ ███╗   ██╗██████╗ ███████╗██████╗
  ██╔══██╗██║██╔════╝██╔══██╗██╔══██╗████╗  ██║██╔══██╗██╔════╝██╔══██╗
  ██║  ██║██║███████╗██████╔╝███████║██╔██╗ ██║██║  ██║█████╗  ██║  ██║
  ██║  ██║██║╚════██║██╔══██╗██╔══██║██║╚██╗██║██║  ██║██╔══╝  ██║  ██║
  ██████╔╝██║███████║██████╔╝██║  ██║██║ ╚████║██████╔╝███████╗██████╔╝
  ╚═════╝ ╚═╝╚══════╝╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═══╝╚═════╝ ╚══════╝╚═════╝`

	title := m.styles.Error.Render(banner)
	reason := m.styles.Subtitle.Render(
		"Three queries were judged unworthy. The Council will not reconvene for you.")

	body := lipgloss.JoinVertical(lipgloss.Center, title, "", reason)
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, body)
	}
	return body
}

func (m chamberModel) renderFooter() string {
	help := m.styles.Muted.Render("Enter: submit • Ctrl+C or Esc: leave the chamber")
	return lipgloss.NewStyle().MarginTop(1).Render(help)
}

func (m chamberModel) memberByID(id string) (council.Member, bool) {
	for _, member := range m.members {
		if member.ID == id {
			return member, true
		}
	}
	return council.Member{}, false
}

// Run starts the interactive chamber.
func Run(ctrl *session.Controller) error {
	p := tea.NewProgram(
		New(ctrl),
		tea.WithAltScreen(),
	)

	_, err := p.Run()
	return err
}
