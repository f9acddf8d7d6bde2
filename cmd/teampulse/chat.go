package main

// Interactive chat over the agent, built on bubbletea.

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"teampulse/internal/agent"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, store, err := buildApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		model := newChatModel(a)
		program := tea.NewProgram(model, tea.WithAltScreen())
		_, err = program.Run()
		return err
	},
}

var (
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	noticeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type chatEntry struct {
	role string
	text string
}

type answerMsg struct {
	result agent.Result
	err    error
}

type chatModel struct {
	textinput textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	renderer  *glamour.TermRenderer

	agent     *agent.Agent
	sessionID string
	history   []chatEntry
	isLoading bool
	ready     bool
	width     int
	height    int
}

func newChatModel(a *agent.Agent) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about your team's activity (ctrl+c to quit, /clear to forget)"
	ti.Focus()
	ti.CharLimit = 500

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)

	return chatModel{
		textinput: ti,
		spinner:   sp,
		renderer:  renderer,
		agent:     a,
		sessionID: uuid.NewString(),
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		spCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.isLoading {
				return m, nil
			}
			input := strings.TrimSpace(m.textinput.Value())
			if input == "" {
				return m, nil
			}
			m.textinput.Reset()

			if input == "/clear" {
				m.agent.ClearSessionMemory(m.sessionID)
				m.history = append(m.history, chatEntry{role: "notice", text: "conversation memory cleared"})
				m.refreshViewport()
				return m, nil
			}
			if input == "/quit" || input == "/exit" {
				return m, tea.Quit
			}

			m.history = append(m.history, chatEntry{role: "user", text: input})
			m.isLoading = true
			m.refreshViewport()
			return m, tea.Batch(m.spinner.Tick, m.ask(input))
		}

	case answerMsg:
		m.isLoading = false
		switch {
		case msg.err != nil:
			m.history = append(m.history, chatEntry{role: "error", text: msg.err.Error()})
		case !msg.result.Success:
			m.history = append(m.history, chatEntry{role: "error", text: msg.result.Err})
		default:
			m.history = append(m.history, chatEntry{role: "assistant", text: msg.result.Response})
			if msg.result.Degraded {
				m.history = append(m.history, chatEntry{role: "notice", text: "degraded answer: some sources or the model were unavailable"})
			}
		}
		m.refreshViewport()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		inputHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-inputHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - inputHeight
		}
		m.refreshViewport()
	}

	m.textinput, tiCmd = m.textinput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	m.spinner, spCmd = m.spinner.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd, spCmd)
}

func (m *chatModel) ask(query string) tea.Cmd {
	a, id := m.agent, m.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		result, err := a.ProcessQuery(ctx, id, query, time.Now())
		return answerMsg{result: result, err: err}
	}
}

func (m *chatModel) refreshViewport() {
	if !m.ready {
		return
	}
	var sb strings.Builder
	for _, entry := range m.history {
		switch entry.role {
		case "user":
			sb.WriteString(userStyle.Render("you") + "  " + entry.text + "\n\n")
		case "assistant":
			rendered := entry.text
			if m.renderer != nil {
				if out, err := m.renderer.Render(entry.text); err == nil {
					rendered = out
				}
			}
			sb.WriteString(assistantStyle.Render("teampulse") + "\n" + rendered + "\n")
		case "notice":
			sb.WriteString(noticeStyle.Render(entry.text) + "\n\n")
		case "error":
			sb.WriteString(errorStyle.Render("error: "+entry.text) + "\n\n")
		}
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m chatModel) View() string {
	if !m.ready {
		return "starting..."
	}
	status := ""
	if m.isLoading {
		status = m.spinner.View() + " thinking..."
	}
	return fmt.Sprintf("%s\n%s\n%s", m.viewport.View(), status, m.textinput.View())
}
