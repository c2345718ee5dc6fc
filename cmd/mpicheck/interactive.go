package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var selectedStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FAFAFA")).
	Background(lipgloss.Color("#7D56F4"))

type stepRef struct {
	rank int
	step int
}

type interactiveModel struct {
	res      *Result
	steps    []stepRef
	detail   viewport.Model
	selected int
	ready    bool
}

func newInteractiveModel(res *Result) *interactiveModel {
	m := &interactiveModel{res: res}
	for _, rr := range res.Ranks {
		for i := range rr.Steps {
			m.steps = append(m.steps, stepRef{rank: rr.Rank, step: i})
		}
	}
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
				m.refresh()
			}
			return m, nil

		case "down", "j":
			if m.selected < len(m.steps)-1 {
				m.selected++
				m.refresh()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		height := max(msg.Height/2-2, 3)
		if !m.ready {
			m.detail = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.detail.Width = msg.Width
			m.detail.Height = height
		}
		m.refresh()
	}

	var cmd tea.Cmd
	m.detail, cmd = m.detail.Update(msg)
	return m, cmd
}

func (m *interactiveModel) refresh() {
	if !m.ready {
		return
	}
	m.detail.SetContent(m.details())
	m.detail.GotoTop()
}

func (m *interactiveModel) details() string {
	var b strings.Builder
	if len(m.steps) > 0 {
		ref := m.steps[m.selected]
		sr := m.res.Ranks[ref.rank].Steps[ref.step]
		fmt.Fprintf(&b, "%s step %d\n", rankStyle.Render(fmt.Sprintf("rank %d", ref.rank)), ref.step)
		if len(sr.Events) == 0 {
			b.WriteString(helpStyle.Render("no ranges"))
			b.WriteString("\n")
		}
		for _, ev := range sr.Events {
			b.WriteString(formatEvent(ev))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	if len(m.res.Reports) == 0 {
		b.WriteString(okStyle.Render("no invalid accesses"))
	}
	for _, r := range m.res.Reports {
		b.WriteString(errorStyle.Render(r.String()))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *interactiveModel) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("mpicheck"))
	b.WriteString(" ")
	b.WriteString(m.res.Scenario.Name)
	b.WriteString("\n\n")

	for i, ref := range m.steps {
		line := fmt.Sprintf("r%d %2d %s", ref.rank, ref.step, formatStep(m.res.Ranks[ref.rank].Steps[ref.step]))
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.detail.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("↑/↓ select step • pgup/pgdn scroll • q quit"))
	return b.String()
}

func runInteractive(res *Result) error {
	p := tea.NewProgram(newInteractiveModel(res), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
