package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ismailtsdln/dalmock"
)

var (
	purple = lipgloss.Color("#7D56F4")
	white  = lipgloss.Color("#FAFAFA")
	gray   = lipgloss.Color("#3C3C3C")
	accent = lipgloss.Color("#00D7FF")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(white).
			Background(purple).
			Padding(0, 1).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true).
			Padding(0, 1)

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(purple).
				Border(lipgloss.ThickBorder(), false, false, true, false).
				MarginBottom(1)

	bodyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A9B1D6")).
			Padding(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7AA2F7")).
			Italic(true)
)

// requestItem is one row in the traffic list.
type requestItem struct {
	req *dalmock.CapturedRequest
}

func (i requestItem) Title() string {
	color := "#9ECE6A"
	switch {
	case i.req.StatusCode == 0:
		color = "#E0AF68"
	case i.req.StatusCode >= 400:
		color = "#F7768E"
	}
	style := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Width(6)
	status := "ABORT"
	if i.req.StatusCode != 0 {
		status = fmt.Sprintf("%d", i.req.StatusCode)
	}
	return fmt.Sprintf("%s %s", style.Render(status), i.req.Path)
}

func (i requestItem) Description() string {
	return fmt.Sprintf("%s | %d bytes | %s", i.req.Action, i.req.Bytes, i.req.Duration)
}

func (i requestItem) FilterValue() string { return i.req.Path }

func (i requestItem) detail() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID: %s\n", i.req.ID)
	fmt.Fprintf(&b, "Method: %s\n", i.req.Method)
	fmt.Fprintf(&b, "Path: %s\n", i.req.Path)
	fmt.Fprintf(&b, "Action: %s\n", i.req.Action)
	if i.req.StatusCode == 0 {
		b.WriteString("Status: aborted (fixture unavailable)\n")
	} else {
		fmt.Fprintf(&b, "Status: %d\n", i.req.StatusCode)
	}
	fmt.Fprintf(&b, "Bytes: %d\n", i.req.Bytes)
	fmt.Fprintf(&b, "Received: %s\n", i.req.Received.Format("15:04:05.000"))
	fmt.Fprintf(&b, "Duration: %s\n", i.req.Duration)
	return b.String()
}

// serverClosedMsg reports that the accept loop has exited.
type serverClosedMsg struct{}

type monitorModel struct {
	list     list.Model
	viewport viewport.Model
	server   *dalmock.Server
	selected *requestItem
	closed   bool
}

func newMonitorModel(s *dalmock.Server) monitorModel {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Traffic"
	l.SetShowHelp(false)
	l.Styles.Title = lipgloss.NewStyle().Foreground(purple).Bold(true)

	return monitorModel{
		list:     l,
		viewport: viewport.New(0, 0),
		server:   s,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return nil
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter", " ":
			if i, ok := m.list.SelectedItem().(requestItem); ok {
				m.selected = &i
				m.viewport.SetContent(bodyStyle.Render(i.detail()))
			}
		}
	case *dalmock.CapturedRequest:
		return m, m.list.InsertItem(0, requestItem{req: msg})
	case serverClosedMsg:
		m.closed = true
		return m, nil
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width/2-h, msg.Height-v-6)
		m.viewport.Width = msg.Width/2 - h
		m.viewport.Height = msg.Height - v - 6
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m monitorModel) View() string {
	var detailView string
	if m.selected != nil {
		detailView = lipgloss.JoinVertical(lipgloss.Left,
			detailTitleStyle.Width(m.viewport.Width).Render(m.selected.req.Method+" "+m.selected.req.Path),
			m.viewport.View(),
		)
	} else {
		detailView = lipgloss.NewStyle().
			Width(m.viewport.Width).
			Height(m.viewport.Height).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(gray).
			Align(lipgloss.Center, lipgloss.Center).
			Render("Select a request to see details")
	}

	mainContent := lipgloss.JoinHorizontal(lipgloss.Top,
		m.list.View(),
		lipgloss.NewStyle().PaddingLeft(2).Render(detailView),
	)

	banner := titleStyle.Render(" DALMOCK ")
	state := "serving"
	if m.closed {
		state = "accept loop closed"
	}
	urlInfo := headerStyle.Render(fmt.Sprintf("Mock Server: %s (%s)", m.server.URL(), state))
	helpInfo := statusStyle.Render(" [q: quit] [enter: inspect] [/: search] ")

	return docStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.JoinHorizontal(lipgloss.Center, banner, urlInfo),
			"",
			mainContent,
			"",
			helpInfo,
		),
	)
}

func runMonitor(opts []dalmock.Option) error {
	s, err := dalmock.NewUnstartedServer(opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	p := tea.NewProgram(newMonitorModel(s), tea.WithAltScreen())
	s.OnRequest = func(req *dalmock.CapturedRequest) {
		p.Send(req)
	}

	if err := s.Start(); err != nil {
		return err
	}
	go func() {
		<-s.Done()
		p.Send(serverClosedMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running monitor: %w", err)
	}
	return nil
}
