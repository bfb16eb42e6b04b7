package controller

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

var (
	colorIris  = lipgloss.Color("#5D3FD3")
	colorSlate = lipgloss.Color("#667085")
	colorWhite = lipgloss.Color("#FFFFFF")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Background(colorIris).
			Foreground(colorWhite)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorSlate)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	detailStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(colorSlate).
			PaddingLeft(1)
)

// reserved is the number of lines around the table: title, shadow summary,
// detail pane and help line.
const reserved = 9

// TUI implements UI with an interactive dispatch table browser. Everything
// but inspection is printed like SimpleUI does.
type TUI struct {
	*SimpleUI

	output io.Writer
}

// NewTUI creates a new TUI.
func NewTUI(simple *SimpleUI, output io.Writer) *TUI {
	return &TUI{SimpleUI: simple, output: output}
}

// DisplayInspection browses the dispatch table. Tables that fit on screen,
// and output that is not a terminal, are printed instead.
func (p *TUI) DisplayInspection(ctx context.Context, in m.Inspection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	model := newPlanModel(in)

	if f, ok := p.output.(*os.File); ok {
		if width, height, err := term.GetSize(int(f.Fd())); err == nil {
			model = model.resize(width, height)
		}
	}

	if !model.needsPagination() {
		return p.SimpleUI.DisplayInspection(ctx, in)
	}

	program := tea.NewProgram(model, tea.WithOutput(p.output), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return err
	}

	return nil
}

// planModel is the Bubble Tea model of the dispatch table browser.
type planModel struct {
	inspection m.Inspection
	rows       []m.PlanRow
	table      table.Model
	failedOnly bool
	width      int
	height     int
	quitting   bool
}

func newPlanModel(in m.Inspection) planModel {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSlate).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(colorWhite).
		Background(colorIris).
		Bold(true)

	pm := planModel{
		inspection: in,
		table: table.New(
			table.WithColumns(planColumns(80)),
			table.WithFocused(true),
			table.WithStyles(styles),
		),
	}

	return pm.filter(false)
}

func planColumns(width int) []table.Column {
	if width < 60 {
		width = 60
	}

	method := width * 45 / 100
	target := 10
	path := width * 20 / 100
	shadow := width - method - target - path - 8

	return []table.Column{
		{Title: "Method", Width: method},
		{Title: "Target", Width: target},
		{Title: "Path", Width: path},
		{Title: "Substitute", Width: shadow},
	}
}

// filter shows all rows, or only unresolved ones.
func (pm planModel) filter(failedOnly bool) planModel {
	pm.failedOnly = failedOnly
	pm.rows = pm.rows[:0:0]

	rows := make([]table.Row, 0, len(pm.inspection.Rows))

	for _, r := range pm.inspection.Rows {
		if failedOnly && r.Err == "" {
			continue
		}

		pm.rows = append(pm.rows, r)
		rows = append(rows, table.Row(planCells(r)))
	}

	pm.table.SetRows(rows)
	pm.table.SetCursor(0)

	return pm
}

func (pm planModel) resize(width, height int) planModel {
	pm.width = width
	pm.height = height
	pm.table.SetColumns(planColumns(width))
	pm.table.SetHeight(pm.itemsPerPage())

	return pm
}

func (pm planModel) itemsPerPage() int {
	if pm.height == 0 {
		return 10
	}

	available := pm.height - reserved - len(pm.inspection.Shadows)
	if available < 1 {
		return 1
	}

	return available
}

// needsPagination returns true if the table is too large to fit on screen.
func (pm planModel) needsPagination() bool {
	return pm.height > 0 && len(pm.inspection.Rows) > pm.itemsPerPage()
}

// selected returns the row under the cursor.
func (pm planModel) selected() (m.PlanRow, bool) {
	i := pm.table.Cursor()
	if i < 0 || i >= len(pm.rows) {
		return m.PlanRow{}, false
	}

	return pm.rows[i], true
}

func (pm planModel) Init() tea.Cmd {
	return nil
}

func (pm planModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return pm.resize(msg.Width, msg.Height), nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			pm.quitting = true
			return pm, tea.Quit

		case "f":
			return pm.filter(!pm.failedOnly), nil
		}
	}

	var cmd tea.Cmd

	pm.table, cmd = pm.table.Update(msg)

	return pm, cmd
}

func (pm planModel) View() string {
	if pm.quitting {
		return ""
	}

	var b strings.Builder

	in := pm.inspection
	b.WriteString(titleStyle.Render(fmt.Sprintf("API %s", in.Version)))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  sandbox %s  map %s", in.SandboxID, in.MapFingerprint)))
	b.WriteString("\n")

	for _, line := range in.Shadows {
		b.WriteString(mutedStyle.Render("  "+line) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(pm.table.View())
	b.WriteString("\n")
	b.WriteString(detailStyle.Render(pm.detail()))
	b.WriteString("\n")

	filter := "all"
	if pm.failedOnly {
		filter = "unresolved"
	}

	fmt.Fprintf(&b, "  %d plans, %d unresolved | showing %s\n", len(in.Rows)-in.Failed(), in.Failed(), filter)
	b.WriteString(mutedStyle.Render("  ↑/k: up | ↓/j: down | f: toggle unresolved | q: quit"))
	b.WriteString("\n")

	return b.String()
}

func (pm planModel) detail() string {
	r, ok := pm.selected()
	if !ok {
		return mutedStyle.Render("no plans")
	}

	if r.Err != "" {
		return r.Method + "\n" + errorStyle.Render(r.Err)
	}

	line := fmt.Sprintf("%s -> %s (%s)", r.Method, r.Target, r.Path)
	if r.Via != "" {
		line += " via " + string(r.Via)
	}

	if r.Shadow != "" {
		line += "\n" + r.Shadow
	}

	return line
}
