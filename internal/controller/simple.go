package controller

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// DisplayRewrite prints one row per rewritten class and a summary footer.
func (s *SimpleUI) DisplayRewrite(ctx context.Context, reports []m.ClassReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", renderRewriteTable(reports))

	return nil
}

func renderRewriteTable(reports []m.ClassReport) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"API", "Class", "Instrumented", "Stubs", "Cache"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_CENTER,
	})

	for _, r := range reports {
		table.Append([]string{
			r.Version.String(),
			string(r.Class),
			yesNo(r.Instrumented),
			fmt.Sprintf("%d", r.Intercepted),
			cacheLabel(r),
		})
	}

	sum := m.Summarize(reports)
	table.SetFooter([]string{
		"",
		fmt.Sprintf("Total Classes %d", sum.Classes),
		fmt.Sprintf("%d", sum.Instrumented),
		fmt.Sprintf("%d", sum.Intercepted),
		fmt.Sprintf("%d hit", sum.Cached),
	})

	table.Render()

	return tableBuffer.String()
}

// DisplayDiff prints a unified diff of one class.
func (s *SimpleUI) DisplayDiff(ctx context.Context, class m.TypeName, diff string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if diff == "" {
		s.printf("%s: no changes\n", class)
		return nil
	}

	s.printf("%s", diff)

	return nil
}

// DisplayWatchEvent prints one line per re-rewritten class.
func (s *SimpleUI) DisplayWatchEvent(ctx context.Context, r m.ClassReport) {
	if err := ctx.Err(); err != nil {
		return
	}

	if r.Err != nil {
		s.printf("%s@%s: %v\n", r.Class, r.Version, r.Err)
		return
	}

	s.printf("%s@%s: rewritten (%d stubs)\n", r.Class, r.Version, r.Intercepted)
}

// DisplayInspection prints the shadow map and the dispatch table.
func (s *SimpleUI) DisplayInspection(ctx context.Context, in m.Inspection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("%s", renderInspectionHeader(in))
	s.printf("\n%s", renderPlanTable(in))

	return nil
}

func renderInspectionHeader(in m.Inspection) string {
	var b strings.Builder

	fmt.Fprintf(&b, "API %s  sandbox %s  map %s\n", in.Version, in.SandboxID, in.MapFingerprint)

	if len(in.Shadows) == 0 {
		b.WriteString("no substitutes configured\n")
	}

	for _, line := range in.Shadows {
		fmt.Fprintf(&b, "  %s\n", line)
	}

	return b.String()
}

func renderPlanTable(in m.Inspection) string {
	var tableBuffer bytes.Buffer

	table := tablewriter.NewWriter(&tableBuffer)
	table.SetHeader([]string{"Method", "Target", "Path", "Substitute"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	for _, r := range in.Rows {
		table.Append(planCells(r))
	}

	table.SetFooter([]string{
		fmt.Sprintf("Total Plans %d", len(in.Rows)-in.Failed()),
		"",
		"",
		fmt.Sprintf("%d unresolved", in.Failed()),
	})

	table.Render()

	return tableBuffer.String()
}

func planCells(r m.PlanRow) []string {
	if r.Err != "" {
		return []string{r.Method, "ERROR", r.Path, r.Err}
	}

	path := r.Path
	if r.Via != "" {
		path += " via " + string(r.Via)
	}

	return []string{r.Method, r.Target, path, r.Shadow}
}

// DisplayGenerated reports a written facade file.
func (s *SimpleUI) DisplayGenerated(ctx context.Context, path string, classes int) {
	if err := ctx.Err(); err != nil {
		return
	}

	s.printf("wrote %d facade(s) to %s\n", classes, path)
}

func (s *SimpleUI) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}

	return "no"
}

func cacheLabel(r m.ClassReport) string {
	if r.Cached {
		return "hit"
	}

	return "miss"
}
