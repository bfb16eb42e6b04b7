// Package controller provides output adapters for the shadowbox CLI.
package controller

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

// UI displays the results of CLI workflows.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	DisplayRewrite(ctx context.Context, reports []m.ClassReport) error
	DisplayDiff(ctx context.Context, class m.TypeName, diff string) error
	DisplayWatchEvent(ctx context.Context, report m.ClassReport)
	DisplayInspection(ctx context.Context, inspection m.Inspection) error
	DisplayGenerated(ctx context.Context, path string, classes int)
}

// NewUI returns the interactive UI when interactive is set, the plain one
// otherwise.
func NewUI(cmd *cobra.Command, interactive bool) UI {
	simple := NewSimpleUI(cmd)
	if !interactive {
		return simple
	}

	return NewTUI(simple, cmd.OutOrStdout())
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)

	return ok && term.IsTerminal(int(f.Fd()))
}
