package controller

import (
	"bytes"
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	m "shadowbox.dev/pkg/shadowbox/internal/model"
)

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	out := &bytes.Buffer{}
	cmd := &cobra.Command{Use: "test"}
	cmd.SetOut(out)

	return cmd, out
}

func sampleInspection() m.Inspection {
	return m.Inspection{
		Version:        m.PlatformVersion{API: 30},
		SandboxID:      "01J0000000000000000000000",
		MapFingerprint: "00000000deadbeef",
		Shadows:        []string{"android.os.Clock -> FakeClock (defaults)"},
		Rows: []m.PlanRow{
			{Method: "android.os.Clock.now()", Target: "SUBSTITUTE", Path: "exact", Shadow: "FakeClock.now()"},
			{Method: "android.os.SystemClock.now()", Target: "REAL", Path: "call-through", Via: "android.os.Clock"},
			{Method: "android.view.View.draw()", Path: "lookup", Err: "ambiguous substitute"},
		},
	}
}

func TestNewUI(t *testing.T) {
	cmd, _ := newTestCmd()

	assert.IsType(t, &SimpleUI{}, NewUI(cmd, false))
	assert.IsType(t, &TUI{}, NewUI(cmd, true))
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestSimpleUI_DisplayRewrite(t *testing.T) {
	cmd, out := newTestCmd()
	ui := NewSimpleUI(cmd)

	reports := []m.ClassReport{
		{Version: m.PlatformVersion{API: 30}, Class: "android.os.Clock", Instrumented: true, Intercepted: 3},
		{Version: m.PlatformVersion{API: 30}, Class: "java.util.Locale", Cached: true},
	}

	require.NoError(t, ui.DisplayRewrite(context.Background(), reports))

	text := out.String()
	assert.Contains(t, text, "android.os.Clock")
	assert.Contains(t, text, "java.util.Locale")
	assert.Contains(t, text, "TOTAL CLASSES 2")
	assert.Contains(t, text, "1 HIT")
}

func TestSimpleUI_DisplayInspection(t *testing.T) {
	cmd, out := newTestCmd()
	ui := NewSimpleUI(cmd)

	require.NoError(t, ui.DisplayInspection(context.Background(), sampleInspection()))

	text := out.String()
	assert.Contains(t, text, "API 30  sandbox 01J0000000000000000000000")
	assert.Contains(t, text, "android.os.Clock -> FakeClock (defaults)")
	assert.Contains(t, text, "call-through via android.os.Clock")
	assert.Contains(t, text, "ambiguous substitute")
	assert.Contains(t, text, "1 UNRESOLVED")
}

func TestSimpleUI_DisplayDiffAndEvents(t *testing.T) {
	cmd, out := newTestCmd()
	ui := NewSimpleUI(cmd)
	ctx := context.Background()

	require.NoError(t, ui.DisplayDiff(ctx, "android.os.Clock", ""))
	require.NoError(t, ui.DisplayDiff(ctx, "android.os.Clock", "--- a\n+++ b\n"))
	ui.DisplayWatchEvent(ctx, m.ClassReport{Class: "android.os.Clock", Version: m.PlatformVersion{API: 33}, Intercepted: 2})
	ui.DisplayWatchEvent(ctx, m.ClassReport{Class: "android.os.Broken", Version: m.PlatformVersion{API: 33}, Err: errors.New("malformed")})
	ui.DisplayGenerated(ctx, "platform/facades.go", 4)

	text := out.String()
	assert.Contains(t, text, "android.os.Clock: no changes")
	assert.Contains(t, text, "+++ b")
	assert.Contains(t, text, "android.os.Clock@33: rewritten (2 stubs)")
	assert.Contains(t, text, "android.os.Broken@33: malformed")
	assert.Contains(t, text, "wrote 4 facade(s) to platform/facades.go")
}

func TestSimpleUI_CanceledContext(t *testing.T) {
	cmd, out := newTestCmd()
	ui := NewSimpleUI(cmd)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, ui.DisplayRewrite(ctx, nil), context.Canceled)
	ui.DisplayGenerated(ctx, "x.go", 1)
	assert.Empty(t, out.String())
}

func TestTUI_PrintsWhenNotATerminal(t *testing.T) {
	cmd, out := newTestCmd()
	ui := NewUI(cmd, true)

	require.NoError(t, ui.DisplayInspection(context.Background(), sampleInspection()))
	assert.Contains(t, out.String(), "FakeClock.now()")
}

func TestPlanModel_FilterAndNavigate(t *testing.T) {
	pm := newPlanModel(sampleInspection())

	row, ok := pm.selected()
	require.True(t, ok)
	assert.Equal(t, "android.os.Clock.now()", row.Method)

	next, _ := pm.Update(tea.KeyMsg{Type: tea.KeyDown})
	pm = next.(planModel)
	row, _ = pm.selected()
	assert.Equal(t, "android.os.SystemClock.now()", row.Method)
	assert.Contains(t, pm.View(), "via android.os.Clock")

	next, _ = pm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	pm = next.(planModel)
	require.Len(t, pm.rows, 1)
	row, _ = pm.selected()
	assert.Equal(t, "android.view.View.draw()", row.Method)
	assert.Contains(t, pm.View(), "showing unresolved")

	next, cmd := pm.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	pm = next.(planModel)
	assert.True(t, pm.quitting)
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, pm.View())
}

func TestPlanModel_Pagination(t *testing.T) {
	pm := newPlanModel(sampleInspection())
	assert.False(t, pm.needsPagination(), "unknown height never paginates")

	next, _ := pm.Update(tea.WindowSizeMsg{Width: 120, Height: reserved + 1 + 2})
	pm = next.(planModel)
	assert.Equal(t, 2, pm.itemsPerPage())
	assert.True(t, pm.needsPagination())

	pm = pm.resize(120, 60)
	assert.False(t, pm.needsPagination())
}
