package profiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimmerkb/glimmer-agent/internal/lighting"
	"github.com/glimmerkb/glimmer-agent/internal/macro"
	"github.com/glimmerkb/glimmer-agent/internal/protocol"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
)

const resolverConfig = `
profiles:
  - id: editors
    conditions:
      class: "(?i)(code|emacs)"
    theme: coding
    gkeys:
      1: {run_macro: save_all}
    modes:
      2:
        theme: coding_alt
        gkeys:
          1: {run_macro: format}
  - id: any-code
    conditions:
      class: "code"
    theme: fallback_coding
  - id: games
    conditions:
      executable: "/usr/bin/supertux"
      title: "SuperTux"
    game_mode_keys: [escape]
  - id: default
    theme: idle
    gkey_sets: [media, extra]
    gkeys:
      5: {run_macro: lock}
themes:
  idle:
    - color: ff0000
      keys: a
    - color: 00ff00
      keys: [b, c]
  coding:
    - {color: 0000ff, keys: enter}
  coding_alt:
    - {color: ffffff, keys: enter}
  fallback_coding:
    - {color: "101010", keys: space}
gkey_sets:
  media:
    4: {simple_action: {key_press: XF86AudioPlay}}
    5: {simple_action: {key_press: XF86AudioMute}}
  extra:
    4: {run_macro: screenshot}
macros:
  save_all: {activation_type: singular, steps: [{action: {key_press: "ctrl+s"}, duration: 5}]}
  format: {activation_type: singular, steps: [{action: {key_press: "ctrl+shift+i"}, duration: 5}]}
  lock: {activation_type: singular, steps: [{action: {run_command: "loginctl lock-session"}}]}
  screenshot: {activation_type: singular, steps: [{action: {run_command: "flameshot gui"}}]}
`

func resolverFixture(t *testing.T) *Config {
	t.Helper()
	cfg := loadConfig(t, resolverConfig)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestResolveFirstMatchWins(t *testing.T) {
	cfg := resolverFixture(t)

	// Both editors and any-code match; configuration order decides.
	res := cfg.Resolve(&windowsvc.WindowInfo{Class: "code"}, 0)
	assert.Equal(t, "editors", res.ProfileID)
	assert.Equal(t, "coding", res.ThemeName)
}

func TestResolveAllConditionsMustMatch(t *testing.T) {
	cfg := resolverFixture(t)

	// Executable matches but title does not, so the profile is skipped.
	res := cfg.Resolve(&windowsvc.WindowInfo{
		Executable: "/usr/bin/supertux",
		Title:      "Settings",
	}, 0)
	assert.Equal(t, DefaultProfileID, res.ProfileID)

	res = cfg.Resolve(&windowsvc.WindowInfo{
		Executable: "/usr/bin/supertux",
		Title:      "SuperTux 0.6",
	}, 0)
	assert.Equal(t, "games", res.ProfileID)
}

func TestResolveMissingFieldIsVacuous(t *testing.T) {
	cfg := resolverFixture(t)

	// The editors profile only constrains class; any title passes.
	res := cfg.Resolve(&windowsvc.WindowInfo{Class: "Emacs", Title: "scratch"}, 0)
	assert.Equal(t, "editors", res.ProfileID)
}

func TestResolveNilWindowFallsBackToDefault(t *testing.T) {
	cfg := resolverFixture(t)
	res := cfg.Resolve(nil, 0)
	assert.Equal(t, DefaultProfileID, res.ProfileID)
	assert.Equal(t, "idle", res.ThemeName)
	require.NotNil(t, res.Theme)
	require.Len(t, res.Theme.Assignments, 2)
	assert.Equal(t, lighting.Color{R: 0xff}, res.Theme.Assignments[0].Color)
}

func TestResolveInheritsDefaultFields(t *testing.T) {
	cfg := resolverFixture(t)

	// games sets no theme or bindings; both inherit from default.
	res := cfg.Resolve(&windowsvc.WindowInfo{
		Executable: "/usr/bin/supertux",
		Title:      "SuperTux",
	}, 0)
	assert.Equal(t, "idle", res.ThemeName)
	require.Contains(t, res.Bindings, 5)
	assert.Equal(t, []protocol.Scancode{protocol.ScanEscape}, res.GameModeKeys)
}

func TestResolveGkeySetMergeOrder(t *testing.T) {
	cfg := resolverFixture(t)
	res := cfg.Resolve(nil, 0)

	// extra overrides media on G4; the profile's own gkeys win on G5.
	require.Contains(t, res.Bindings, 4)
	assert.Equal(t, macro.ActionRunCommand, res.Bindings[4].Steps[0].Action.Kind)
	require.Contains(t, res.Bindings, 5)
	assert.Equal(t, "loginctl lock-session", res.Bindings[5].Steps[0].Action.Argument)
}

func TestResolveModeOverlay(t *testing.T) {
	cfg := resolverFixture(t)
	win := &windowsvc.WindowInfo{Class: "Code"}

	res := cfg.Resolve(win, 2)
	assert.Equal(t, "editors", res.ProfileID)
	assert.Equal(t, 2, res.Mode)
	assert.Equal(t, "coding_alt", res.ThemeName)
	require.Contains(t, res.Bindings, 1)
	assert.Equal(t, "ctrl+shift+i", res.Bindings[1].Steps[0].Action.Argument)

	// A mode the profile does not define falls back to the profile itself.
	res = cfg.Resolve(win, 3)
	assert.Equal(t, "coding", res.ThemeName)
	assert.Equal(t, "ctrl+s", res.Bindings[1].Steps[0].Action.Argument)
}

func TestResolveInlineActionBecomesMacro(t *testing.T) {
	cfg := resolverFixture(t)
	res := cfg.Resolve(&windowsvc.WindowInfo{
		Executable: "/usr/bin/supertux",
		Title:      "SuperTux",
	}, 0)

	require.Contains(t, res.Bindings, 4)
	m := res.Bindings[4]
	assert.Equal(t, macro.ActivationSingular, m.Activation.Kind)
	require.Len(t, m.Steps, 1)
}
