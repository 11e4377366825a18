package profiles

import (
	"github.com/glimmerkb/glimmer-agent/internal/lighting"
	"github.com/glimmerkb/glimmer-agent/internal/macro"
	"github.com/glimmerkb/glimmer-agent/internal/protocol"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
)

// Resolution is the effective state for one (window, mode) pair: the profile
// that matched, the theme to render and the macro table to arm.
type Resolution struct {
	ProfileID    string
	Mode         int
	ThemeName    string
	Theme        *lighting.Theme
	Bindings     map[int]macro.Macro
	GameModeKeys []protocol.Scancode
}

// Resolve picks the first profile in configuration order whose conditions all
// match the window, falling back to the default profile, and merges the
// profile with the default and with the active mode overlay. Fields a profile
// leaves unset inherit from the default; fields a mode leaves unset inherit
// from its profile.
func (c *Config) Resolve(win *windowsvc.WindowInfo, mode int) Resolution {
	def := c.Default()
	selected := def
	if win != nil {
		for i := range c.Profiles {
			p := &c.Profiles[i]
			if p.ID == DefaultProfileID || p.Conditions == nil {
				continue
			}
			if p.Conditions.Matches(win) {
				selected = p
				break
			}
		}
	}

	var overlay *Mode
	if mode >= 1 && mode <= 3 {
		if m, ok := selected.Modes[mode]; ok {
			overlay = &m
		}
	}

	themeName := inherit(modeTheme(overlay), selected.Theme, def.Theme)
	gkeySets := inheritSets(modeSets(overlay), selected.GkeySets, def.GkeySets)
	ownGkeys := inheritGkeys(modeGkeys(overlay), selected.Gkeys, def.Gkeys)

	res := Resolution{
		ProfileID:    selected.ID,
		Mode:         mode,
		ThemeName:    themeName,
		Bindings:     c.buildBindings(gkeySets, ownGkeys),
		GameModeKeys: selected.GameModeKeys,
	}
	if res.GameModeKeys == nil {
		res.GameModeKeys = def.GameModeKeys
	}
	if themeName != "" {
		if theme, ok := c.Themes[themeName]; ok {
			res.Theme = &theme
		}
	}
	return res
}

// buildBindings merges the named sets in listed order, later sets overriding
// earlier ones, then overlays the profile's own bindings, and expands every
// binding into a runnable macro.
func (c *Config) buildBindings(sets []string, own map[int]Binding) map[int]macro.Macro {
	merged := make(map[int]Binding)
	for _, name := range sets {
		for gkey, binding := range c.GkeySets[name] {
			merged[gkey] = binding
		}
	}
	for gkey, binding := range own {
		merged[gkey] = binding
	}

	bindings := make(map[int]macro.Macro, len(merged))
	for gkey, binding := range merged {
		if binding.Action != nil {
			bindings[gkey] = macro.FromAction(*binding.Action)
			continue
		}
		if m, ok := c.Macros[binding.Macro]; ok {
			bindings[gkey] = m
		}
	}
	return bindings
}

func modeTheme(m *Mode) string {
	if m == nil {
		return ""
	}
	return m.Theme
}

func modeSets(m *Mode) []string {
	if m == nil {
		return nil
	}
	return m.GkeySets
}

func modeGkeys(m *Mode) map[int]Binding {
	if m == nil {
		return nil
	}
	return m.Gkeys
}

func inherit(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func inheritSets(values ...[]string) []string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func inheritGkeys(values ...map[int]Binding) map[int]Binding {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
