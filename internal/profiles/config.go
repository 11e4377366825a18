// Package profiles holds the configuration tree and the resolver that picks
// the active profile, theme and G-key binding table for the current
// foreground window and mode.
package profiles

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/glimmerkb/glimmer-agent/internal/lighting"
	"github.com/glimmerkb/glimmer-agent/internal/macro"
	"github.com/glimmerkb/glimmer-agent/internal/protocol"
	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
)

const DefaultProfileID = "default"

var (
	ErrMissingDefault  = errors.New("configuration has no default profile")
	ErrEmptyConditions = errors.New("conditions block names no fields")
)

// Pattern is a compiled regular expression that unmarshals from its source
// string.
type Pattern struct {
	re *regexp.Regexp
}

func MustPattern(expr string) *Pattern {
	return &Pattern{re: regexp.MustCompile(expr)}
}

func (p *Pattern) UnmarshalJSON(data []byte) error {
	var expr string
	if err := json.Unmarshal(data, &expr); err != nil {
		return err
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("compiling condition pattern: %w", err)
	}
	p.re = re
	return nil
}

func (p *Pattern) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.re.String())
}

func (p *Pattern) MatchString(s string) bool {
	return p.re.MatchString(s)
}

func (p *Pattern) String() string {
	return p.re.String()
}

// Conditions restricts a profile to windows whose metadata matches every
// pattern that is set. A field left unset matches any window.
type Conditions struct {
	Title      *Pattern `json:"title,omitempty"`
	Executable *Pattern `json:"executable,omitempty"`
	Class      *Pattern `json:"class,omitempty"`
	ClassName  *Pattern `json:"class_name,omitempty"`
}

func (c *Conditions) Empty() bool {
	return c.Title == nil && c.Executable == nil && c.Class == nil && c.ClassName == nil
}

// Matches reports whether every set pattern matches the corresponding window
// field. A nil window matches nothing.
func (c *Conditions) Matches(win *windowsvc.WindowInfo) bool {
	if win == nil {
		return false
	}
	if c.Title != nil && !c.Title.MatchString(win.Title) {
		return false
	}
	if c.Executable != nil && !c.Executable.MatchString(win.Executable) {
		return false
	}
	if c.Class != nil && !c.Class.MatchString(win.Class) {
		return false
	}
	if c.ClassName != nil && !c.ClassName.MatchString(win.ClassName) {
		return false
	}
	return true
}

// Binding assigns a G-key either a single inline action or a named macro.
type Binding struct {
	Action *macro.Action
	Macro  string
}

func (b *Binding) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("binding must be a simple_action or run_macro mapping: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("binding must contain exactly one of simple_action or run_macro, got %d entries", len(raw))
	}
	for key, value := range raw {
		switch key {
		case "simple_action":
			var action macro.Action
			if err := json.Unmarshal(value, &action); err != nil {
				return err
			}
			b.Action = &action
		case "run_macro":
			if err := json.Unmarshal(value, &b.Macro); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown binding kind %q", key)
		}
	}
	return nil
}

func (b Binding) MarshalJSON() ([]byte, error) {
	if b.Action != nil {
		return json.Marshal(map[string]*macro.Action{"simple_action": b.Action})
	}
	return json.Marshal(map[string]string{"run_macro": b.Macro})
}

// Mode is a per-M-key overlay within a profile. Unset fields fall back to the
// enclosing profile.
type Mode struct {
	Theme    string          `json:"theme,omitempty"`
	GkeySets []string        `json:"gkey_sets,omitempty"`
	Gkeys    map[int]Binding `json:"gkeys,omitempty"`
}

// Profile binds window conditions to a theme, G-key bindings, game-mode keys
// and up to three mode overlays. The profile with id "default" has no
// conditions and is the fallback and inheritance base for all others.
type Profile struct {
	ID           string              `json:"id"`
	Conditions   *Conditions         `json:"conditions,omitempty"`
	Theme        string              `json:"theme,omitempty"`
	GkeySets     []string            `json:"gkey_sets,omitempty"`
	Gkeys        map[int]Binding     `json:"gkeys,omitempty"`
	GameModeKeys []protocol.Scancode `json:"game_mode_keys,omitempty"`
	Modes        map[int]Mode        `json:"modes,omitempty"`
}

// Config is the full configuration tree. Profiles are kept in file order
// because the resolver picks the first profile whose conditions match.
type Config struct {
	Profiles  []Profile                      `json:"profiles"`
	Themes    map[string]lighting.Theme      `json:"themes,omitempty"`
	Keygroups map[string][]protocol.Scancode `json:"keygroups,omitempty"`
	GkeySets  map[string]map[int]Binding     `json:"gkey_sets,omitempty"`
	Macros    map[string]macro.Macro         `json:"macros,omitempty"`
}

// Default returns the fallback profile. Validate guarantees it exists.
func (c *Config) Default() *Profile {
	for i := range c.Profiles {
		if c.Profiles[i].ID == DefaultProfileID {
			return &c.Profiles[i]
		}
	}
	return nil
}

// Validate checks cross-references and structural rules. A config that fails
// validation is rejected as a whole and the previous one stays active.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Profiles))
	defaults := 0
	for i := range c.Profiles {
		p := &c.Profiles[i]
		if p.ID == "" {
			return fmt.Errorf("profile %d: missing id", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.ID == DefaultProfileID {
			defaults++
			if p.Conditions != nil {
				return fmt.Errorf("profile %q: the default profile cannot have conditions", p.ID)
			}
		} else if p.Conditions != nil && p.Conditions.Empty() {
			return fmt.Errorf("profile %q: %w", p.ID, ErrEmptyConditions)
		}
		if err := c.validateProfile(p); err != nil {
			return fmt.Errorf("profile %q: %w", p.ID, err)
		}
	}
	if defaults == 0 {
		return ErrMissingDefault
	}

	for name, set := range c.GkeySets {
		for gkey, binding := range set {
			if err := c.validateBinding(gkey, binding); err != nil {
				return fmt.Errorf("gkey set %q: %w", name, err)
			}
		}
	}
	for name, theme := range c.Themes {
		if err := c.validateTheme(theme); err != nil {
			return fmt.Errorf("theme %q: %w", name, err)
		}
	}
	return nil
}

func (c *Config) validateProfile(p *Profile) error {
	if err := c.validateOverlay(p.Theme, p.GkeySets, p.Gkeys); err != nil {
		return err
	}
	for number, mode := range p.Modes {
		if number < 1 || number > 3 {
			return fmt.Errorf("mode %d: mode numbers range from 1 to 3", number)
		}
		if err := c.validateOverlay(mode.Theme, mode.GkeySets, mode.Gkeys); err != nil {
			return fmt.Errorf("mode %d: %w", number, err)
		}
	}
	return nil
}

func (c *Config) validateOverlay(theme string, sets []string, gkeys map[int]Binding) error {
	if theme != "" {
		if _, ok := c.Themes[theme]; !ok {
			return fmt.Errorf("references unknown theme %q", theme)
		}
	}
	for _, name := range sets {
		if _, ok := c.GkeySets[name]; !ok {
			return fmt.Errorf("references unknown gkey set %q", name)
		}
	}
	for gkey, binding := range gkeys {
		if err := c.validateBinding(gkey, binding); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateBinding(gkey int, b Binding) error {
	if gkey < 1 || gkey > protocol.GKeyCount {
		return fmt.Errorf("g%d: G-key numbers range from 1 to %d", gkey, protocol.GKeyCount)
	}
	if b.Action == nil && b.Macro == "" {
		return fmt.Errorf("g%d: binding is empty", gkey)
	}
	if b.Macro != "" {
		if _, ok := c.Macros[b.Macro]; !ok {
			return fmt.Errorf("g%d: references unknown macro %q", gkey, b.Macro)
		}
	}
	return nil
}

func (c *Config) validateTheme(theme lighting.Theme) error {
	for i, assignment := range theme.Assignments {
		if name := assignment.Keys.Keygroup; name != "" {
			if _, ok := c.Keygroups[name]; !ok {
				return fmt.Errorf("assignment %d: references unknown keygroup %q", i, name)
			}
		}
	}
	return nil
}
