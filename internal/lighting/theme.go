package lighting

import (
	"encoding/json"
	"fmt"

	"github.com/glimmerkb/glimmer-agent/internal/protocol"
)

// KeySelection names a set of keys: a single key, an explicit list, or a
// named keygroup resolved at render time. In YAML a selection is either a
// bare key name, a list of key names, or {keygroup: name}.
type KeySelection struct {
	Single   *protocol.Scancode
	Multiple []protocol.Scancode
	Keygroup string
}

func (s *KeySelection) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		code, err := protocol.ParseScancode(name)
		if err != nil {
			return err
		}
		s.Single = &code
		return nil
	}
	var list []protocol.Scancode
	if err := json.Unmarshal(data, &list); err == nil {
		s.Multiple = list
		return nil
	}
	var tagged struct {
		Keygroup string `json:"keygroup"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil || tagged.Keygroup == "" {
		return fmt.Errorf("lighting: key selection must be a key name, a list of key names or {keygroup: name}")
	}
	s.Keygroup = tagged.Keygroup
	return nil
}

func (s KeySelection) MarshalJSON() ([]byte, error) {
	switch {
	case s.Single != nil:
		return json.Marshal(*s.Single)
	case s.Keygroup != "":
		return json.Marshal(struct {
			Keygroup string `json:"keygroup"`
		}{s.Keygroup})
	default:
		return json.Marshal(s.Multiple)
	}
}

// Resolve flattens the selection into scancodes, preserving first-occurrence
// order and dropping duplicates. Unknown keygroups resolve to nothing.
func (s KeySelection) Resolve(keygroups map[string][]protocol.Scancode) []protocol.Scancode {
	var keys []protocol.Scancode
	switch {
	case s.Single != nil:
		keys = []protocol.Scancode{*s.Single}
	case s.Keygroup != "":
		keys = keygroups[s.Keygroup]
	default:
		keys = s.Multiple
	}
	seen := make(map[protocol.Scancode]struct{}, len(keys))
	out := make([]protocol.Scancode, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

// ColorAssignment paints a selection of keys with one color.
type ColorAssignment struct {
	Color Color        `json:"color"`
	Keys  KeySelection `json:"keys"`
}

// EffectKind enumerates the device-resident animations.
type EffectKind string

const (
	EffectOff       EffectKind = "off"
	EffectSolid     EffectKind = "solid"
	EffectBreathing EffectKind = "breathing"
	EffectCycle     EffectKind = "cycle"
	EffectWaves     EffectKind = "waves"
	EffectRipple    EffectKind = "ripple"
)

// EffectTarget selects the key group an effect applies to.
type EffectTarget string

const (
	TargetKeys EffectTarget = "keys"
	TargetLogo EffectTarget = "logo"
)

// EffectDirection applies to the waves effect only.
type EffectDirection string

const (
	DirectionHorizontal        EffectDirection = "horizontal"
	DirectionVertical          EffectDirection = "vertical"
	DirectionCenterOut         EffectDirection = "center_out"
	DirectionCenterIn          EffectDirection = "center_in"
	DirectionReverseHorizontal EffectDirection = "reverse_horizontal"
	DirectionReverseVertical   EffectDirection = "reverse_vertical"
)

// EffectConfiguration describes a device-resident animation.
type EffectConfiguration struct {
	Target     EffectTarget    `json:"target,omitempty"`
	Effect     EffectKind      `json:"effect"`
	Color      Color           `json:"color,omitempty"`
	PeriodMs   uint16          `json:"period,omitempty"`
	Direction  EffectDirection `json:"direction,omitempty"`
	Brightness uint8           `json:"brightness,omitempty"`
}

// Theme is exactly one of a color assignment list or an effect configuration.
// In YAML a list is an assignment theme and a mapping is an effect theme.
type Theme struct {
	Assignments []ColorAssignment
	Effect      *EffectConfiguration
}

func (t Theme) IsEffect() bool {
	return t.Effect != nil
}

func (t *Theme) UnmarshalJSON(data []byte) error {
	var assignments []ColorAssignment
	if err := json.Unmarshal(data, &assignments); err == nil {
		t.Assignments = assignments
		t.Effect = nil
		return nil
	}
	var effect EffectConfiguration
	if err := json.Unmarshal(data, &effect); err != nil {
		return fmt.Errorf("lighting: theme must be a color assignment list or an effect configuration: %w", err)
	}
	if effect.Effect == "" {
		return fmt.Errorf("lighting: effect theme is missing the effect kind")
	}
	t.Assignments = nil
	t.Effect = &effect
	return nil
}

func (t Theme) MarshalJSON() ([]byte, error) {
	if t.Effect != nil {
		return json.Marshal(t.Effect)
	}
	return json.Marshal(t.Assignments)
}
