package lighting

import (
	"fmt"
	"sort"

	"github.com/glimmerkb/glimmer-agent/internal/protocol"
	"go.uber.org/zap"
)

// Effect codes and group selectors for CmdSetEffect.
const (
	effectCodeOff       = 0x00
	effectCodeSolid     = 0x01
	effectCodeBreathing = 0x02
	effectCodeCycle     = 0x03
	effectCodeWaves     = 0x04
	effectCodeRipple    = 0x05

	groupLogo = 0x00
	groupKeys = 0x01
)

var directionCodes = map[EffectDirection]byte{
	DirectionHorizontal:        0x01,
	DirectionVertical:          0x02,
	DirectionCenterOut:         0x03,
	DirectionReverseHorizontal: 0x06,
	DirectionReverseVertical:   0x07,
	DirectionCenterIn:          0x08,
}

const (
	defaultPeriodMs   = 2000
	defaultBrightness = 100

	set4MaxKeys  = 4
	set13MaxKeys = 13
)

// Renderer compiles themes into ordered command frame sequences. Frames are
// produced with the canonical session nibble; the device session restamps
// them on send.
//
// A renderer is stateless apart from its policy knobs, so rendering the same
// theme twice yields identical sequences.
type Renderer struct {
	log        *zap.Logger
	keygroups  map[string][]protocol.Scancode
	fullRedraw bool
}

type RendererOption func(*Renderer)

// WithFullRedraw makes assignment themes paint every unassigned key black
// instead of leaving it at its previous color.
func WithFullRedraw(on bool) RendererOption {
	return func(r *Renderer) {
		r.fullRedraw = on
	}
}

func NewRenderer(log *zap.Logger, keygroups map[string][]protocol.Scancode, opts ...RendererOption) *Renderer {
	r := &Renderer{
		log:       log,
		keygroups: keygroups,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render compiles a theme into the frame sequence that applies it. Assignment
// themes are wrapped in a start/end marker pair followed by a commit; a fresh
// start marker also resynchronizes the device if an earlier sequence was
// abandoned mid-flight. Effect themes are a single frame with no framing,
// since effects are device-resident animations.
func (r *Renderer) Render(theme Theme) ([]protocol.Frame, error) {
	if theme.IsEffect() {
		frame, err := r.effectFrame(*theme.Effect)
		if err != nil {
			return nil, err
		}
		return []protocol.Frame{frame}, nil
	}
	return r.assignmentFrames(theme.Assignments, r.fullRedraw)
}

// colorGroup is a run of keys sharing one resolved color.
type colorGroup struct {
	color Color
	keys  []protocol.Scancode
}

// resolveGroups flattens assignments into per-color key groups. When two
// assignments claim the same key the later one in list order wins; each key
// is emitted exactly once, grouped under its winning assignment.
func (r *Renderer) resolveGroups(assignments []ColorAssignment) []colorGroup {
	resolved := make([][]protocol.Scancode, len(assignments))
	owner := make(map[protocol.Scancode]int, 64)
	for i, assignment := range assignments {
		resolved[i] = assignment.Keys.Resolve(r.keygroups)
		for _, key := range resolved[i] {
			owner[key] = i
		}
	}
	groups := make([]colorGroup, 0, len(assignments))
	for i, assignment := range assignments {
		var keys []protocol.Scancode
		for _, key := range resolved[i] {
			if owner[key] == i {
				keys = append(keys, key)
			}
		}
		if len(keys) > 0 {
			groups = append(groups, colorGroup{color: assignment.Color, keys: keys})
		}
	}
	return groups
}

func (r *Renderer) assignmentFrames(assignments []ColorAssignment, fullRedraw bool) ([]protocol.Frame, error) {
	groups := r.resolveGroups(assignments)

	if fullRedraw {
		if blackout := unassignedKeys(groups); len(blackout) > 0 {
			groups = append([]colorGroup{{color: Black, keys: blackout}}, groups...)
		}
	}

	frames := []protocol.Frame{
		protocol.MustEncode(protocol.CmdMarkerStart, protocol.CanonicalSession, nil),
	}
	for _, group := range groups {
		groupFrames, err := r.groupFrames(group)
		if err != nil {
			return nil, err
		}
		frames = append(frames, groupFrames...)
	}
	frames = append(frames,
		protocol.MustEncode(protocol.CmdMarkerEnd, protocol.CanonicalSession, nil),
		protocol.MustEncode(protocol.CmdCommit, protocol.CanonicalSession, nil),
	)
	return frames, nil
}

// groupFrames emits the bulk update frames for one color group: the 4-key
// command for small groups, 13-key chunks otherwise.
func (r *Renderer) groupFrames(group colorGroup) ([]protocol.Frame, error) {
	if len(group.keys) <= set4MaxKeys {
		return []protocol.Frame{set4Frame(group.color, group.keys)}, nil
	}
	frames := make([]protocol.Frame, 0, (len(group.keys)+set13MaxKeys-1)/set13MaxKeys)
	for start := 0; start < len(group.keys); start += set13MaxKeys {
		end := start + set13MaxKeys
		if end > len(group.keys) {
			end = len(group.keys)
		}
		frames = append(frames, set13Frame(group.color, group.keys[start:end]))
	}
	return frames, nil
}

func set4Frame(color Color, keys []protocol.Scancode) protocol.Frame {
	payload := make([]byte, 0, set4MaxKeys*4+1)
	for _, key := range keys {
		payload = append(payload, key.RGBID(), color.R, color.G, color.B)
	}
	if len(keys) < set4MaxKeys {
		payload = append(payload, 0xff)
	}
	return protocol.MustEncode(protocol.CmdSet4, protocol.CanonicalSession, payload)
}

func set13Frame(color Color, keys []protocol.Scancode) protocol.Frame {
	payload := make([]byte, 0, 3+set13MaxKeys)
	payload = append(payload, color.R, color.G, color.B)
	for _, key := range keys {
		payload = append(payload, key.RGBID())
	}
	return protocol.MustEncode(protocol.CmdSet13, protocol.CanonicalSession, payload)
}

// unassignedKeys returns every named key not claimed by a group, in ascending
// scancode order so blackout frames are deterministic.
func unassignedKeys(groups []colorGroup) []protocol.Scancode {
	claimed := make(map[protocol.Scancode]struct{}, 128)
	for _, group := range groups {
		for _, key := range group.keys {
			claimed[key] = struct{}{}
		}
	}
	var out []protocol.Scancode
	for _, key := range protocol.AllScancodes() {
		if _, ok := claimed[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// effectFrame builds the single CmdSetEffect frame for an effect theme. Every
// effect kind has its own fixed payload shape; the trailing constants were
// lifted from captures and are low-confidence for the waves and ripple kinds.
func (r *Renderer) effectFrame(effect EffectConfiguration) (protocol.Frame, error) {
	group := byte(groupKeys)
	if effect.Target == TargetLogo {
		group = groupLogo
	}
	period := effect.PeriodMs
	if period == 0 {
		period = defaultPeriodMs
	}
	brightness := effect.Brightness
	if brightness == 0 {
		brightness = defaultBrightness
	}
	perHi, perLo := byte(period>>8), byte(period)
	c := effect.Color

	var payload []byte
	switch effect.Effect {
	case EffectOff:
		payload = []byte{group, effectCodeOff}
	case EffectSolid:
		payload = []byte{group, effectCodeSolid, c.R, c.G, c.B, 0x02}
	case EffectBreathing:
		payload = []byte{group, effectCodeBreathing, c.R, c.G, c.B, perHi, perLo, 0x00, brightness}
	case EffectCycle:
		payload = []byte{group, effectCodeCycle, 0, 0, 0, 0, 0, perHi, perLo, brightness, 0x00, 0x00, 0x01}
	case EffectWaves:
		direction, ok := directionCodes[effect.Direction]
		if !ok {
			return protocol.Frame{}, fmt.Errorf("lighting: waves effect requires a direction")
		}
		payload = []byte{group, effectCodeWaves, 0, 0, 0, 0, 0, 0, direction, perHi, perLo, brightness, 0x00, 0x01}
	case EffectRipple:
		payload = []byte{group, effectCodeRipple, c.R, c.G, c.B, 0x00, perHi, perLo}
	default:
		return protocol.Frame{}, fmt.Errorf("lighting: unknown effect kind %q", effect.Effect)
	}
	return protocol.Encode(protocol.CmdSetEffect, protocol.CanonicalSession, payload)
}

// StopEffectFrames turns off the device-resident animation on both groups.
func (r *Renderer) StopEffectFrames() []protocol.Frame {
	return []protocol.Frame{
		protocol.MustEncode(protocol.CmdSetEffect, protocol.CanonicalSession, []byte{groupLogo, effectCodeOff}),
		protocol.MustEncode(protocol.CmdSetEffect, protocol.CanonicalSession, []byte{groupKeys, effectCodeOff}),
	}
}

// BlackoutFrames paints every key black, marker-wrapped and committed.
func (r *Renderer) BlackoutFrames() []protocol.Frame {
	frames, _ := r.assignmentFrames(nil, true)
	return frames
}

// KeyColor pairs a single key with a color for overlay updates.
type KeyColor struct {
	Key   protocol.Scancode
	Color Color
}

// OverlayFrames updates a handful of individual keys (macro blink indicators,
// media key hints) without touching the rest of the map.
func (r *Renderer) OverlayFrames(pairs []KeyColor) []protocol.Frame {
	if len(pairs) == 0 {
		return nil
	}
	frames := []protocol.Frame{
		protocol.MustEncode(protocol.CmdMarkerStart, protocol.CanonicalSession, nil),
	}
	for start := 0; start < len(pairs); start += set4MaxKeys {
		end := start + set4MaxKeys
		if end > len(pairs) {
			end = len(pairs)
		}
		payload := make([]byte, 0, set4MaxKeys*4+1)
		for _, pair := range pairs[start:end] {
			payload = append(payload, pair.Key.RGBID(), pair.Color.R, pair.Color.G, pair.Color.B)
		}
		if end-start < set4MaxKeys {
			payload = append(payload, 0xff)
		}
		frames = append(frames, protocol.MustEncode(protocol.CmdSet4, protocol.CanonicalSession, payload))
	}
	return append(frames,
		protocol.MustEncode(protocol.CmdMarkerEnd, protocol.CanonicalSession, nil),
		protocol.MustEncode(protocol.CmdCommit, protocol.CanonicalSession, nil),
	)
}

// GameModeFrames resets the game-mode key set and re-adds the configured
// keys in chunks, skipping keys the device refuses to disable.
func (r *Renderer) GameModeFrames(keys []protocol.Scancode) []protocol.Frame {
	frames := []protocol.Frame{
		protocol.MustEncode(protocol.CmdMarkerStart, protocol.CanonicalSession, nil),
	}
	eligible := protocol.GameModeEligible(keys)
	const chunk = 15
	for start := 0; start < len(eligible); start += chunk {
		end := start + chunk
		if end > len(eligible) {
			end = len(eligible)
		}
		payload := make([]byte, 0, chunk)
		for _, key := range eligible[start:end] {
			payload = append(payload, byte(key))
		}
		frames = append(frames, protocol.MustEncode(protocol.CmdMarkerEnd, protocol.CanonicalSession, payload))
	}
	return frames
}

// ModeLedsFrame lights the mode-key LEDs given a 1-based active mode number.
func ModeLedsFrame(mode int) protocol.Frame {
	var mask byte
	if mode >= 1 && mode <= 8 {
		mask = 1 << (mode - 1)
	}
	return protocol.MustEncode(protocol.CmdModeLeds, protocol.CanonicalSession, []byte{mask})
}
