package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Scancode is a device key code. Standard keys use their USB HID usage codes;
// the G-keys, logo, light and media keys use vendor codes that only exist in
// the lighting address space.
type Scancode byte

const (
	ScanA         Scancode = 0x04
	ScanEnter     Scancode = 0x28
	ScanEscape    Scancode = 0x29
	ScanSpace     Scancode = 0x2c
	ScanCapsLock  Scancode = 0x39
	ScanF1        Scancode = 0x3a
	ScanNumLock   Scancode = 0x53
	ScanContext   Scancode = 0x76
	ScanMute      Scancode = 0x7f
	ScanLeftCtrl  Scancode = 0xe0
	ScanLeftShift Scancode = 0xe1
	ScanLeftAlt   Scancode = 0xe2
	ScanLeftMeta  Scancode = 0xe3
	ScanRightCtrl Scancode = 0xe4
	ScanRightMeta Scancode = 0xe7

	// Vendor codes without real scancodes.
	ScanLight         Scancode = 0x99
	ScanPlayPause     Scancode = 0x9b
	ScanMediaNext     Scancode = 0x9d
	ScanMediaPrevious Scancode = 0x9e
	ScanG1            Scancode = 0xb4
	ScanG2            Scancode = 0xb5
	ScanG3            Scancode = 0xb6
	ScanG4            Scancode = 0xb7
	ScanG5            Scancode = 0xb8
	ScanLogo          Scancode = 0xd2
)

// GKeyCount is the number of dedicated macro keys on the device.
const GKeyCount = 5

// RGBID converts the scancode into the id used by the lighting commands.
// Most keys are offset by 3, modifiers live in a separate block and a few
// keys are remapped outright.
func (s Scancode) RGBID() byte {
	switch {
	case s == ScanMute:
		return 0x9c
	case s == ScanContext:
		return 0x62
	case s >= ScanLeftCtrl:
		return byte(s) - 0x78
	case s >= ScanLight: // vendor codes are already lighting ids
		return byte(s)
	default:
		return byte(s) - 0x03
	}
}

// GKeyNumber returns the 1-based G-key number for a G-key scancode, or 0.
func (s Scancode) GKeyNumber() int {
	if s >= ScanG1 && s <= ScanG5 {
		return int(s-ScanG1) + 1
	}
	return 0
}

// GKeyScancode returns the scancode of the 1-based G-key number.
func GKeyScancode(number int) (Scancode, bool) {
	if number < 1 || number > GKeyCount {
		return 0, false
	}
	return ScanG1 + Scancode(number-1), true
}

var scancodeNames = map[Scancode]string{
	0x04: "a", 0x05: "b", 0x06: "c", 0x07: "d", 0x08: "e", 0x09: "f",
	0x0a: "g", 0x0b: "h", 0x0c: "i", 0x0d: "j", 0x0e: "k", 0x0f: "l",
	0x10: "m", 0x11: "n", 0x12: "o", 0x13: "p", 0x14: "q", 0x15: "r",
	0x16: "s", 0x17: "t", 0x18: "u", 0x19: "v", 0x1a: "w", 0x1b: "x",
	0x1c: "y", 0x1d: "z",
	0x1e: "1", 0x1f: "2", 0x20: "3", 0x21: "4", 0x22: "5",
	0x23: "6", 0x24: "7", 0x25: "8", 0x26: "9", 0x27: "0",
	0x28: "enter", 0x29: "escape", 0x2a: "backspace", 0x2b: "tab",
	0x2c: "space", 0x2d: "minus", 0x2e: "equals",
	0x2f: "left_bracket", 0x30: "right_bracket", 0x31: "us_backslash",
	0x32: "hash_tilde", 0x33: "semicolon", 0x34: "apostrophe", 0x35: "grave",
	0x36: "comma", 0x37: "dot", 0x38: "slash", 0x39: "caps_lock",
	0x3a: "f1", 0x3b: "f2", 0x3c: "f3", 0x3d: "f4", 0x3e: "f5", 0x3f: "f6",
	0x40: "f7", 0x41: "f8", 0x42: "f9", 0x43: "f10", 0x44: "f11", 0x45: "f12",
	0x46: "print_screen", 0x47: "scroll_lock", 0x48: "pause",
	0x49: "insert", 0x4a: "home", 0x4b: "page_up",
	0x4c: "delete", 0x4d: "end", 0x4e: "page_down",
	0x4f: "right", 0x50: "left", 0x51: "down", 0x52: "up",
	0x53: "num_lock",
	0x54: "numpad_divide", 0x55: "numpad_multiply", 0x56: "numpad_minus",
	0x57: "numpad_plus", 0x58: "numpad_enter",
	0x59: "numpad_1", 0x5a: "numpad_2", 0x5b: "numpad_3", 0x5c: "numpad_4",
	0x5d: "numpad_5", 0x5e: "numpad_6", 0x5f: "numpad_7", 0x60: "numpad_8",
	0x61: "numpad_9", 0x62: "numpad_0", 0x63: "numpad_dot",
	0x64: "backslash",
	0x76: "context_menu", 0x7f: "mute",
	0xe0: "left_control", 0xe1: "left_shift", 0xe2: "left_alt", 0xe3: "left_meta",
	0xe4: "right_control", 0xe5: "right_shift", 0xe6: "right_alt", 0xe7: "right_meta",
	0x99: "light", 0x9b: "play_pause", 0x9d: "media_next", 0x9e: "media_previous",
	0xb4: "g1", 0xb5: "g2", 0xb6: "g3", 0xb7: "g4", 0xb8: "g5",
	0xd2: "logo",
}

var scancodesByName = func() map[string]Scancode {
	m := make(map[string]Scancode, len(scancodeNames))
	for code, name := range scancodeNames {
		m[name] = code
	}
	return m
}()

// Name returns the configuration name of the scancode, or its hex value when
// the code has no name.
func (s Scancode) Name() string {
	if name, ok := scancodeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(s))
}

func (s Scancode) String() string {
	return s.Name()
}

// ParseScancode resolves a configuration key name to a scancode.
func ParseScancode(name string) (Scancode, error) {
	code, ok := scancodesByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("protocol: unknown key name %q", name)
	}
	return code, nil
}

// MarshalJSON encodes the scancode as its configuration name.
func (s Scancode) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.Name())), nil
}

// UnmarshalJSON decodes a scancode from its configuration name.
func (s *Scancode) UnmarshalJSON(data []byte) error {
	name := strings.Trim(string(data), `"`)
	code, err := ParseScancode(name)
	if err != nil {
		return err
	}
	*s = code
	return nil
}

var allScancodes = func() []Scancode {
	out := make([]Scancode, 0, len(scancodeNames))
	for code := range scancodeNames {
		out = append(out, code)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}()

// AllScancodes returns every named scancode in ascending order.
func AllScancodes() []Scancode {
	return allScancodes
}

// gameModeDenied lists keys the device refuses to disable in game mode.
var gameModeDenied = map[Scancode]struct{}{
	ScanLeftMeta: {}, ScanRightMeta: {}, ScanContext: {}, ScanMute: {},
	ScanLight: {}, ScanG1: {}, ScanG2: {}, ScanG3: {}, ScanG4: {}, ScanG5: {},
	ScanLogo: {}, ScanMediaPrevious: {}, ScanMediaNext: {}, ScanPlayPause: {},
}

// GameModeEligible filters out keys that cannot be added to game mode.
func GameModeEligible(keys []Scancode) []Scancode {
	out := make([]Scancode, 0, len(keys))
	for _, key := range keys {
		if _, denied := gameModeDenied[key]; !denied {
			out = append(out, key)
		}
	}
	return out
}
