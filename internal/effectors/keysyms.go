package effectors

import (
	"strings"

	"github.com/bendahl/uinput"
)

// keysymCodes maps X key symbol names, as used in key_press combos, to Linux
// input event codes.
var keysymCodes = map[string]int{
	"a": uinput.KeyA, "b": uinput.KeyB, "c": uinput.KeyC, "d": uinput.KeyD,
	"e": uinput.KeyE, "f": uinput.KeyF, "g": uinput.KeyG, "h": uinput.KeyH,
	"i": uinput.KeyI, "j": uinput.KeyJ, "k": uinput.KeyK, "l": uinput.KeyL,
	"m": uinput.KeyM, "n": uinput.KeyN, "o": uinput.KeyO, "p": uinput.KeyP,
	"q": uinput.KeyQ, "r": uinput.KeyR, "s": uinput.KeyS, "t": uinput.KeyT,
	"u": uinput.KeyU, "v": uinput.KeyV, "w": uinput.KeyW, "x": uinput.KeyX,
	"y": uinput.KeyY, "z": uinput.KeyZ,

	"1": uinput.Key1, "2": uinput.Key2, "3": uinput.Key3, "4": uinput.Key4,
	"5": uinput.Key5, "6": uinput.Key6, "7": uinput.Key7, "8": uinput.Key8,
	"9": uinput.Key9, "0": uinput.Key0,

	"F1": uinput.KeyF1, "F2": uinput.KeyF2, "F3": uinput.KeyF3,
	"F4": uinput.KeyF4, "F5": uinput.KeyF5, "F6": uinput.KeyF6,
	"F7": uinput.KeyF7, "F8": uinput.KeyF8, "F9": uinput.KeyF9,
	"F10": uinput.KeyF10, "F11": uinput.KeyF11, "F12": uinput.KeyF12,

	"Return":    uinput.KeyEnter,
	"Escape":    uinput.KeyEsc,
	"space":     uinput.KeySpace,
	"Tab":       uinput.KeyTab,
	"BackSpace": uinput.KeyBackspace,
	"Delete":    uinput.KeyDelete,
	"Insert":    uinput.KeyInsert,
	"Home":      uinput.KeyHome,
	"End":       uinput.KeyEnd,
	"Prior":     uinput.KeyPageup,
	"Next":      uinput.KeyPagedown,
	"Up":        uinput.KeyUp,
	"Down":      uinput.KeyDown,
	"Left":      uinput.KeyLeft,
	"Right":     uinput.KeyRight,

	"Control_L": uinput.KeyLeftctrl,
	"Control_R": uinput.KeyRightctrl,
	"Shift_L":   uinput.KeyLeftshift,
	"Shift_R":   uinput.KeyRightshift,
	"Alt_L":     uinput.KeyLeftalt,
	"Alt_R":     uinput.KeyRightalt,
	"Super_L":   uinput.KeyLeftmeta,
	"Super_R":   uinput.KeyRightmeta,
	"Caps_Lock": uinput.KeyCapslock,
	"Menu":      uinput.KeyMenu,

	"XF86AudioPlay":         uinput.KeyPlaypause,
	"XF86AudioNext":         uinput.KeyNextsong,
	"XF86AudioPrev":         uinput.KeyPrevioussong,
	"XF86AudioRaiseVolume":  uinput.KeyVolumeup,
	"XF86AudioLowerVolume":  uinput.KeyVolumedown,
	"XF86AudioMute":         uinput.KeyMute,
	"XF86MonBrightnessUp":   uinput.KeyBrightnessup,
	"XF86MonBrightnessDown": uinput.KeyBrightnessdown,
}

// KeyCode resolves a key symbol name to its input event code. Single
// characters are matched case insensitively.
func KeyCode(name string) (int, bool) {
	if code, ok := keysymCodes[name]; ok {
		return code, true
	}
	if len(name) == 1 {
		code, ok := keysymCodes[strings.ToLower(name)]
		return code, ok
	}
	return 0, false
}
