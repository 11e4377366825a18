package effectors

import (
	"testing"

	"github.com/bendahl/uinput"
	"github.com/stretchr/testify/assert"

	"github.com/glimmerkb/glimmer-agent/internal/macro"
)

func TestKeyCode(t *testing.T) {
	testCases := []struct {
		name     string
		expected int
		ok       bool
	}{
		{"a", uinput.KeyA, true},
		{"A", uinput.KeyA, true},
		{"Control_L", uinput.KeyLeftctrl, true},
		{"Return", uinput.KeyEnter, true},
		{"F4", uinput.KeyF4, true},
		{"XF86AudioMute", uinput.KeyMute, true},
		{"NoSuchKey", 0, false},
	}
	for _, tc := range testCases {
		code, ok := KeyCode(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		if tc.ok {
			assert.Equal(t, tc.expected, code, tc.name)
		}
	}
}

// Every combo alias target must resolve to an input event code, or key_press
// steps using the alias would silently do nothing.
func TestAliasTargetsResolve(t *testing.T) {
	for _, combo := range []string{"ctrl+c", "alt+F4", "shift+Tab", "win+Return", "super+l"} {
		for _, key := range macro.SplitCombo(combo) {
			_, ok := KeyCode(key)
			assert.True(t, ok, "combo %s key %s", combo, key)
		}
	}
}
