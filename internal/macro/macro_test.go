package macro

import (
	"testing"

	"github.com/ghodss/yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCombo(t *testing.T) {
	testCases := []struct {
		combo    string
		expected []string
	}{
		{"ctrl+c", []string{"Control_L", "c"}},
		{"ctrl+shift+t", []string{"Control_L", "Shift_L", "t"}},
		{"win+Return", []string{"Super_L", "Return"}},
		{"alt+F4", []string{"Alt_L", "F4"}},
		{"XF86AudioMute", []string{"XF86AudioMute"}},
		{"a", []string{"a"}},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, SplitCombo(tc.combo), tc.combo)
	}
}

func TestMacroYAML(t *testing.T) {
	var m Macro
	require.NoError(t, yaml.Unmarshal([]byte(`
activation_type: {repeat: 3}
steps:
  - action: {key_press: ctrl+c}
    duration: 50
  - action: delay
    duration: 200
  - action: {run_command: "notify-send done"}
  - action:
      dbus_method_call:
        destination: org.mpris.MediaPlayer2.spotify
        path: /org/mpris/MediaPlayer2
        interface: org.mpris.MediaPlayer2.Player
        method: PlayPause
`), &m))

	assert.Equal(t, ActivationRepeat, m.Activation.Kind)
	assert.Equal(t, 3, m.Activation.Count)
	require.Len(t, m.Steps, 4)
	assert.Equal(t, ActionKeyPress, m.Steps[0].Action.Kind)
	assert.Equal(t, "ctrl+c", m.Steps[0].Action.Argument)
	assert.Equal(t, uint64(50), m.Steps[0].Duration)
	assert.Equal(t, ActionDelay, m.Steps[1].Action.Kind)
	assert.Equal(t, ActionRunCommand, m.Steps[2].Action.Kind)
	require.Equal(t, ActionBusMethodCall, m.Steps[3].Action.Kind)
	require.NotNil(t, m.Steps[3].Action.Method)
	assert.Equal(t, "PlayPause", m.Steps[3].Action.Method.Method)
}

func TestActivationYAMLVariants(t *testing.T) {
	for _, kind := range []string{"singular", "hold_to_repeat", "toggle"} {
		var a Activation
		require.NoError(t, yaml.Unmarshal([]byte(kind), &a), kind)
		assert.Equal(t, ActivationKind(kind), a.Kind)
	}

	var a Activation
	assert.Error(t, yaml.Unmarshal([]byte(`repeat`), &a),
		"bare repeat has no count")
	assert.Error(t, yaml.Unmarshal([]byte(`{repeat: 0}`), &a))
	assert.Error(t, yaml.Unmarshal([]byte(`sometimes`), &a))
}

func TestActionYAMLErrors(t *testing.T) {
	var action Action
	assert.Error(t, yaml.Unmarshal([]byte(`key_press`), &action),
		"key_press needs an argument")
	assert.Error(t, yaml.Unmarshal([]byte(`{frobnicate: x}`), &action))
	assert.Error(t, yaml.Unmarshal([]byte(`{key_press: a, run_command: b}`), &action))
}

func TestFromAction(t *testing.T) {
	m := FromAction(Action{Kind: ActionKeyPress, Argument: "ctrl+v"})
	assert.Equal(t, ActivationSingular, m.Activation.Kind)
	require.Len(t, m.Steps, 1)
	assert.Equal(t, "ctrl+v", m.Steps[0].Action.Argument)
}
