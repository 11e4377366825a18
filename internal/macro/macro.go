// Package macro implements user macro definitions and the per-G-key execution
// engine. A macro is an ordered sequence of steps run under one of four
// activation semantics; side effects (input injection, shell commands, bus
// calls) go through the Effector interface so the engine itself stays free of
// OS specifics.
package macro

import (
	"encoding/json"
	"fmt"
)

type ActivationKind string

const (
	ActivationSingular     ActivationKind = "singular"
	ActivationRepeat       ActivationKind = "repeat"
	ActivationHoldToRepeat ActivationKind = "hold_to_repeat"
	ActivationToggle       ActivationKind = "toggle"
)

// Activation is the macro's trigger semantics. In YAML it is either a plain
// string ("singular", "hold_to_repeat", "toggle") or {repeat: n}.
type Activation struct {
	Kind ActivationKind
	// Count is the number of passes for ActivationRepeat.
	Count int
}

func (a *Activation) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		switch ActivationKind(kind) {
		case ActivationSingular, ActivationHoldToRepeat, ActivationToggle:
			a.Kind = ActivationKind(kind)
			return nil
		case ActivationRepeat:
			return fmt.Errorf("macro: repeat activation requires a count: {repeat: n}")
		default:
			return fmt.Errorf("macro: unknown activation type %q", kind)
		}
	}
	var tagged struct {
		Repeat *int `json:"repeat"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil || tagged.Repeat == nil {
		return fmt.Errorf("macro: invalid activation type %s", data)
	}
	if *tagged.Repeat < 1 {
		return fmt.Errorf("macro: repeat count must be at least 1")
	}
	a.Kind = ActivationRepeat
	a.Count = *tagged.Repeat
	return nil
}

func (a Activation) MarshalJSON() ([]byte, error) {
	if a.Kind == ActivationRepeat {
		return json.Marshal(struct {
			Repeat int `json:"repeat"`
		}{a.Count})
	}
	return json.Marshal(string(a.Kind))
}

// passes returns the bounded pass count, or 0 for the looping kinds.
func (a Activation) passes() int {
	switch a.Kind {
	case ActivationSingular:
		return 1
	case ActivationRepeat:
		return a.Count
	default:
		return 0
	}
}

type ActionKind string

const (
	ActionMouseClick    ActionKind = "mouse_click"
	ActionKeyPress      ActionKind = "key_press"
	ActionRunCommand    ActionKind = "run_command"
	ActionDelay         ActionKind = "delay"
	ActionDebugPrint    ActionKind = "debug_print"
	ActionBusMethodCall ActionKind = "dbus_method_call"
)

// BusMethodCall names a D-Bus method to invoke.
type BusMethodCall struct {
	Destination string   `json:"destination"`
	Path        string   `json:"path"`
	Interface   string   `json:"interface"`
	Method      string   `json:"method"`
	Args        []string `json:"args,omitempty"`
}

// Action is a single effectful operation. In YAML it is "delay" or a
// single-key mapping such as {key_press: "ctrl+c"} or
// {dbus_method_call: {destination: ..., method: ...}}.
type Action struct {
	Kind ActionKind
	// Argument carries the button name, key combo, shell command or debug
	// message depending on Kind.
	Argument string
	// Method is set for ActionBusMethodCall.
	Method *BusMethodCall
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		if ActionKind(kind) != ActionDelay {
			return fmt.Errorf("macro: action %q requires an argument", kind)
		}
		a.Kind = ActionDelay
		return nil
	}
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("macro: invalid action: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("macro: action must have exactly one kind, got %d", len(tagged))
	}
	for key, raw := range tagged {
		switch ActionKind(key) {
		case ActionMouseClick, ActionKeyPress, ActionRunCommand, ActionDebugPrint:
			a.Kind = ActionKind(key)
			return json.Unmarshal(raw, &a.Argument)
		case ActionDelay:
			a.Kind = ActionDelay
			return nil
		case ActionBusMethodCall:
			a.Kind = ActionBusMethodCall
			a.Method = &BusMethodCall{}
			return json.Unmarshal(raw, a.Method)
		default:
			return fmt.Errorf("macro: unknown action kind %q", key)
		}
	}
	return fmt.Errorf("macro: empty action")
}

func (a Action) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case ActionDelay:
		return json.Marshal(string(ActionDelay))
	case ActionBusMethodCall:
		return json.Marshal(map[string]*BusMethodCall{string(a.Kind): a.Method})
	default:
		return json.Marshal(map[string]string{string(a.Kind): a.Argument})
	}
}

// Step is one action plus its duration in milliseconds. The duration is a
// hold time for key and mouse actions, a wait time for delay, and ignored
// otherwise.
type Step struct {
	Action   Action `json:"action"`
	Duration uint64 `json:"duration,omitempty"`
}

// Macro is an ordered step sequence with activation semantics.
type Macro struct {
	Activation Activation `json:"activation_type"`
	Steps      []Step     `json:"steps"`
}

// FromAction wraps a bare bound action into a singular one-step macro.
func FromAction(action Action) Macro {
	return Macro{
		Activation: Activation{Kind: ActivationSingular},
		Steps:      []Step{{Action: action, Duration: 5}},
	}
}

// Effector is the set of external collaborators macro steps act through.
// Implementations inject input at the OS level, spawn shell commands and
// dispatch bus calls; all of them are opaque effectful operations to the
// engine.
type Effector interface {
	PressKey(name string) error
	ReleaseKey(name string) error
	PressButton(name string) error
	ReleaseButton(name string) error
	// RunShell hands the command to a shell asynchronously and returns
	// without waiting for it.
	RunShell(command string) error
	CallMethod(call BusMethodCall) error
}
