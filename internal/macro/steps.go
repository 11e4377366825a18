package macro

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// keyAliases maps the shorthand modifier names allowed in key_press combos to
// their X key symbol names. Unrecognized tokens pass through unchanged as raw
// keysym names.
var keyAliases = map[string]string{
	"alt":   "Alt_L",
	"ctrl":  "Control_L",
	"shift": "Shift_L",
	"super": "Super_L",
	"win":   "Super_L",
}

// SplitCombo splits a key_press argument on "+" and substitutes aliases.
func SplitCombo(combo string) []string {
	tokens := strings.Split(combo, "+")
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if alias, ok := keyAliases[strings.ToLower(token)]; ok {
			token = alias
		}
		out = append(out, token)
	}
	return out
}

// stepRunner executes individual steps against an effector. Step failures are
// logged and never abort the macro.
type stepRunner struct {
	log      *zap.Logger
	effector Effector
}

// run executes one step. The hold/delay wait is abortable through ctx, but a
// press is always paired with its release even when the wait is cut short.
func (r stepRunner) run(ctx context.Context, step Step) {
	duration := time.Duration(step.Duration) * time.Millisecond
	switch step.Action.Kind {
	case ActionDelay:
		sleep(ctx, duration)

	case ActionMouseClick:
		button := step.Action.Argument
		if err := r.effector.PressButton(button); err != nil {
			r.log.Warn("mouse press failed", zap.String("button", button), zap.Error(err))
			return
		}
		sleep(ctx, duration)
		if err := r.effector.ReleaseButton(button); err != nil {
			r.log.Warn("mouse release failed", zap.String("button", button), zap.Error(err))
		}

	case ActionKeyPress:
		keys := SplitCombo(step.Action.Argument)
		pressed := make([]string, 0, len(keys))
		for _, key := range keys {
			if err := r.effector.PressKey(key); err != nil {
				r.log.Warn("key press failed", zap.String("key", key), zap.Error(err))
				continue
			}
			pressed = append(pressed, key)
		}
		sleep(ctx, duration)
		for i := len(pressed) - 1; i >= 0; i-- {
			if err := r.effector.ReleaseKey(pressed[i]); err != nil {
				r.log.Warn("key release failed", zap.String("key", pressed[i]), zap.Error(err))
			}
		}

	case ActionRunCommand:
		if err := r.effector.RunShell(step.Action.Argument); err != nil {
			r.log.Warn("shell command failed to spawn", zap.String("command", step.Action.Argument), zap.Error(err))
		}

	case ActionDebugPrint:
		r.log.Info(step.Action.Argument)

	case ActionBusMethodCall:
		if step.Action.Method == nil {
			r.log.Warn("dbus step has no method call")
			return
		}
		if err := r.effector.CallMethod(*step.Action.Method); err != nil {
			r.log.Warn("dbus call failed",
				zap.String("destination", step.Action.Method.Destination),
				zap.String("method", step.Action.Method.Method),
				zap.Error(err))
		}

	default:
		r.log.Warn("unknown action kind", zap.String("kind", string(step.Action.Kind)))
	}
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
