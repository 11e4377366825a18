// Package effectors implements the side-effect collaborators macro steps act
// through: virtual keyboard and mouse devices backed by uinput, detached
// shell commands, and session bus method calls.
package effectors

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/bendahl/uinput"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"github.com/glimmerkb/glimmer-agent/internal/macro"
)

const uinputPath = "/dev/uinput"

// Set bundles every effector behind the macro.Effector interface. The session
// bus connection is optional; bus steps fail gracefully without one.
type Set struct {
	log      *zap.Logger
	keyboard uinput.Keyboard
	mouse    uinput.Mouse
	bus      *dbus.Conn
	shell    string
}

func New(log *zap.Logger) (*Set, error) {
	keyboard, err := uinput.CreateKeyboard(uinputPath, []byte("glimmer-agent keyboard"))
	if err != nil {
		return nil, fmt.Errorf("creating virtual keyboard: %w", err)
	}
	mouse, err := uinput.CreateMouse(uinputPath, []byte("glimmer-agent mouse"))
	if err != nil {
		keyboard.Close()
		return nil, fmt.Errorf("creating virtual mouse: %w", err)
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		log.Warn("session bus unavailable, dbus steps will fail", zap.Error(err))
		conn = nil
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	return &Set{
		log:      log,
		keyboard: keyboard,
		mouse:    mouse,
		bus:      conn,
		shell:    shell,
	}, nil
}

func (s *Set) Close() error {
	if s.bus != nil {
		s.bus.Close()
	}
	s.mouse.Close()
	return s.keyboard.Close()
}

func (s *Set) PressKey(name string) error {
	code, ok := KeyCode(name)
	if !ok {
		return fmt.Errorf("unknown key symbol %q", name)
	}
	return s.keyboard.KeyDown(code)
}

func (s *Set) ReleaseKey(name string) error {
	code, ok := KeyCode(name)
	if !ok {
		return fmt.Errorf("unknown key symbol %q", name)
	}
	return s.keyboard.KeyUp(code)
}

// TapKey presses and releases a key in one event pair. Used for forwarding
// media keys.
func (s *Set) TapKey(name string) error {
	code, ok := KeyCode(name)
	if !ok {
		return fmt.Errorf("unknown key symbol %q", name)
	}
	return s.keyboard.KeyPress(code)
}

func (s *Set) PressButton(name string) error {
	switch name {
	case "left":
		return s.mouse.LeftPress()
	case "right":
		return s.mouse.RightPress()
	case "middle":
		return s.mouse.MiddlePress()
	default:
		return fmt.Errorf("unknown mouse button %q", name)
	}
}

func (s *Set) ReleaseButton(name string) error {
	switch name {
	case "left":
		return s.mouse.LeftRelease()
	case "right":
		return s.mouse.RightRelease()
	case "middle":
		return s.mouse.MiddleRelease()
	default:
		return fmt.Errorf("unknown mouse button %q", name)
	}
}

// RunShell starts the command through the user's shell and returns without
// waiting. The child is reaped in the background.
func (s *Set) RunShell(command string) error {
	cmd := exec.Command(s.shell, "-c", command)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %q: %w", command, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			s.log.Debug("shell command exited with error",
				zap.String("command", command), zap.Error(err))
		}
	}()
	return nil
}

func (s *Set) CallMethod(call macro.BusMethodCall) error {
	if s.bus == nil {
		return fmt.Errorf("session bus is not connected")
	}
	args := make([]interface{}, len(call.Args))
	for i, arg := range call.Args {
		args[i] = arg
	}
	obj := s.bus.Object(call.Destination, dbus.ObjectPath(call.Path))
	return obj.Call(call.Interface+"."+call.Method, 0, args...).Err
}
