// Package protocol implements the wire protocol spoken by the keyboard over
// its vendor HID interface. Outbound commands are fixed 20-byte frames of the
// form 11 ff <feature> <command|session> <payload...>, where the low nibble of
// the command byte carries the session nibble issued by the device during the
// connection handshake. Inbound interrupt reports are variable length and only
// partially understood; see report.go.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// FrameSize is the fixed length of every outbound command frame.
	FrameSize = 20
	// MaxPayload is the number of payload bytes a frame can carry after the
	// two magic bytes and the two command bytes.
	MaxPayload = FrameSize - 4

	magic0 = 0x11
	magic1 = 0xff
)

var (
	ErrPayloadTooLarge  = errors.New("protocol: payload exceeds 16 bytes")
	ErrHandshakeTimeout = errors.New("protocol: no session identification received")
	ErrShortReport      = errors.New("protocol: report too short")
)

// Command identifies a device command as feature byte << 8 | command byte.
// Constants are written in their canonical form, as captured after an
// initializer handshake that yielded session nibble 0xa. The session nibble in
// the low four bits is replaced with the live session's value on every send.
type Command uint16

const (
	CmdCapabilityInfo    Command = 0x000a
	CmdInitializeSession Command = 0x001a
	CmdGetVersion        Command = 0x021a
	CmdMarkerStart       Command = 0x083a // also resets game-mode key disables
	CmdMarkerEnd         Command = 0x081a // with payload: adds game-mode keys
	CmdGKeysMode         Command = 0x0a2a // 00 G-keys act as F-keys, 01 software
	CmdModeLeds          Command = 0x0b1a // payload: bitmask of mode-key LEDs
	CmdMacroRecordMode   Command = 0x0c0a // payload: 00/01 for MR LED off/on
	CmdSetEffect         Command = 0x0f1a
	CmdLightingEnabled   Command = 0x0f7a
	CmdSet4              Command = 0x101a // (key, r, g, b){1,4}, ff pad if short
	CmdSet13             Command = 0x106a // r, g, b, (key){1,13}
	CmdCommit            Command = 0x107a
	CmdControlMode       Command = 0x111a // 01 hardware, 02 software
)

// CanonicalSession is the session nibble the command constants are written
// in. Frames encoded with it are restamped with the live nibble on send.
const CanonicalSession byte = 0x0a

// Control modes for CmdControlMode.
const (
	ControlModeHardware byte = 0x01
	ControlModeSoftware byte = 0x02
)

// G-key modes for CmdGKeysMode.
const (
	GKeysModeDefault  byte = 0x00
	GKeysModeSoftware byte = 0x01
)

// WithSession returns the command with its session nibble replaced.
func (c Command) WithSession(session byte) Command {
	return c&0xfff0 | Command(session&0x0f)
}

// Feature returns the feature byte of the command.
func (c Command) Feature() byte {
	return byte(c >> 8)
}

func (c Command) String() string {
	return fmt.Sprintf("%02x %02x", byte(c>>8), byte(c))
}

// Frame is a fixed-size outbound command frame.
type Frame [FrameSize]byte

// Encode builds a frame for cmd with the given session nibble and payload.
// Payloads longer than 16 bytes cannot be framed and return
// ErrPayloadTooLarge.
func Encode(cmd Command, session byte, payload []byte) (Frame, error) {
	var f Frame
	if len(payload) > MaxPayload {
		return f, fmt.Errorf("%w: %d bytes for command %s", ErrPayloadTooLarge, len(payload), cmd)
	}
	cmd = cmd.WithSession(session)
	f[0] = magic0
	f[1] = magic1
	f[2] = byte(cmd >> 8)
	f[3] = byte(cmd)
	copy(f[4:], payload)
	return f, nil
}

// MustEncode is Encode for payloads whose length is statically known to fit.
// It panics on oversized payloads and is reserved for renderer-internal use.
func MustEncode(cmd Command, session byte, payload []byte) Frame {
	f, err := Encode(cmd, session, payload)
	if err != nil {
		panic(err)
	}
	return f
}

// WithSession returns a copy of the frame with the session nibble of its
// command byte replaced. Sessions stamp every frame on the way out so that
// frames rendered before a reconnect remain valid afterwards.
func (f Frame) WithSession(session byte) Frame {
	f[3] = f[3]&0xf0 | session&0x0f
	return f
}

// Command returns the frame's command in canonical form (session nibble
// preserved as encoded).
func (f Frame) Command() Command {
	return Command(uint16(f[2])<<8 | uint16(f[3]))
}

// Payload returns the 16 payload bytes of the frame.
func (f Frame) Payload() []byte {
	return f[4:]
}

func (f Frame) String() string {
	return fmt.Sprintf("% 02x", f[:])
}

// DecodeVersion decodes a GetVersion response payload into a human readable
// firmware version string. The name occupies three ASCII bytes followed by
// BCD-coded major, minor and build numbers.
func DecodeVersion(data []byte) (string, error) {
	if len(data) < 8 {
		return "", fmt.Errorf("%w: version payload is %d bytes", ErrShortReport, len(data))
	}
	name := strings.TrimSpace(string(data[1:4]))
	major := 100 + 10*uint16(data[4]>>4) + uint16(data[4]&0x0f)
	minor := 10*uint16(data[5]>>4) + uint16(data[5]&0x0f)
	build := 10*uint16(data[7]>>4) + uint16(data[7]&0x0f)
	return fmt.Sprintf("%s %d.%d.%d", name, major, minor, build), nil
}
