// Package hidraw opens the keyboard's vendor HID interface through hidapi.
package hidraw

import (
	"fmt"
	"time"

	"github.com/sstallion/go-hid"

	"github.com/glimmerkb/glimmer-agent/internal/devicesvc"
)

const (
	vendorID  uint16 = 0x046d
	productID uint16 = 0xc33f

	// The vendor commands live on interface 1; interface 0 is the plain
	// keyboard.
	commandInterface = 1
)

type Backend struct{}

func NewBackend() (*Backend, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("initializing hidapi: %w", err)
	}
	return &Backend{}, nil
}

func (b *Backend) Close() error {
	return hid.Exit()
}

func (b *Backend) ListDevices() ([]devicesvc.DeviceInfo, error) {
	var devices []devicesvc.DeviceInfo
	err := hid.Enumerate(vendorID, productID, func(info *hid.DeviceInfo) error {
		if info.InterfaceNbr != commandInterface {
			return nil
		}
		devices = append(devices, devicesvc.DeviceInfo{
			ID:     info.Path,
			Name:   info.ProductStr,
			Serial: info.SerialNbr,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerating hid devices: %w", err)
	}
	return devices, nil
}

func (b *Backend) OpenDevice(id string) (devicesvc.Transport, error) {
	dev, err := hid.OpenPath(id)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", id, err)
	}
	return &transport{dev: dev}, nil
}

type transport struct {
	dev *hid.Device
}

func (t *transport) Write(data []byte) error {
	n, err := t.dev.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (t *transport) Read(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 64)
	n, err := t.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *transport) Close() error {
	return t.dev.Close()
}
