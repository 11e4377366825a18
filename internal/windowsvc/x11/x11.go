// Package x11 answers foreground-window queries over the X11 EWMH and ICCCM
// properties.
package x11

import (
	"fmt"
	"os"

	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgbutil"
	"github.com/jezek/xgbutil/ewmh"
	"github.com/jezek/xgbutil/icccm"

	"github.com/glimmerkb/glimmer-agent/internal/windowsvc"
)

type Client struct {
	x *xgbutil.XUtil
}

func New() (*Client, error) {
	x, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connecting to X server: %w", err)
	}
	return &Client{x: x}, nil
}

func (c *Client) Close() {
	c.x.Conn().Close()
}

// ActiveWindow reads the _NET_ACTIVE_WINDOW property and describes the window
// it points at. A zero window id means nothing is focused.
func (c *Client) ActiveWindow() (*windowsvc.WindowInfo, error) {
	active, err := ewmh.ActiveWindowGet(c.x)
	if err != nil {
		return nil, fmt.Errorf("reading active window: %w", err)
	}
	if active == 0 {
		return nil, nil
	}
	return c.windowInfo(active), nil
}

// windowInfo fills in whatever metadata the window exposes. Missing properties
// leave fields empty rather than failing the query.
func (c *Client) windowInfo(win xproto.Window) *windowsvc.WindowInfo {
	info := &windowsvc.WindowInfo{}
	if title, err := ewmh.WmNameGet(c.x, win); err == nil && title != "" {
		info.Title = title
	} else if title, err := icccm.WmNameGet(c.x, win); err == nil {
		info.Title = title
	}
	if class, err := icccm.WmClassGet(c.x, win); err == nil {
		info.ClassName = class.Instance
		info.Class = class.Class
	}
	if pid, err := ewmh.WmPidGet(c.x, win); err == nil && pid > 0 {
		if exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", pid)); err == nil {
			info.Executable = exe
		}
	}
	return info
}
