// Package status печатает строку состояния подключения в консоль.
package status

import (
	"io"
	"sync"

	"github.com/fatih/color"
)

const (
	TextConnected    = "Connected to server"
	TextDisconnected = "Disconnected from server"
)

// Display — подписчик OnConnected/OnDisconnected.
type Display struct {
	mu   sync.Mutex
	out  io.Writer
	text string

	green *color.Color
	red   *color.Color
}

func New(out io.Writer) *Display {
	if out == nil {
		out = color.Output
	}
	d := &Display{
		out:   out,
		text:  TextDisconnected,
		green: color.New(color.FgGreen, color.Bold),
		red:   color.New(color.FgRed),
	}
	// escape-коды только для терминала
	if out != color.Output {
		d.green.DisableColor()
		d.red.DisableColor()
	}
	return d
}

func (d *Display) OnConnected() { d.set(TextConnected, d.green) }
func (d *Display) OnDisconnected() { d.set(TextDisconnected, d.red) }

func (d *Display) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *Display) set(text string, c *color.Color) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	_, _ = c.Fprintln(d.out, text)
}
