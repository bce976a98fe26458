// Copyright (C) 2020 VMware, Inc.
// SPDX-License-Identifier: Apache-2.0
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/containerd/console"
	control "github.com/moby/buildkit/api/services/control"
	"github.com/morikuni/aec"
	"github.com/tonistiigi/vt100"
)

// Console is a terminal progress renderer, kept here as a reference
// consumer of the Handler contract rather than something this library
// depends on internally.
type Console struct {
	w     io.Writer
	start time.Time
	vts   map[string]*vt100.VT100

	width int
}

const defaultWidth = 80

// NewConsole wraps w for progress rendering. When w is backed by a real
// terminal file, its width is used to cap log lines; otherwise output falls
// back to defaultWidth. Vertex log output is fed through a vt100 emulator
// per vertex so embedded cursor movement and color codes from build output
// don't corrupt the display.
func NewConsole(w io.Writer) *Console {
	c := &Console{w: w, vts: map[string]*vt100.VT100{}, width: defaultWidth}
	if f, ok := w.(console.File); ok {
		if cons, err := console.ConsoleFromFile(f); err == nil {
			if sz, err := cons.Size(); err == nil && sz.Width > 0 {
				c.width = int(sz.Width)
			}
		}
	}
	return c
}

func (c *Console) OnStart() {
	c.start = time.Now()
	fmt.Fprintln(c.w, aec.Bold.Apply("Building..."))
}

func (c *Console) OnStatus(s *control.StatusResponse) {
	for _, v := range s.Vertexes {
		switch {
		case v.Error != "":
			fmt.Fprintln(c.w, aec.RedF.Apply(fmt.Sprintf("ERROR %s: %s", v.Name, v.Error)))
		case v.Completed != nil:
			fmt.Fprintln(c.w, aec.GreenF.Apply(fmt.Sprintf("DONE  %s", v.Name)))
		case v.Started != nil:
			fmt.Fprintln(c.w, fmt.Sprintf("=>    %s", v.Name))
		}
	}
	for _, l := range s.Logs {
		vt := c.vts[l.Vertex]
		if vt == nil {
			vt = vt100.NewVT100(1, c.width)
			c.vts[l.Vertex] = vt
		}
		vt.Write(l.Msg)
		for _, row := range vt.Content {
			line := rowText(row)
			if line != "" {
				fmt.Fprintf(c.w, "  %s\n", line)
			}
		}
	}
}

func rowText(row []vt100.Format) string {
	b := make([]rune, 0, len(row))
	for _, f := range row {
		if f.Rune == 0 {
			continue
		}
		b = append(b, f.Rune)
	}
	return string(b)
}

func (c *Console) OnError(msg string) {
	fmt.Fprintln(c.w, aec.RedF.Apply(fmt.Sprintf("solve failed: %s", msg)))
}

func (c *Console) OnComplete() {
	fmt.Fprintln(c.w, aec.Bold.Apply(fmt.Sprintf("Done in %s", time.Since(c.start).Round(time.Millisecond))))
}
