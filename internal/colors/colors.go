// Copyright 2026 bfind Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package colors renders paths and diagnostics with per-file-type colour.
package colors

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"bfind/internal/walk"
)

// Mode selects when colour is applied.
type Mode int

const (
	// Auto colours output only when the sink is a terminal.
	Auto Mode = iota
	Always
	Never
)

var (
	dirColor  = color.New(color.FgBlue, color.Bold)
	linkColor = color.New(color.FgCyan, color.Bold)
	execColor = color.New(color.FgGreen, color.Bold)
	sockColor = color.New(color.FgMagenta, color.Bold)
	fifoColor = color.New(color.FgYellow)
	devColor  = color.New(color.FgYellow, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
)

// Printer writes paths to one output sink.
type Printer struct {
	w       io.Writer
	colored bool
}

// NewPrinter wraps a sink.  Auto mode enables colour only for terminals.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	colored := mode == Always
	if colored {
		// fatih/color gates on its own tty detection; -color overrides it.
		color.NoColor = false
	}
	if mode == Auto {
		if f, ok := w.(*os.File); ok {
			colored = isatty.IsTerminal(f.Fd())
		}
	}
	return &Printer{w: w, colored: colored}
}

// Colored reports whether this sink applies colour, which implies printing
// needs stat data to pick the colour.
func (p *Printer) Colored() bool {
	return p.colored
}

// Writer exposes the underlying sink for raw output.
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) Write(b []byte) (int, error) {
	return p.w.Write(b)
}

// Flush satisfies the printf package's \c contract; the sinks are
// unbuffered, so there is nothing to do.
func (p *Printer) Flush() error {
	return nil
}

// PrintPath writes the file's path and a newline, colouring the basename by
// file type when enabled.
func (p *Printer) PrintPath(f *walk.File) error {
	if !p.colored {
		_, err := fmt.Fprintln(p.w, f.Path)
		return err
	}

	c := typeColor(f)
	if c == nil {
		_, err := fmt.Fprintln(p.w, f.Path)
		return err
	}

	if _, err := io.WriteString(p.w, f.Path[:f.NameOff]); err != nil {
		return err
	}
	if _, err := c.Fprint(p.w, f.Name()); err != nil {
		return err
	}
	_, err := io.WriteString(p.w, "\n")
	return err
}

func typeColor(f *walk.File) *color.Color {
	switch f.Type {
	case walk.TypeDir:
		return dirColor
	case walk.TypeLink:
		return linkColor
	case walk.TypeSocket:
		return sockColor
	case walk.TypeFIFO:
		return fifoColor
	case walk.TypeBlock, walk.TypeChar:
		return devColor
	case walk.TypeRegular:
		if st := f.StatBuf(); st != nil && st.Mode&0o111 != 0 {
			return execColor
		}
	}
	return nil
}

// Errorf writes a diagnostic to the sink, in red when colour is enabled.
func (p *Printer) Errorf(format string, args ...any) {
	if p.colored {
		errColor.Fprintf(p.w, format, args...)
		return
	}
	fmt.Fprintf(p.w, format, args...)
}
