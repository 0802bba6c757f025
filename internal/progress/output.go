// Package progress prints operator-facing progress lines.
package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// TimeLayout is the timestamp format of PutsTime lines
const TimeLayout = "2006-01-02 15:04:05 MST"

// Output writes progress text to the operator. It is safe for concurrent use.
type Output struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	blue   *color.Color
}

// New creates an output writing to w. noColor disables ANSI colors.
func New(w io.Writer, noColor bool) *Output {
	o := &Output{
		w:      w,
		now:    time.Now,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		blue:   color.New(color.FgBlue),
	}
	if noColor {
		for _, c := range []*color.Color{o.green, o.red, o.yellow, o.blue} {
			c.DisableColor()
		}
	}
	return o
}

// Print writes s without a trailing newline
func (o *Output) Print(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprint(o.w, s)
}

// Puts writes s followed by a newline
func (o *Output) Puts(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintln(o.w, s)
}

// PutsTime writes s prefixed with the current UTC time
func (o *Output) PutsTime(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "%s -- %s\n", o.now().UTC().Format(TimeLayout), s)
}

// Flush syncs the underlying writer when it supports it
func (o *Output) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch w := o.w.(type) {
	case interface{ Sync() error }:
		_ = w.Sync()
	case interface{ Flush() error }:
		_ = w.Flush()
	}
}

// Green colors s for success messages
func (o *Output) Green(s string) string { return o.green.Sprint(s) }

// Red colors s for failures
func (o *Output) Red(s string) string { return o.red.Sprint(s) }

// Yellow colors s for warnings
func (o *Output) Yellow(s string) string { return o.yellow.Sprint(s) }

// Blue colors s for informational steps
func (o *Output) Blue(s string) string { return o.blue.Sprint(s) }

// ReportSuccess prints [DONE] or [FAILED]
func (o *Output) ReportSuccess(success bool) {
	if success {
		o.Puts(o.Green("[DONE]"))
		return
	}
	o.Puts(o.Red("[FAILED]"))
}
