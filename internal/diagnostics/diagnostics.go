// Package diagnostics classifies the stderr output of the restore tool.
package diagnostics

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
)

var ignoredPatterns = []*regexp.Regexp{
	// Warnings
	regexp.MustCompile(`WARNING:`),
	// DROP noise; recent dumps use --if-exists
	regexp.MustCompile(`does not exist$`),
	// The restoring user may not be allowed to drop extensions or schemas
	regexp.MustCompile(`must be owner of`),
}

// IsIgnorable reports whether a restore stderr line is expected noise
func IsIgnorable(line string) bool {
	line = strings.TrimRight(line, "\r\n")
	for _, re := range ignoredPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Collection accumulates the non-ignorable stderr lines of one restore step.
// Every line is echoed to the operator as it arrives.
type Collection struct {
	mu    sync.Mutex
	echo  io.Writer
	lines []string
	total int
}

// NewCollection creates a collection echoing raw lines to echo (may be nil)
func NewCollection(echo io.Writer) *Collection {
	return &Collection{echo: echo}
}

// Track records one stderr line
func (c *Collection) Track(line string) {
	line = strings.TrimRight(line, "\r\n")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.total++
	if c.echo != nil {
		fmt.Fprintln(c.echo, line)
	}
	if !IsIgnorable(line) {
		c.lines = append(c.lines, line)
	}
}

// Lines returns the non-ignorable lines in arrival order
func (c *Collection) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Seen returns the number of lines tracked, ignorable ones included
func (c *Collection) Seen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// String joins the non-ignorable lines, one per line
func (c *Collection) String() string {
	lines := c.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
