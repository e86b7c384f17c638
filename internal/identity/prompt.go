package identity

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LinePrompter prompts on w and reads one line from r per call.
type LinePrompter struct {
	w       io.Writer
	scanner *bufio.Scanner

	mu sync.Mutex
	// pending carries the result of the outstanding read. A read abandoned
	// by a cancelled Prompt is picked up by the next one.
	pending chan scanResult
}

type scanResult struct {
	line string
	err  error
}

// NewLinePrompter creates a prompter over r and w, typically stdin and
// stderr.
func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{w: w, scanner: bufio.NewScanner(r)}
}

// Prompt writes message and reads answers until a non-blank line arrives.
// Returns io.EOF when the input is exhausted and ctx.Err() as soon as ctx
// is done, even while a read is blocked.
func (p *LinePrompter) Prompt(ctx context.Context, message string) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(p.w, "%s: ", message); err != nil {
			return "", err
		}
		line, err := p.readLine(ctx)
		if err != nil {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}

// readLine waits for the next line or for ctx. The scan runs in its own
// goroutine since a blocked Read cannot be interrupted; at most one scan
// is outstanding.
func (p *LinePrompter) readLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.pending == nil {
		ch := make(chan scanResult, 1)
		p.pending = ch
		go func() {
			if p.scanner.Scan() {
				ch <- scanResult{line: p.scanner.Text()}
				return
			}
			err := p.scanner.Err()
			if err == nil {
				err = io.EOF
			}
			ch <- scanResult{err: err}
		}()
	}
	ch := p.pending
	p.mu.Unlock()

	select {
	case res := <-ch:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
		return res.line, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
