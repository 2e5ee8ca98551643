// Package prompt asks a human for a second-factor code on the terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// LinePrompter writes a message and reads one line of input.
type LinePrompter struct {
	out         io.Writer
	interactive bool

	mu     sync.Mutex
	lines  chan lineResult
	reader *bufio.Reader
	once   sync.Once
}

type lineResult struct {
	line string
	err  error
}

// New creates a prompter over arbitrary streams (tests, pipes).
func New(in io.Reader, out io.Writer) *LinePrompter {
	return &LinePrompter{
		out:         out,
		interactive: true,
		reader:      bufio.NewReader(in),
		lines:       make(chan lineResult),
	}
}

// NewStdin creates a prompter over the process's standard streams. It
// refuses to prompt when stdin is not a terminal, since nobody can answer.
func NewStdin() *LinePrompter {
	p := New(os.Stdin, os.Stderr)
	p.interactive = term.IsTerminal(int(os.Stdin.Fd()))
	return p
}

// Interactive reports whether a human can answer.
func (p *LinePrompter) Interactive() bool {
	return p.interactive
}

// Prompt writes message and returns the trimmed reply. Cancelling ctx
// abandons the wait; the pending read is reused by the next call.
func (p *LinePrompter) Prompt(ctx context.Context, message string) (string, error) {
	if !p.interactive {
		return "", fmt.Errorf("cannot prompt for %q: stdin is not a terminal, configure steam.shared_secret instead", strings.TrimSpace(message))
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.once.Do(func() { go p.readLoop() })

	if _, err := fmt.Fprint(p.out, message); err != nil {
		return "", fmt.Errorf("failed to write prompt: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-p.lines:
		if res.err != nil {
			return "", res.err
		}
		return res.line, nil
	}
}

// readLoop feeds lines to Prompt until the input ends. It lives for the
// rest of the process once a prompt has been issued.
func (p *LinePrompter) readLoop() {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && line != "" {
				p.lines <- lineResult{line: strings.TrimSpace(line)}
			}
			if err == io.EOF {
				err = fmt.Errorf("input closed before a code was entered")
			}
			for {
				p.lines <- lineResult{err: err}
			}
		}
		p.lines <- lineResult{line: strings.TrimSpace(line)}
	}
}
