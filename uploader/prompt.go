package uploader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// TerminalPrompter asks the operator on a terminal and waits for Enter.
// One goroutine owns the input for the prompter's lifetime, so a Wait
// cancelled mid-read leaves the reader usable for the next prompt. Wait is
// not safe for concurrent use.
type TerminalPrompter struct {
	in    *bufio.Reader
	out   io.Writer
	once  sync.Once
	lines chan error
	err   error
}

// NewTerminalPrompter reads answers from in and writes prompts to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out, lines: make(chan error, 1)}
}

func (p *TerminalPrompter) read() {
	for {
		_, err := p.in.ReadString('\n')
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		p.lines <- err
		if err != nil {
			close(p.lines)
			return
		}
	}
}

// Wait prints message and blocks until a line is read or ctx is done. A
// line read after a cancelled Wait answers the next call.
func (p *TerminalPrompter) Wait(ctx context.Context, message string) error {
	p.once.Do(func() { go p.read() })
	if p.err != nil {
		return fmt.Errorf("read confirmation: %w", p.err)
	}

	color.New(color.FgYellow, color.Bold).Fprintln(p.out, message)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-p.lines:
		if !ok {
			err = io.ErrUnexpectedEOF
		}
		if err != nil {
			p.err = err
			return fmt.Errorf("read confirmation: %w", err)
		}
		return nil
	}
}
