package confirm

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/GeraldRistow/opcua-browser/internal/classify"
	"github.com/GeraldRistow/opcua-browser/internal/format"
)

const rule = "================================================================"

// Terminal prompts on a text terminal. Input "1".."k" selects a candidate,
// "q" or end of input closes the surface, an empty line asks again and any
// other text is a fragment override.
type Terminal struct {
	out   io.Writer
	in    io.Reader
	width int

	once  sync.Once
	lines chan string
}

var _ Surface = (*Terminal)(nil)

func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, width: 60}
}

// readLines feeds lines from in until it ends. The reader goroutine is
// started on first use and outlives a cancelled Confirm.
func (t *Terminal) readLines() {
	t.lines = make(chan string)
	go func() {
		defer close(t.lines)
		r := bufio.NewReader(t.in)
		for {
			line, err := r.ReadString('\n')
			if line != "" || err == nil {
				t.lines <- strings.TrimRight(line, "\r\n")
			}
			if err != nil {
				return
			}
		}
	}()
}

func (t *Terminal) Confirm(ctx context.Context, p Prompt) (Decision, error) {
	t.once.Do(t.readLines)
	t.render(p)
	for {
		fmt.Fprint(t.out, "  > ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		case line, ok = <-t.lines:
		}
		if !ok {
			fmt.Fprintln(t.out)
			return Decision{}, ErrClosed
		}
		d, done := parseAnswer(line, len(p.Candidates))
		if done {
			return d, nil
		}
		switch s := strings.TrimSpace(line); {
		case strings.EqualFold(s, "q"):
			return Decision{}, ErrClosed
		case s != "":
			fmt.Fprintf(t.out, "  no candidate %s\n", s)
		}
	}
}

// parseAnswer reports done=false for input that needs another prompt.
func parseAnswer(line string, n int) (Decision, bool) {
	s := strings.TrimSpace(line)
	if s == "" || strings.EqualFold(s, "q") {
		return Decision{}, false
	}
	if i, err := strconv.Atoi(s); err == nil {
		if i >= 1 && i <= n {
			return Select(i - 1), true
		}
		return Decision{}, false
	}
	return Override(s), true
}

func (t *Terminal) render(p Prompt) {
	st := classify.Describe(p.Values)
	fmt.Fprintln(t.out)
	fmt.Fprintln(t.out, rule)
	fmt.Fprintf(t.out, "  Node: %s\n", p.Node)
	if len(p.Path) > 0 {
		fmt.Fprintf(t.out, "  Path: %s\n", format.Path(p.Path))
	}
	fmt.Fprintf(t.out, "  %s\n", format.Sparkline(p.Values, t.width))
	fmt.Fprintf(t.out, "  min %s  max %s  mean %s  samples %d\n",
		format.Number(st.Min), format.Number(st.Max), format.Number(st.Mean), st.N)

	tb := format.NewTable(format.ASCII)
	tb.Header("#", "Fragment", "Confidence", "Unit", "Series")
	for i, c := range p.Candidates {
		tb.Row(i+1, c.Fragment, format.Percent(c.Confidence), c.Unit, c.Series)
	}
	tb.AlignRight(1, 3)
	fmt.Fprintln(t.out, tb.String())

	fmt.Fprintf(t.out, "  nodes left: %d/%d\n", p.Remaining, p.Total)
	fmt.Fprintf(t.out, "  1-%d accepts a candidate, any other text overrides the fragment, q stops\n", len(p.Candidates))
	fmt.Fprintln(t.out, rule)
}
