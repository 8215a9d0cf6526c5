package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/aluiziolira/listing-uploader/locator"
)

// ClickSource exposes the element the operator last clicked in the page.
type ClickSource interface {
	InstallClickListener(ctx context.Context) error
	// LastClicked returns nil when nothing has been clicked yet.
	LastClicked(ctx context.Context) (*locator.ElementInfo, error)
}

// Outcome is how an interactive session ended.
type Outcome int

const (
	// OutcomeQuit discards the session's changes.
	OutcomeQuit Outcome = iota
	// OutcomeSave asks the caller to persist the store.
	OutcomeSave
)

func (o Outcome) String() string {
	if o == OutcomeSave {
		return "save"
	}
	return "quit"
}

// Interactive records fields from operator clicks, driven by a line-based
// prompt.
type Interactive struct {
	clicks ClickSource
	store  *locator.Store
	roles  []locator.FieldRule
	in     *bufio.Scanner
	out    io.Writer

	ok   *color.Color
	warn *color.Color
	dim  *color.Color
}

// NewInteractive builds a session. The interactive rules of rules, in order,
// back the numeric shortcuts 1..9 and 0.
func NewInteractive(clicks ClickSource, store *locator.Store, rules *locator.RuleSet, in io.Reader, out io.Writer) *Interactive {
	var roles []locator.FieldRule
	for _, f := range rules.Fields {
		if f.Interactive {
			roles = append(roles, f)
		}
	}
	return &Interactive{
		clicks: clicks,
		store:  store,
		roles:  roles,
		in:     bufio.NewScanner(in),
		out:    out,
		ok:     color.New(color.FgHiGreen),
		warn:   color.New(color.FgYellow),
		dim:    color.New(color.FgHiBlue),
	}
}

// Run installs the click listener and serves commands until the operator
// saves or quits. End of input counts as quit.
func (it *Interactive) Run(ctx context.Context) (Outcome, error) {
	if err := it.clicks.InstallClickListener(ctx); err != nil {
		return OutcomeQuit, fmt.Errorf("install click listener: %w", err)
	}
	it.help()

	for {
		if err := ctx.Err(); err != nil {
			return OutcomeQuit, err
		}
		it.status()
		fmt.Fprint(it.out, "\n> ")

		line, ok := it.readLine()
		if !ok {
			fmt.Fprintln(it.out)
			return OutcomeQuit, nil
		}
		cmd := strings.TrimSpace(line)

		switch strings.ToLower(cmd) {
		case "q":
			it.warn.Fprintln(it.out, "Quit without saving.")
			return OutcomeQuit, nil
		case "s":
			return OutcomeSave, nil
		case "h":
			it.help()
			continue
		case "l":
			it.list()
			continue
		case "d":
			it.deleteLast()
			continue
		case "":
			name, ok := it.nextFree()
			if !ok {
				it.warn.Fprintln(it.out, "Every known field is already recorded.")
				continue
			}
			if err := it.record(ctx, name); err != nil {
				return OutcomeQuit, err
			}
			continue
		}

		if n, err := strconv.Atoi(cmd); err == nil && len(cmd) == 1 {
			idx := n - 1
			if n == 0 {
				idx = 9
			}
			if idx >= len(it.roles) {
				it.warn.Fprintf(it.out, "No field bound to %s.\n", cmd)
				continue
			}
			if err := it.record(ctx, it.roles[idx].Name); err != nil {
				return OutcomeQuit, err
			}
			continue
		}

		if !validName(cmd) {
			it.warn.Fprintf(it.out, "Unknown command %q, h for help.\n", cmd)
			continue
		}
		if err := it.record(ctx, cmd); err != nil {
			return OutcomeQuit, err
		}
	}
}

func (it *Interactive) readLine() (string, bool) {
	if !it.in.Scan() {
		return "", false
	}
	return it.in.Text(), true
}

func (it *Interactive) record(ctx context.Context, name string) error {
	info, err := it.clicks.LastClicked(ctx)
	if err != nil {
		return fmt.Errorf("read clicked element: %w", err)
	}
	if info == nil {
		it.warn.Fprintln(it.out, "Nothing clicked yet. Click the element in the browser first.")
		return nil
	}

	overwrite := false
	if it.store.Has(name) {
		fmt.Fprintf(it.out, "%s is already recorded. Overwrite? [y/N] ", name)
		answer, ok := it.readLine()
		if !ok || !strings.EqualFold(strings.TrimSpace(answer), "y") {
			it.dim.Fprintf(it.out, "Kept existing %s.\n", name)
			return nil
		}
		overwrite = true
	}

	entry := locator.EntryFor(info, "")
	if err := it.store.Put(name, entry, overwrite); err != nil {
		it.warn.Fprintf(it.out, "Not recorded: %v\n", err)
		return nil
	}
	slog.Info("field recorded",
		slog.String("field", name),
		slog.String("primary", entry.Primary),
		slog.Bool("overwrite", overwrite),
	)
	it.ok.Fprintf(it.out, "Recorded %s\n", name)
	fmt.Fprintf(it.out, "  primary: %s\n  tag:     %s\n  text:    %s\n", entry.Primary, entry.Tag, truncate(entry.Text, 30))
	return nil
}

func (it *Interactive) nextFree() (string, bool) {
	for _, r := range it.roles {
		if !it.store.Has(r.Name) {
			return r.Name, true
		}
	}
	return "", false
}

func (it *Interactive) deleteLast() {
	names := it.store.Names()
	if len(names) == 0 {
		it.warn.Fprintln(it.out, "Nothing to delete.")
		return
	}
	last := names[len(names)-1]
	it.store.Delete(last)
	it.ok.Fprintf(it.out, "Deleted %s\n", last)
}

func (it *Interactive) list() {
	fmt.Fprintln(it.out, "\nKnown fields:")
	for i, r := range it.roles {
		mark := " "
		if it.store.Has(r.Name) {
			mark = "x"
		}
		fmt.Fprintf(it.out, "  %s [%s] %-20s %s\n", shortcut(i), mark, r.Name, r.Label)
	}
}

func (it *Interactive) status() {
	names := it.store.Names()
	fmt.Fprintf(it.out, "\nRecorded fields (%d):\n", len(names))
	for _, name := range names {
		e, _ := it.store.Get(name)
		fmt.Fprintf(it.out, "  [%s] %s\n", name, truncate(e.Primary, 40))
	}
}

func (it *Interactive) help() {
	fmt.Fprintln(it.out, "\nClick an element in the browser, then choose what it is:")
	for i, r := range it.roles {
		fmt.Fprintf(it.out, "  %s  %s\n", shortcut(i), r.Name)
	}
	it.dim.Fprintln(it.out, "  name    record under a custom field name")
	it.dim.Fprintln(it.out, "  Enter   record as the next unrecorded field")
	it.dim.Fprintln(it.out, "  l       list known fields")
	it.dim.Fprintln(it.out, "  d       delete the last recorded field")
	it.dim.Fprintln(it.out, "  s       save and quit")
	it.dim.Fprintln(it.out, "  q       quit without saving")
	it.dim.Fprintln(it.out, "  h       show this help")
}

func shortcut(i int) string {
	if i == 9 {
		return "0"
	}
	if i < 9 {
		return strconv.Itoa(i + 1)
	}
	return " "
}

// validName accepts custom field names made of letters, digits, '_' and
// '-', starting with a letter. Single letters are reserved for commands.
func validName(s string) bool {
	if len(s) < 2 {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_' || r == '-'):
		default:
			return false
		}
	}
	return true
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
