package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/merakimate/merakimate/pkg/reconcile"
	"github.com/merakimate/merakimate/pkg/util"
)

// ErrInputClosed is returned when input ends before an answer is read.
var ErrInputClosed = errors.New("input closed")

// Prompter reads answers line by line. It is not safe for concurrent use;
// the reconciler serialises decisions.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter reads from in and writes prompts to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out}
}

// Out is where prompts and menus are written.
func (p *Prompter) Out() io.Writer { return p.out }

func (p *Prompter) line() (string, error) {
	s, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			return strings.TrimSpace(s), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrInputClosed
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// Ask returns the answer, or def when the answer is blank.
func (p *Prompter) Ask(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	s, err := p.line()
	if err != nil {
		return "", err
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Required asks until a non-blank answer is given.
func (p *Prompter) Required(label string) (string, error) {
	for {
		s, err := p.Ask(label, "")
		if err != nil || s != "" {
			return s, err
		}
		fmt.Fprintln(p.out, Yellow("A value is required."))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(label string, def bool) (bool, error) {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(p.out, "%s [%s]: ", label, hint)
		s, err := p.line()
		if err != nil {
			return false, err
		}
		switch strings.ToLower(s) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, Yellow("Please answer y or n."))
	}
}

// Int asks for an integer in [min, max].
func (p *Prompter) Int(label string, def, min, max int) (int, error) {
	for {
		s, err := p.Ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err == nil && n >= min && n <= max {
			return n, nil
		}
		fmt.Fprintf(p.out, "%s\n", Yellow(fmt.Sprintf("Enter a number from %d to %d.", min, max)))
	}
}

// Choose lists options numbered from 1 and returns the chosen index.
func (p *Prompter) Choose(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("%s: %w", label, util.ErrNotFound)
	}
	for i, o := range options {
		fmt.Fprintf(p.out, "%3d. %s\n", i+1, o)
	}
	for {
		fmt.Fprintf(p.out, "%s [1-%d]: ", label, len(options))
		s, err := p.line()
		if err != nil {
			return -1, err
		}
		if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
		fmt.Fprintln(p.out, Yellow("Invalid choice."))
	}
}

// Decider asks the operator about each conflict: overwrite, skip, or
// cancel the scope. Answering with a capital letter applies the choice to
// the rest of the batch.
func (p *Prompter) Decider() reconcile.Decider {
	var sticky reconcile.Decision
	return reconcile.DeciderFunc(func(ctx context.Context, scope reconcile.Scope, c reconcile.Conflict) (reconcile.Decision, error) {
		if sticky != reconcile.DecisionPending {
			return sticky, nil
		}
		fmt.Fprintf(p.out, "\n%s %s\n%s", Bold(scope.String()), Dim("(duplicate identity)"), reconcile.ConflictText(c))
		for {
			if err := ctx.Err(); err != nil {
				return reconcile.DecisionPending, err
			}
			fmt.Fprint(p.out, "[o]verwrite, [s]kip, [O]/[S] for all, [c]ancel scope: ")
			s, err := p.line()
			if err != nil {
				return reconcile.DecisionPending, fmt.Errorf("%w: %v", util.ErrDecisionCancelled, err)
			}
			switch s {
			case "o", "overwrite":
				return reconcile.DecisionOverwrite, nil
			case "s", "skip":
				return reconcile.DecisionSkip, nil
			case "O":
				sticky = reconcile.DecisionOverwrite
				return sticky, nil
			case "S":
				sticky = reconcile.DecisionSkip
				return sticky, nil
			case "c", "C", "cancel":
				return reconcile.DecisionPending, util.ErrDecisionCancelled
			}
		}
	})
}
