package attestation

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/concord-cpg-engine/internal/domain"
)

// Collector supplies values for records awaiting attestation. The result is keyed by
// variable id and may leave some records unanswered.
type Collector interface {
	Collect(ctx context.Context, pending []*domain.Record) (map[string]*domain.Value, error)
}

// StaticCollector answers from a fixed set of values.
type StaticCollector map[string]*domain.Value

// Collect returns the values for the pending ids it knows.
func (c StaticCollector) Collect(_ context.Context, pending []*domain.Record) (map[string]*domain.Value, error) {
	out := make(map[string]*domain.Value)
	for _, r := range pending {
		if v, ok := c[r.ID()]; ok && v != nil {
			out[r.ID()] = v
		}
	}
	return out, nil
}

// StoreCollector replays attestations saved for the subject and guideline.
type StoreCollector struct {
	Store     Store
	SubjectID string
	Guideline string
}

// Collect loads the stored attestations that match pending records.
func (c *StoreCollector) Collect(ctx context.Context, pending []*domain.Record) (map[string]*domain.Value, error) {
	out := make(map[string]*domain.Value)
	if c.Store == nil || len(pending) == 0 {
		return out, nil
	}

	stored, err := c.Store.ListForSubject(ctx, c.SubjectID, c.Guideline)
	if err != nil {
		return nil, fmt.Errorf("loading stored attestations: %w", err)
	}
	byID := make(map[string]*Attestation, len(stored))
	for _, a := range stored {
		byID[a.VariableID] = a
	}

	for _, r := range pending {
		a, ok := byID[r.ID()]
		if !ok {
			continue
		}
		v, err := ToValue(a)
		if err != nil {
			return nil, err
		}
		out[r.ID()] = v
	}
	return out, nil
}

// maxPromptAttempts bounds re-asking after unparsable input.
const maxPromptAttempts = 3

// PromptCollector asks for each pending value on a terminal. Booleans are answered
// yes or no; other types are parsed per the variable's declared type. An empty
// answer leaves the record pending.
type PromptCollector struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptCollector reads answers from in and writes questions to out.
func NewPromptCollector(in io.Reader, out io.Writer) *PromptCollector {
	return &PromptCollector{in: bufio.NewReader(in), out: out}
}

// Collect prompts for every pending record in order.
func (c *PromptCollector) Collect(ctx context.Context, pending []*domain.Record) (map[string]*domain.Value, error) {
	out := make(map[string]*domain.Value)
	for _, r := range pending {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		v, err := c.ask(r.Variable())
		if err != nil {
			return out, err
		}
		if v != nil {
			out[r.ID()] = v
		}
	}
	return out, nil
}

func (c *PromptCollector) ask(variable *domain.Variable) (*domain.Value, error) {
	question := variable.Question
	if question == "" {
		question = fmt.Sprintf("Enter a value for %s", variable.DisplayName())
	}
	if variable.Type == domain.BOOLEAN_TYPE {
		question += " [y/n]"
	}

	for attempt := 0; attempt < maxPromptAttempts; attempt++ {
		fmt.Fprintf(c.out, "%s: ", question)
		line, err := c.in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("reading answer for %s: %w", variable.ID, err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil, nil
		}

		v, perr := ParseInput(variable, line)
		if perr == nil {
			return v, nil
		}
		fmt.Fprintf(c.out, "  %v\n", perr)
	}
	return nil, fmt.Errorf("no valid answer for %s after %d attempts", variable.ID, maxPromptAttempts)
}

// ParseInput converts text typed by a user into a value of the variable's type.
// Untyped variables accept yes/no, numbers and dates before falling back to text.
func ParseInput(variable *domain.Variable, text string) (*domain.Value, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty answer for %s", ErrInvalidAttestation, variable.ID)
	}

	switch variable.Type {
	case domain.BOOLEAN_TYPE:
		b, ok := parseYesNo(text)
		if !ok {
			return nil, fmt.Errorf("%w: answer yes or no for %s", ErrInvalidAttestation, variable.ID)
		}
		return domain.NewValue(b)
	case domain.INTEGER_TYPE, domain.DECIMAL_TYPE:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidAttestation, text)
		}
		if variable.Type == domain.INTEGER_TYPE && f != float64(int64(f)) {
			return nil, fmt.Errorf("%w: %q is not a whole number", ErrInvalidAttestation, text)
		}
		return domain.NewValue(f)
	case domain.DATE_TYPE:
		t, err := time.Parse("2006-01-02", text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a date (YYYY-MM-DD)", ErrInvalidAttestation, text)
		}
		return domain.NewValue(t)
	case domain.STRING_TYPE:
		return domain.NewValue(text)
	}

	if b, ok := parseYesNo(text); ok {
		return domain.NewValue(b)
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return domain.NewValue(f)
	}
	if t, err := time.Parse("2006-01-02", text); err == nil {
		return domain.NewValue(t)
	}
	return domain.NewValue(text)
}

func parseYesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "y", "yes", "true":
		return true, true
	case "n", "no", "false":
		return false, true
	}
	return false, false
}
