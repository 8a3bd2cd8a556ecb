package tools

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// Proposal describes a pending file modification awaiting approval.
type Proposal struct {
	FilePath    string
	Description string
	ChangeType  string
	OldCode     string
	NewCode     string
}

// Confirmer approves or declines a proposed modification. It may block
// until a human answers.
type Confirmer interface {
	Confirm(ctx context.Context, p Proposal) (bool, error)
}

// ConfirmFunc adapts a function to the [Confirmer] interface.
type ConfirmFunc func(ctx context.Context, p Proposal) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, p Proposal) (bool, error) {
	return f(ctx, p)
}

// PromptConfirmer asks on a line-oriented terminal. Only "y" or "yes"
// approves.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptConfirmer creates a confirmer reading answers from in and
// writing the proposal to out. Pass the same reader the console loop
// uses so buffered input is not lost.
func NewPromptConfirmer(in *bufio.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: in, out: out}
}

// Confirm prints the proposal and reads one answer line.
func (pc *PromptConfirmer) Confirm(_ context.Context, p Proposal) (bool, error) {
	fmt.Fprintf(pc.out, "\n[CONFIRMATION NEEDED]\n")
	fmt.Fprintf(pc.out, "File: %s\n", p.FilePath)
	fmt.Fprintf(pc.out, "Change: %s\n", p.Description)
	fmt.Fprintf(pc.out, "Type: %s\n", p.ChangeType)
	if p.OldCode != "" {
		fmt.Fprintf(pc.out, "\nOld code:\n%s\n", p.OldCode)
	}
	fmt.Fprintf(pc.out, "\nNew code:\n%s\n", p.NewCode)
	fmt.Fprint(pc.out, "\nApply this change? (y/n): ")

	line, err := pc.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
