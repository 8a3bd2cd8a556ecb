package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/nugget/codecraft/internal/agent"
	"github.com/nugget/codecraft/internal/prompts"
	"github.com/nugget/codecraft/internal/tools"
)

// runChat runs the interactive session: one turn per input line until
// an exit command, end of input or an interrupt. Modification
// confirmations read from the same input.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	// An interrupt ends the session at the next prompt. A turn in
	// progress runs to completion.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	in := bufio.NewReader(stdin)
	a, err := newApp(cfg, logger, tools.NewPromptConfirmer(in, stdout))
	if err != nil {
		return err
	}
	defer a.Close()

	a.checkModel(ctx)

	c := &console{
		in:          in,
		out:         stdout,
		loop:        a.newLoop(),
		interactive: isTerminal(stdin),
	}
	fmt.Fprintf(stdout, prompts.Banner+"\n", cfg.Models.Default, cfg.RepoPath)
	fmt.Fprintf(stdout, "Index: %s\n\n", a.indexStatus(ctx))
	err = c.run(ctx)

	if n := a.code.Changes().Len(); n > 0 {
		fmt.Fprintf(stdout, "%d modification(s) this session; backups are in %s\n", n, cfg.BackupDir)
	}
	return err
}

// runAsk answers a single question. There is no one to confirm
// modifications, so those requiring confirmation are declined.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, question string) error {
	cfg, logger, err := setup(stderr, configPath)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.newLoop().Process(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, resp.Content)
	return nil
}

// console is the line-oriented front end of a session.
type console struct {
	in          *bufio.Reader
	out         io.Writer
	loop        *agent.Loop
	interactive bool
}

func (c *console) run(ctx context.Context) error {
	for {
		if c.interactive {
			fmt.Fprint(c.out, "You: ")
		}
		line, readErr := c.readLine(ctx)
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			if ctx.Err() != nil {
				fmt.Fprintln(c.out)
				return nil
			}
			return fmt.Errorf("read input: %w", readErr)
		}

		input := strings.TrimSpace(line)
		if input != "" {
			if done := c.handle(ctx, input); done {
				return nil
			}
		}
		if readErr != nil {
			if c.interactive {
				fmt.Fprintln(c.out)
			}
			return nil
		}
	}
}

// readLine returns the next input line, or ctx's error as soon as ctx
// is done. An abandoned read stays blocked until input arrives; nothing
// reads from the console after that.
func (c *console) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// handle processes one input line and reports whether the session
// should end.
func (c *console) handle(ctx context.Context, input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "bye":
		fmt.Fprintln(c.out, "Goodbye!")
		return true
	case "help":
		fmt.Fprintln(c.out, prompts.HelpText)
		fmt.Fprintln(c.out)
		return false
	case "clear":
		c.loop.Reset()
		fmt.Fprintln(c.out, "Conversation cleared.")
		fmt.Fprintln(c.out)
		return false
	}

	resp, err := c.loop.Process(context.WithoutCancel(ctx), input)
	if err != nil {
		// A failed turn is reported and the session goes on.
		fmt.Fprintf(c.out, "\nError: %v\n\n", err)
		return false
	}
	fmt.Fprintf(c.out, "\nAssistant: %s\n\n", resp.Content)
	return false
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
