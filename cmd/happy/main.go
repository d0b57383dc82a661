// Command happy is the CLI entrypoint: it resolves an agent name or a
// literal command line, runs it as an ACP child, and relays its session
// envelopes to stdout in place of a real relay connection.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"happy-acp/internal/acp"
	"happy-acp/internal/relay"
	"happy-acp/internal/runner"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("happy", flag.ContinueOnError)
	verbose := fs.Bool("verbose", false, "enable debug-level logging to stderr")
	if err := fs.Parse(argv); err != nil {
		return 1
	}

	args := fs.Args()
	if len(args) == 0 || args[0] != "acp" {
		printUsage()
		return 1
	}

	command, cmdArgs, err := resolveCommand(args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "happy acp:", err)
		printUsage()
		return 1
	}

	return runACP(command, cmdArgs, *verbose)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: happy acp <name>")
	fmt.Fprintln(os.Stderr, "       happy acp -- <cmd> [args...]")
}

// resolveCommand implements the two CLI forms: a named lookup via
// acp.ResolveAgentCommand, or a literal "-- <cmd> [args...]" spawn.
func resolveCommand(rest []string) (string, []string, error) {
	if len(rest) == 0 {
		return "", nil, errors.New("no agent name or command given")
	}
	if rest[0] == "--" {
		if len(rest) < 2 {
			return "", nil, errors.New("missing <cmd> after --")
		}
		return rest[1], rest[2:], nil
	}
	command, cmdArgs := acp.ResolveAgentCommand(rest[0], rest[1:])
	return command, cmdArgs, nil
}

func runACP(command string, cmdArgs []string, verbose bool) int {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("getwd failed", "error", err)
		return 1
	}

	rel := newStdoutRelay(os.Stdout)

	exitCode := make(chan int, 1)
	var exitOnce sync.Once
	requestExit := func(code int) {
		exitOnce.Do(func() { exitCode <- code })
	}

	r := runner.New(runner.Config{
		Command: command,
		Args:    cmdArgs,
		CWD:     cwd,
		Hooks:   acp.DefaultHooks{},
		Logger:  logger,
		Relay:   rel,
		OnExit:  requestExit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer r.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go watchSignals(sigCh, r)

	go readPrompts(os.Stdin, r, logger)

	return <-exitCode
}

// watchSignals maps the first interrupt to an abort (stop the current
// turn, keep the child alive) and a second, or any SIGTERM, to a kill.
func watchSignals(sigCh <-chan os.Signal, r *runner.Runner) {
	aborted := false
	for range sigCh {
		if !aborted {
			aborted = true
			r.Abort()
			continue
		}
		r.Kill()
		return
	}
}

// readPrompts treats each stdin line as one user prompt, standing in
// for the inbound user-message stream a real relay would deliver.
func readPrompts(in *os.File, r *runner.Runner, logger *slog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := r.SendPrompt(runner.PromptRequest{Text: text}); err != nil {
			logger.Error("send prompt failed", "error", err)
		}
	}
}

// stdoutRelay satisfies runner.RelaySession for local runs: envelopes
// and metadata go to stdout, and abort/kill handlers are invoked
// directly by watchSignals instead of arriving over a real RPC channel.
type stdoutRelay struct {
	*relay.StdoutSink
	abort func()
	kill  func()
}

func newStdoutRelay(w *os.File) *stdoutRelay {
	return &stdoutRelay{StdoutSink: relay.NewStdoutSink(w)}
}

func (s *stdoutRelay) RegisterAbort(fn func()) { s.abort = fn }
func (s *stdoutRelay) RegisterKill(fn func())  { s.kill = fn }
