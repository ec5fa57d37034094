package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/term"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl FILE...",
		Short: "Interactive REPL over loaded modules",
		Long: `Load the given modules into one host and call their functions
interactively. Module state persists between calls.

Input:
  add(1, 2)              call in the current module
  calc:first({ok, 1})    call in a named module
  :modules               list modules and functions
  :use NAME              switch the current module
  :load FILE             load another module
  :observe               print a host snapshot

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		RunE: runRepl,
	}
	cmd.Flags().String("history", "", "History file path (default: ~/.atomhost_history)")
	cmd.Flags().Bool("kv", false, "Enable the key-value natives")
	return cmd
}

type replSession struct {
	host    *host.Host
	current string
	out     io.Writer
	errOut  io.Writer
}

func (s *replSession) load(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := s.host.Load(ctx, data, bytecode.WithDefaultName(moduleName(path))); err != nil {
		return err
	}
	mods := s.host.Modules()
	if s.current == "" && len(mods) > 0 {
		s.current = mods[0].Name
	}
	return nil
}

// eval runs one line of input. It reports whether the session should end.
func (s *replSession) eval(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "exit" || line == "quit":
		return true
	case strings.HasPrefix(line, ":"):
		s.command(ctx, line[1:])
		return false
	}

	module, function, args, err := parseCall(line)
	if err != nil {
		fmt.Fprintf(s.errOut, "Error: %v\n", err)
		return false
	}
	if module == "" {
		module = s.current
	}
	if module == "" {
		fmt.Fprintln(s.errOut, "Error: no module loaded")
		return false
	}

	v, err := s.host.Call(ctx, module, function, args...)
	if err != nil {
		fmt.Fprintf(s.errOut, "Error: %v\n", err)
		if errors.Is(err, host.ErrHostFaulted) {
			fmt.Fprintln(s.errOut, "The host has faulted; restart the REPL.")
		}
		return false
	}
	fmt.Fprintln(s.out, v)
	return false
}

func (s *replSession) command(ctx context.Context, line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "help":
		fmt.Fprintln(s.out, "module:function(args...) | function(args...) | :modules | :use NAME | :load FILE | :observe | exit")
	case "modules":
		for _, m := range s.host.Modules() {
			marker := " "
			if m.Name == s.current {
				marker = "*"
			}
			fns := make([]string, len(m.Functions))
			for i, f := range m.Functions {
				fns[i] = f.String()
			}
			fmt.Fprintf(s.out, "%s %s: %s\n", marker, m.Name, strings.Join(fns, " "))
		}
	case "use":
		for _, m := range s.host.Modules() {
			if m.Name == arg {
				s.current = arg
				return
			}
		}
		fmt.Fprintf(s.errOut, "Error: module %q not loaded\n", arg)
	case "load":
		if err := s.load(ctx, arg); err != nil {
			fmt.Fprintf(s.errOut, "Error: %v\n", err)
		}
	case "observe":
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.host.Observe()); err != nil {
			fmt.Fprintf(s.errOut, "Error: %v\n", err)
		}
	default:
		fmt.Fprintf(s.errOut, "Error: unknown command :%s\n", name)
	}
}

// parseCall splits "module:function(a, b)" into its parts. The module and
// the argument list are optional.
func parseCall(line string) (module, function string, args []term.Value, err error) {
	target, rest, hasArgs := strings.Cut(line, "(")
	target = strings.TrimSpace(target)
	if m, f, ok := strings.Cut(target, ":"); ok {
		module, function = m, f
	} else {
		function = target
	}
	if function == "" || strings.ContainsAny(function, " \t") {
		return "", "", nil, fmt.Errorf("expected function(args...), got %q", line)
	}
	if !hasArgs {
		return module, function, nil, nil
	}

	rest = strings.TrimSpace(rest)
	if !strings.HasSuffix(rest, ")") {
		return "", "", nil, fmt.Errorf("missing ')' in %q", line)
	}
	list, err := term.Parse("[" + strings.TrimSuffix(rest, ")") + "]")
	if err != nil {
		return "", "", nil, err
	}
	args, _ = list.Elements()
	return module, function, args, nil
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if enableKV, _ := cmd.Flags().GetBool("kv"); enableKV {
		cfg.KV.Enabled = true
	}
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".atomhost_history")
	}

	ctx := cmd.Context()
	h := host.New(
		host.WithLogger(log),
		host.WithCallTimeout(cfg.Host.CallTimeout),
		host.WithEventLimit(cfg.Host.EventLimit),
		host.WithHealthThresholds(cfg.Host.Health.Thresholds()),
	)
	defer h.Close(context.Background())

	vmCfg := cfg.VM
	vmCfg.Functions = functions(cfg)
	vmCfg.Logger = log.Named("vm")
	if err := h.Boot(ctx, vmCfg); err != nil {
		return err
	}

	s := &replSession{host: h, out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	for _, path := range append(cfg.ModulePaths(), args...) {
		if err := s.load(ctx, path); err != nil {
			return err
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt(s.current),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(s.errOut, "atomhost REPL, %d module(s) loaded (type ':help', 'exit' to quit)\n", len(h.Modules()))
	log.Debug("repl started", zap.String("module", s.current))

	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(prompt(s.current))
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out)
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}
		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
		}

		if s.eval(ctx, line) {
			return nil
		}
		rl.SetPrompt(prompt(s.current))
	}
}

func prompt(module string) string {
	if module == "" {
		return ">>> "
	}
	return module + "> "
}
