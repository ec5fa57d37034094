package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/atomhost/config"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/internal/wasmtest"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

// executeCommand returns what the command wrote to stdout. Logs and cobra's
// error messages go to stderr and are dropped.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func writeCalc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calc.wasm")
	if err := os.WriteFile(path, wasmtest.Calc(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"atomhost", "WebAssembly", "validate", "call", "repl", "serve", "--config", "--heap-size", "--max-depth", "--trace", "--log-level", "--log-file"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLISubcommandHelp(t *testing.T) {
	tests := []struct {
		cmd     string
		phrases []string
	}{
		{"call", []string{"--timeout", "--kv", "--json", "--name", "text notation"}},
		{"repl", []string{"--history", "--kv", "Command history", ":modules"}},
		{"serve", []string{"--addr", "--pool-size", "/call/{module}/{function}", "/metrics", "application/cbor"}},
		{"validate", []string{"64-bit", "callable functions"}},
	}

	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			output, err := executeCommand(newRootCmd(), tt.cmd, "--help")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, phrase := range tt.phrases {
				if !strings.Contains(output, phrase) {
					t.Errorf("%s help output should contain %q", tt.cmd, phrase)
				}
			}
		})
	}
}

func TestCLIValidate(t *testing.T) {
	path := writeCalc(t)

	output, err := executeCommand(newRootCmd(), "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, phrase := range []string{"calc: ok", "add/2", "first/1", "spin/0"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("validate output should contain %q, got:\n%s", phrase, output)
		}
	}
	if strings.Contains(output, "raw32") {
		t.Errorf("raw32 is not callable and should not be listed:\n%s", output)
	}
}

func TestCLIValidateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wasm")
	if err := os.WriteFile(path, []byte("not wasm"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := executeCommand(newRootCmd(), "validate", path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "junk.wasm") {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestCLICall(t *testing.T) {
	path := writeCalc(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"add", "1", "2"}, "3"},
		{[]string{"first", "{ok, [1, 2]}"}, "ok"},
		{[]string{"size", `<<"bytes">>`}, "5"},
		{[]string{"pair", "a", "'B c'"}, "{a, 'B c'}"},
		{[]string{"apply", "add", "[20, 22]"}, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			args := append([]string{"--no-cache", "call", path}, tt.args...)
			output, err := executeCommand(newRootCmd(), args...)
			if err != nil {
				t.Fatalf("call: %v", err)
			}
			if got := strings.TrimSpace(output); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCLICallJSON(t *testing.T) {
	path := writeCalc(t)

	output, err := executeCommand(newRootCmd(), "--no-cache", "call", "--json", path, "add", "40", "2")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out callOutput
	if err := json.Unmarshal([]byte(output), &out); err != nil {
		t.Fatalf("decoding %q: %v", output, err)
	}
	if out.Module != "calc" || out.Function != "add" || out.Result != "42" || out.Error != "" {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestCLICallErrors(t *testing.T) {
	path := writeCalc(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad term", []string{"add", "{1", "2"}, "argument 1"},
		{"unknown function", []string{"nope"}, "not found"},
		{"trap", []string{"crash"}, "unreachable"},
		{"raised", []string{"raise", "3"}, "badmatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--no-cache", "call", path}, tt.args...)
			_, err := executeCommand(newRootCmd(), args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should contain %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestCLIConfigFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, config.FileName)
	content := "[vm]\nheap_size = 131072\nmax_term_depth = 50\n\n[kv]\nenabled = true\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	var got *config.Config
	root := newRootCmd()
	inspect := &cobra.Command{
		Use: "inspect",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			got, err = loadSettings(cmd)
			return err
		},
	}
	root.AddCommand(inspect)

	if _, err := executeCommand(root, "--config", cfgPath, "--max-depth", "20", "--trace", "--no-cache", "inspect"); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if got.VM.HeapSize != 131072 {
		t.Errorf("heap_size from file: got %d", got.VM.HeapSize)
	}
	if got.VM.MaxTermDepth != 20 {
		t.Errorf("--max-depth should override the file: got %d", got.VM.MaxTermDepth)
	}
	if !got.VM.EnableTrace || got.Log.Level != "debug" {
		t.Errorf("--trace should enable tracing at debug level: %+v %+v", got.VM.EnableTrace, got.Log.Level)
	}
	if got.VM.CacheDir != "" {
		t.Errorf("--no-cache should clear the cache dir, got %q", got.VM.CacheDir)
	}
	if !got.KV.Enabled {
		t.Error("kv should be enabled from the file")
	}
}

func TestCLIInvalidOverride(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "--heap-size", "10", "call", writeCalc(t), "add", "1", "2")
	if err == nil {
		t.Fatal("expected invalid heap size to be rejected")
	}
	if !strings.Contains(err.Error(), "heap_size") {
		t.Errorf("error should mention heap_size, got: %v", err)
	}
}

func TestParseCall(t *testing.T) {
	tests := []struct {
		line     string
		module   string
		function string
		args     []term.Value
		wantErr  bool
	}{
		{line: "add(1, 2)", function: "add", args: []term.Value{term.Int(1), term.Int(2)}},
		{line: "calc:first({ok, 1})", module: "calc", function: "first", args: []term.Value{term.Tuple(term.Atom("ok"), term.Int(1))}},
		{line: "calc:spin", module: "calc", function: "spin"},
		{line: "spin()", function: "spin", args: []term.Value{}},
		{line: "add(1, 2", wantErr: true},
		{line: "(1)", wantErr: true},
		{line: "add(1 2)", wantErr: true},
		{line: "two words", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			module, function, args, err := parseCall(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if module != tt.module || function != tt.function {
				t.Errorf("got %q:%q, want %q:%q", module, function, tt.module, tt.function)
			}
			if len(args) != len(tt.args) {
				t.Fatalf("got %d args, want %d", len(args), len(tt.args))
			}
			for i := range args {
				if !term.Equal(args[i], tt.args[i]) {
					t.Errorf("arg %d: got %s, want %s", i, args[i], tt.args[i])
				}
			}
		})
	}
}

func TestModuleName(t *testing.T) {
	for path, want := range map[string]string{
		"calc.wasm":         "calc",
		"/tmp/x/adder.wasm": "adder",
		`C:\mods\kv.wasm`:   "kv",
		"noext":             "noext",
	} {
		if got := moduleName(path); got != want {
			t.Errorf("moduleName(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "atomhost.log")
	var console bytes.Buffer

	log, err := newLogger(config.LogConfig{Level: "debug", File: logFile, MaxSizeMB: 1}, &console)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debug("hello from test")
	log.Sync()

	if !strings.Contains(console.String(), "hello from test") {
		t.Errorf("console should contain the message, got %q", console.String())
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello from test"`) {
		t.Errorf("log file should hold JSON, got %q", data)
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}, &console); err == nil {
		t.Error("expected unknown level to be rejected")
	}
}

// ============================================================================
// REPL sessions
// ============================================================================

func newTestSession(t *testing.T) (*replSession, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	h := host.New()
	if err := h.Boot(ctx, vm.Config{Functions: hostfunc.Builtins()}); err != nil {
		t.Fatalf("boot: %v", err)
	}
	t.Cleanup(func() { h.Close(ctx) })

	var out, errOut bytes.Buffer
	s := &replSession{host: h, out: &out, errOut: &errOut}
	if err := s.load(ctx, writeCalc(t)); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s, &out, &errOut
}

func TestREPLSessionWorkflow(t *testing.T) {
	s, out, errOut := newTestSession(t)
	ctx := context.Background()

	if s.current != "calc" {
		t.Fatalf("current module should be calc, got %q", s.current)
	}

	commands := []struct {
		line    string
		wantOut string
		wantErr string
	}{
		{line: "add(1, 2)", wantOut: "3"},
		{line: "calc:pair(a, <<\"b\">>)", wantOut: `{a, <<"b">>}`},
		{line: "first({ok, 1})", wantOut: "ok"},
		{line: "crash()", wantErr: "unreachable"},
		{line: "nope(1)", wantErr: "not found"},
		{line: "other:add(1, 2)", wantErr: "not loaded"},
		{line: "add(1", wantErr: "missing ')'"},
		{line: ":use other", wantErr: "not loaded"},
		{line: ":bogus", wantErr: "unknown command"},
		{line: ":modules", wantOut: "* calc: add/2"},
		{line: "add(20, 22)", wantOut: "42"},
	}

	for _, c := range commands {
		out.Reset()
		errOut.Reset()
		if s.eval(ctx, c.line) {
			t.Fatalf("%q should not end the session", c.line)
		}
		if c.wantOut != "" && !strings.Contains(out.String(), c.wantOut) {
			t.Errorf("%q: expected output %q, got %q", c.line, c.wantOut, out.String())
		}
		if c.wantErr != "" && !strings.Contains(errOut.String(), c.wantErr) {
			t.Errorf("%q: expected error %q, got %q", c.line, c.wantErr, errOut.String())
		}
		if c.wantErr == "" && errOut.Len() > 0 {
			t.Errorf("%q: unexpected error output %q", c.line, errOut.String())
		}
	}
}

func TestREPLLoadAndUse(t *testing.T) {
	s, out, errOut := newTestSession(t)
	ctx := context.Background()

	adder := filepath.Join(t.TempDir(), "adder.wasm")
	if err := os.WriteFile(adder, wasmtest.Adder("adder"), 0o644); err != nil {
		t.Fatal(err)
	}

	s.eval(ctx, ":load "+adder)
	s.eval(ctx, ":use adder")
	if errOut.Len() > 0 {
		t.Fatalf("unexpected error output %q", errOut.String())
	}
	if s.current != "adder" {
		t.Fatalf("current module should be adder, got %q", s.current)
	}

	out.Reset()
	s.eval(ctx, "add(2, 3)")
	if strings.TrimSpace(out.String()) != "5" {
		t.Errorf("expected 5, got %q", out.String())
	}

	out.Reset()
	s.eval(ctx, ":observe")
	var snap map[string]any
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("observe output is not JSON: %v", err)
	}
	if snap["state"] != "loaded" {
		t.Errorf("expected state loaded, got %v", snap["state"])
	}
}

func TestREPLExit(t *testing.T) {
	s, _, _ := newTestSession(t)
	for _, line := range []string{"exit", "  quit  "} {
		if !s.eval(context.Background(), line) {
			t.Errorf("%q should end the session", line)
		}
	}
	if s.eval(context.Background(), "") {
		t.Error("empty line should not end the session")
	}
}
