package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/hostfunc"
	"github.com/caffeineduck/atomhost/term"
)

var handleIDs atomic.Uint64

// ModuleID identifies a module loaded into one Handle. It is rejected by
// every other handle.
type ModuleID struct {
	handle uint64
	index  uint32
}

// IsZero reports whether id was never issued.
func (id ModuleID) IsZero() bool { return id.handle == 0 }

func (id ModuleID) String() string {
	return fmt.Sprintf("module(%d/%d)", id.handle, id.index)
}

type loaded struct {
	name      string
	compiled  wazero.CompiledModule
	instance  api.Module
	functions map[string]api.Function
	arity     map[string]int
}

// Handle is one booted VM. It owns the wazero runtime, the boundary heap,
// the atom table and the resource table. Calls on a handle must not
// overlap: a second concurrent Load or Invoke fails with ErrBusy.
type Handle struct {
	id        uint64
	cfg       Config
	log       *zap.Logger
	runtime   wazero.Runtime
	cache     wazero.CompilationCache
	heap      *Heap
	atoms     *term.Atoms
	resources *term.Resources
	codec     *term.Codec
	functions *hostfunc.Registry

	mu      sync.Mutex
	modules []*loaded

	busy    atomic.Bool
	closed  atomic.Bool
	faulted atomic.Bool
}

// Boot validates cfg and initializes, in order, the compilation cache, the
// runtime, WASI and the term host module. If any step fails everything
// already initialized is released before the error is returned.
func Boot(ctx context.Context, cfg Config) (*Handle, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Op: "boot", Kind: KindInvalidConfig, Err: err}
	}

	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, &Error{Op: "boot", Kind: KindFatal, Err: fmt.Errorf("create disk cache: %w", err)}
		}
	}

	var rtConfig wazero.RuntimeConfig
	switch cfg.Engine {
	case EngineCompiler:
		rtConfig = wazero.NewRuntimeConfigCompiler()
	case EngineInterpreter:
		rtConfig = wazero.NewRuntimeConfigInterpreter()
	default:
		rtConfig = wazero.NewRuntimeConfig()
	}
	rtConfig = rtConfig.WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	teardown := func() {
		rt.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		teardown()
		return nil, &Error{Op: "boot", Kind: KindFatal, Err: fmt.Errorf("instantiate WASI: %w", err)}
	}

	functions := cfg.Functions
	if functions == nil {
		functions = hostfunc.NewRegistry()
	}
	h := &Handle{
		id:        handleIDs.Inc(),
		cfg:       cfg,
		log:       cfg.Logger,
		runtime:   rt,
		cache:     cache,
		heap:      NewHeap(cfg.HeapSize / 8),
		atoms:     term.NewAtoms(cfg.MaxAtoms),
		resources: term.NewResources(),
		functions: functions,
	}
	h.codec = &term.Codec{
		Arena:         h.heap,
		Atoms:         h.atoms,
		Resources:     h.resources,
		MaxDepth:      cfg.MaxTermDepth,
		MaxListLength: cfg.MaxListLength,
	}

	if err := h.instantiateTermModule(ctx); err != nil {
		teardown()
		return nil, &Error{Op: "boot", Kind: KindFatal, Err: fmt.Errorf("instantiate term module: %w", err)}
	}

	h.log.Debug("vm booted",
		zap.Uint64("handle", h.id),
		zap.Int("heap_words", cfg.HeapSize/8),
		zap.String("engine", engineName(cfg.Engine)),
	)
	return h, nil
}

func engineName(e Engine) string {
	if e == EngineAuto {
		return "auto"
	}
	return string(e)
}

// ID returns the process-unique id of the handle.
func (h *Handle) ID() uint64 { return h.id }

// Config returns the configuration the handle was booted with, defaults
// filled in.
func (h *Handle) Config() Config { return h.cfg }

// Codec returns the term codec bound to the handle's heap and tables.
func (h *Handle) Codec() *term.Codec { return h.codec }

// Heap returns the boundary heap.
func (h *Handle) Heap() *Heap { return h.heap }

// Atoms returns the atom table.
func (h *Handle) Atoms() *term.Atoms { return h.atoms }

// Resources returns the resource table.
func (h *Handle) Resources() *term.Resources { return h.resources }

// Faulted reports whether a fatal failure has made the handle unusable.
func (h *Handle) Faulted() bool { return h.faulted.Load() }

func (h *Handle) enter(op string) error {
	if h.closed.Load() {
		return &Error{Op: op, Kind: KindClosed, Err: errors.New("handle closed")}
	}
	if h.faulted.Load() {
		return &Error{Op: op, Kind: KindFatal, Err: errors.New("handle faulted")}
	}
	if !h.busy.CompareAndSwap(false, true) {
		return &Error{Op: op, Kind: KindBusy, Err: errors.New("another call is in progress")}
	}
	return nil
}

func (h *Handle) leave() { h.busy.Store(false) }

// Load compiles and instantiates a validated module. The instance is kept
// only if every callable export the validator reported is present in the
// compiled module with the same signature.
func (h *Handle) Load(ctx context.Context, mod *bytecode.Module) (ModuleID, error) {
	op := "load"
	if !mod.Valid() {
		return ModuleID{}, &Error{Op: op, Kind: KindInvalidModule, Err: errors.New("module was not produced by bytecode.Validate")}
	}
	op = "load " + mod.Name()
	if err := h.enter(op); err != nil {
		return ModuleID{}, err
	}
	defer h.leave()

	compiled, err := h.runtime.CompileModule(ctx, mod.Bytes())
	if err != nil {
		return ModuleID{}, &Error{Op: op, Kind: KindInvalidModule, Err: err}
	}

	exported := compiled.ExportedFunctions()
	for _, f := range mod.Functions() {
		def, ok := exported[f.Name]
		if !ok || !termSignature(def, f.Arity) {
			compiled.Close(ctx)
			return ModuleID{}, &Error{Op: op, Kind: KindInvalidModule,
				Err: fmt.Errorf("compiled module does not export %s/%d", f.Name, f.Arity)}
		}
	}

	cfg := wazero.NewModuleConfig().WithName(mod.Name()).WithStartFunctions()
	instance, err := h.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		compiled.Close(ctx)
		if vmErr := classify(op, err); vmErr.Fatal() {
			h.faulted.Store(true)
			return ModuleID{}, vmErr
		}
		return ModuleID{}, &Error{Op: op, Kind: KindInvalidModule, Err: err}
	}

	l := &loaded{
		name:      mod.Name(),
		compiled:  compiled,
		instance:  instance,
		functions: make(map[string]api.Function, len(mod.Functions())),
		arity:     make(map[string]int, len(mod.Functions())),
	}
	for _, f := range mod.Functions() {
		fn := instance.ExportedFunction(f.Name)
		if fn == nil {
			instance.Close(ctx)
			compiled.Close(ctx)
			return ModuleID{}, &Error{Op: op, Kind: KindInvalidModule,
				Err: fmt.Errorf("instance does not export %s/%d", f.Name, f.Arity)}
		}
		l.functions[f.Name] = fn
		l.arity[f.Name] = f.Arity
	}

	h.mu.Lock()
	id := ModuleID{handle: h.id, index: uint32(len(h.modules))}
	h.modules = append(h.modules, l)
	h.mu.Unlock()

	h.log.Debug("module loaded",
		zap.String("module", l.name),
		zap.Stringer("id", id),
		zap.Int("functions", len(l.functions)),
	)
	return id, nil
}

func termSignature(def api.FunctionDefinition, arity int) bool {
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != arity || len(results) != 1 || results[0] != api.ValueTypeI64 {
		return false
	}
	for _, p := range params {
		if p != api.ValueTypeI64 {
			return false
		}
	}
	return true
}

func (h *Handle) module(op string, id ModuleID) (*loaded, error) {
	if id.handle != h.id {
		return nil, &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s was not issued by this handle", id)}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(id.index) >= len(h.modules) {
		return nil, &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("no %s", id)}
	}
	return h.modules[id.index], nil
}

// Invoke calls function in module id with already encoded arguments and
// returns the result word after checking it addresses the heap correctly.
// Fatal failures mark the handle faulted.
func (h *Handle) Invoke(ctx context.Context, id ModuleID, function string, args []term.Term) (term.Term, error) {
	op := fmt.Sprintf("invoke %s/%d", function, len(args))
	if err := h.enter(op); err != nil {
		return 0, err
	}
	defer h.leave()

	l, err := h.module(op, id)
	if err != nil {
		return 0, err
	}
	op = fmt.Sprintf("invoke %s:%s/%d", l.name, function, len(args))
	fn, ok := l.functions[function]
	if !ok {
		return 0, &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s exports no function %q", l.name, function)}
	}
	if arity := l.arity[function]; arity != len(args) {
		return 0, &Error{Op: op, Kind: KindNotFound, Err: fmt.Errorf("%s:%s has arity %d", l.name, function, arity)}
	}

	params := make([]uint64, len(args))
	for i, a := range args {
		params[i] = uint64(a)
	}

	start := time.Now()
	results, err := fn.Call(ctx, params...)
	if err != nil {
		vmErr := classify(op, err)
		if vmErr.Fatal() {
			h.faulted.Store(true)
		}
		h.trace(op, args, 0, time.Since(start), vmErr)
		return 0, vmErr
	}
	if len(results) != 1 {
		return 0, newError(op, CodeBadTerm, "%d results", len(results))
	}

	w := term.Term(results[0])
	if err := h.checkWord(w); err != nil {
		return 0, &Error{Op: op, Kind: KindTrap, Code: CodeBadTerm, Err: err}
	}
	h.trace(op, args, w, time.Since(start), nil)
	return w, nil
}

// checkWord rejects result words that are not terms or whose pointer does
// not address an object header inside the heap.
func (h *Handle) checkWord(w term.Term) error {
	switch w.Tag() {
	case term.TagHeader:
		return fmt.Errorf("result %s is a header word", w)
	case term.TagBoxed:
		hw, ok := h.heap.Word(w.Payload())
		if !ok {
			return fmt.Errorf("result %s points outside the heap of %d words", w, h.heap.Len())
		}
		if _, _, ok := hw.Header(); !ok {
			return fmt.Errorf("result %s does not point at an object", w)
		}
	}
	return nil
}

func (h *Handle) trace(op string, args []term.Term, result term.Term, d time.Duration, err error) {
	if !h.cfg.EnableTrace {
		return
	}
	fields := []zap.Field{
		zap.String("op", op),
		zap.Stringers("args", args),
		zap.Duration("duration", d),
		zap.Int("heap_words", h.heap.Len()),
	}
	if err != nil {
		h.log.Debug("boundary crossing failed", append(fields, zap.Error(err))...)
		return
	}
	h.log.Debug("boundary crossing", append(fields, zap.Stringer("result", result))...)
}

// Close releases the runtime, every instance and the compilation cache. It
// is safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := h.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if h.cache != nil {
		if err := h.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.heap.Release(0)

	h.mu.Lock()
	h.modules = nil
	h.mu.Unlock()

	h.log.Debug("vm closed", zap.Uint64("handle", h.id))
	if len(errs) > 0 {
		return &Error{Op: "close", Kind: KindUnknown, Err: errors.Join(errs...)}
	}
	return nil
}
