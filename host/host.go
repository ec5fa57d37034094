package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/observe"
	"github.com/caffeineduck/atomhost/registry"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

// State is the lifecycle state of a Host.
type State int32

const (
	Unbooted State = iota
	Booted
	Loaded
	Executing
	Faulted
	Closed
)

func (s State) String() string {
	switch s {
	case Unbooted:
		return "unbooted"
	case Booted:
		return "booted"
	case Loaded:
		return "loaded"
	case Executing:
		return "executing"
	case Faulted:
		return "faulted"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Host owns one VM and the modules loaded into it. Load, Execute and
// Observe are serialized, so the host sees a total order of operations.
type Host struct {
	cfg     hostConfig
	log     *zap.Logger
	tracer  oteltrace.Tracer
	events  *observe.Events
	health  *observe.Health
	metrics *observe.Metrics

	mu       sync.Mutex
	state    atomic.Int32
	vm       *vm.Handle
	modules  *registry.Registry
	bootedAt time.Time
	calls    uint64
}

// New returns an unbooted host.
func New(opts ...Option) *Host {
	cfg := defaultHostConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Host{
		cfg:     cfg,
		log:     cfg.logger,
		tracer:  cfg.tracerProvider.Tracer("github.com/caffeineduck/atomhost/host"),
		events:  observe.NewEvents(cfg.eventLimit),
		health:  observe.NewHealth(cfg.thresholds),
		metrics: cfg.metrics,
		modules: registry.New(),
	}
}

// State returns the current lifecycle state. It does not wait for a call
// in progress.
func (h *Host) State() State { return State(h.state.Load()) }

func (h *Host) setState(s State) { h.state.Store(int32(s)) }

// Events returns the host's event log.
func (h *Host) Events() *observe.Events { return h.events }

// check rejects operations that need a booted, healthy host.
func (h *Host) check(op string) error {
	switch h.State() {
	case Unbooted:
		return &Error{Op: op, Kind: KindNotBooted}
	case Faulted:
		return &Error{Op: op, Kind: KindHostFaulted}
	case Closed:
		return &Error{Op: op, Kind: KindClosed}
	}
	return nil
}

// Boot starts the VM. A host boots once.
func (h *Host) Boot(ctx context.Context, cfg vm.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.State() {
	case Unbooted:
	case Closed:
		return &Error{Op: "boot", Kind: KindClosed}
	default:
		return &Error{Op: "boot", Kind: KindAlreadyBooted}
	}

	if cfg.Logger == nil {
		cfg.Logger = h.log.Named("vm")
	}
	handle, err := vm.Boot(ctx, cfg)
	if err != nil {
		h.log.Error("boot failed", zap.Error(err))
		return &Error{Op: "boot", Kind: KindBoot, Err: err}
	}
	h.vm = handle
	h.bootedAt = time.Now()
	h.setState(Booted)

	h.events.Publish(observe.Event{Type: observe.EventBoot})
	h.metrics.SetAtoms(handle.Atoms().Len())
	h.log.Info("host booted",
		zap.Int("heap_size", handle.Config().HeapSize),
		zap.Int("max_term_depth", handle.Config().MaxTermDepth),
	)
	return nil
}

// Load validates b and loads it under the module's name. A module that
// fails validation leaves the host unchanged. Names are unique per host.
func (h *Host) Load(ctx context.Context, b []byte, opts ...bytecode.Option) (vm.ModuleID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("load"); err != nil {
		return vm.ModuleID{}, err
	}

	mod, err := bytecode.Validate(b, opts...)
	if err != nil {
		h.metrics.RecordLoad("invalid")
		h.events.Publish(observe.Event{Type: observe.EventError, Error: err.Error()})
		return vm.ModuleID{}, &Error{Op: "load", Kind: KindInvalid, Err: err}
	}
	op := "load " + mod.Name()

	ctx, span := h.tracer.Start(ctx, "host.Load", oteltrace.WithAttributes(
		attribute.String("module", mod.Name()),
		attribute.Int("size", mod.Size()),
	))
	defer span.End()

	if existing, ok := h.modules.Lookup(mod.Name()); ok {
		err := &registry.AlreadyLoadedError{Name: mod.Name(), ID: existing}
		span.SetStatus(codes.Error, err.Error())
		h.metrics.RecordLoad("duplicate")
		return vm.ModuleID{}, &Error{Op: op, Kind: KindLoad, Err: err}
	}

	id, err := h.vm.Load(ctx, mod)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		h.metrics.RecordLoad(outcome(err))
		if vm.IsFatal(err) {
			h.fault(op, err)
			return vm.ModuleID{}, &Error{Op: op, Kind: KindHostFaulted, Err: err}
		}
		h.events.Publish(observe.Event{Type: observe.EventError, Module: mod.Name(), Error: err.Error()})
		return vm.ModuleID{}, &Error{Op: op, Kind: KindLoad, Err: err}
	}

	info := registry.InfoFromModule(mod)
	if err := h.modules.Register(id, info); err != nil {
		return vm.ModuleID{}, &Error{Op: op, Kind: KindLoad, Err: err}
	}
	h.setState(Loaded)

	h.metrics.RecordLoad(observe.OutcomeOK)
	h.metrics.SetModules(h.modules.Len())
	h.events.Publish(observe.Event{Type: observe.EventLoad, Module: mod.Name()})
	h.log.Info("module loaded",
		zap.String("module", mod.Name()),
		zap.Stringer("id", id),
		zap.Int("functions", len(info.Functions)),
	)
	return id, nil
}

// Execute calls function in module id. Arguments are encoded onto the VM
// heap, the call runs, the result is decoded and the heap is released back
// to where it was before the call. A fatal VM failure faults the host.
func (h *Host) Execute(ctx context.Context, id vm.ModuleID, function string, args ...term.Value) (term.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execute(ctx, id, function, args)
}

// Call is Execute addressed by module name.
func (h *Host) Call(ctx context.Context, module, function string, args ...term.Value) (term.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.check("call"); err != nil {
		return term.Value{}, err
	}
	id, ok := h.modules.Lookup(module)
	if !ok {
		return term.Value{}, &Error{Op: fmt.Sprintf("call %s:%s/%d", module, function, len(args)), Kind: KindNotLoaded}
	}
	return h.execute(ctx, id, function, args)
}

func (h *Host) execute(ctx context.Context, id vm.ModuleID, function string, args []term.Value) (result term.Value, err error) {
	op := fmt.Sprintf("execute %s/%d", function, len(args))
	if err := h.check(op); err != nil {
		return term.Value{}, err
	}
	info, ok := h.modules.Info(id)
	if !ok {
		return term.Value{}, &Error{Op: op, Kind: KindNotLoaded, Err: errors.New(id.String())}
	}
	op = fmt.Sprintf("execute %s:%s/%d", info.Name, function, len(args))
	if err := h.modules.Resolve(id, function, len(args)); err != nil {
		return term.Value{}, &Error{Op: op, Kind: KindCall, Err: fmt.Errorf("%w: %w", vm.ErrNotFound, err)}
	}

	if h.cfg.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.callTimeout)
		defer cancel()
	}
	ctx, span := h.tracer.Start(ctx, "host.Execute", oteltrace.WithAttributes(
		attribute.String("module", info.Name),
		attribute.String("function", function),
		attribute.Int("arity", len(args)),
	))
	defer span.End()

	h.setState(Executing)
	h.calls++
	start := time.Now()
	heap := h.vm.Heap()
	mark := heap.Mark()
	defer func() {
		heap.Release(mark)
		d := time.Since(start)
		if h.State() == Executing {
			h.setState(Loaded)
		}
		h.record(info.Name, function, d, err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	codec := h.vm.Codec()
	words, err := codec.EncodeAll(args)
	if err != nil {
		return term.Value{}, &Error{Op: op, Kind: KindCall, Err: err}
	}
	w, err := h.vm.Invoke(ctx, id, function, words)
	if err != nil {
		if vm.IsFatal(err) {
			h.fault(op, err)
			return term.Value{}, &Error{Op: op, Kind: KindHostFaulted, Err: err}
		}
		return term.Value{}, &Error{Op: op, Kind: KindCall, Err: err}
	}
	result, err = codec.Decode(w)
	if err != nil {
		return term.Value{}, &Error{Op: op, Kind: KindCall, Err: err}
	}
	return result, nil
}

func (h *Host) record(module, function string, d time.Duration, err error) {
	h.health.Record(d, err != nil)
	h.metrics.RecordCall(outcome(err), d)
	stats := h.vm.Heap().Stats()
	h.metrics.SetHeap(stats.Words, stats.Peak)
	h.metrics.SetAtoms(h.vm.Atoms().Len())

	e := observe.Event{Type: observe.EventCall, Module: module, Function: function, Duration: d}
	if err != nil {
		e.Error = err.Error()
	}
	h.events.Publish(e)
}

// fault moves the host to Faulted. Every later operation except Observe
// and Close fails with ErrHostFaulted.
func (h *Host) fault(op string, err error) {
	h.setState(Faulted)
	h.health.Fault()
	h.metrics.RecordFault()
	h.events.Publish(observe.Event{Type: observe.EventFault, Error: err.Error()})
	h.log.Error("host faulted", zap.String("op", op), zap.Error(err))
}

// outcome is the metrics label of a result.
func outcome(err error) string {
	if err == nil {
		return observe.OutcomeOK
	}
	var vmErr *vm.Error
	if errors.As(err, &vmErr) {
		return strings.ReplaceAll(vmErr.Kind.String(), " ", "_")
	}
	var hostErr *Error
	if errors.As(err, &hostErr) && hostErr.Kind == KindCall {
		return "marshal"
	}
	return "error"
}

// Modules lists the loaded modules sorted by name.
func (h *Host) Modules() []registry.ModuleInfo {
	return h.modules.List()
}

// Snapshot is a point-in-time view of a host.
type Snapshot struct {
	State     State                 `json:"state"`
	BootedAt  time.Time             `json:"booted_at,omitempty"`
	Modules   []registry.ModuleInfo `json:"modules"`
	Heap      vm.HeapStats          `json:"heap"`
	Atoms     int                   `json:"atoms"`
	Resources int                   `json:"resources"`
	Calls     uint64                `json:"calls"`
	Health    observe.HealthReport  `json:"health"`
	Events    []observe.Event       `json:"events"`
}

// Observe returns a snapshot. It waits for a call in progress.
func (h *Host) Observe() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Snapshot{
		State:    h.State(),
		BootedAt: h.bootedAt,
		Modules:  h.modules.List(),
		Calls:    h.calls,
		Health:   h.health.Report(),
		Events:   h.events.Recent(0),
	}
	if h.vm != nil {
		s.Heap = h.vm.Heap().Stats()
		s.Atoms = h.vm.Atoms().Len()
		s.Resources = h.vm.Resources().Len()
	}
	return s
}

// Close shuts the VM down. It is safe to call more than once and in any
// state.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.State() == Closed {
		return nil
	}
	h.setState(Closed)
	h.events.Publish(observe.Event{Type: observe.EventClose})
	if h.vm == nil {
		return nil
	}
	if err := h.vm.Close(ctx); err != nil {
		return &Error{Op: "close", Kind: KindClosed, Err: err}
	}
	h.log.Info("host closed", zap.Uint64("calls", h.calls))
	return nil
}
