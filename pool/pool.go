// Package pool spreads calls over several independent hosts. Each host
// owns its own VM; a host that faults is replaced by a freshly booted one
// with the pool's modules reloaded.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/observe"
	"github.com/caffeineduck/atomhost/registry"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("pool: closed")

// Option configures a Pool.
type Option func(*poolConfig)

type poolConfig struct {
	size     int
	hostOpts []host.Option
	logger   *zap.Logger
}

func defaultPoolConfig() poolConfig {
	return poolConfig{size: 4, logger: zap.NewNop()}
}

// WithSize sets the number of hosts. Values below 1 are raised to 1.
func WithSize(n int) Option {
	return func(c *poolConfig) { c.size = max(n, 1) }
}

// WithHostOptions passes options to every host the pool boots.
func WithHostOptions(opts ...host.Option) Option {
	return func(c *poolConfig) { c.hostOpts = append(c.hostOpts, opts...) }
}

// WithLogger sets the pool logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *poolConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

type module struct {
	wasm []byte
	opts []bytecode.Option
	info registry.ModuleInfo
}

// Pool is a fixed set of hosts handed out one call at a time.
type Pool struct {
	cfg   poolConfig
	vmCfg vm.Config
	log   *zap.Logger

	mu      sync.Mutex // guards hosts, stale and modules; held across reboots and loads
	hosts   []*host.Host
	stale   []bool // slot must be replaced before its next call
	modules []module

	idle     chan int
	done     chan struct{}
	closed   atomic.Bool
	reboots  atomic.Uint64
	closeErr error
	once     sync.Once
}

// New boots every host in parallel. If any boot fails the hosts already
// booted are closed.
func New(ctx context.Context, vmCfg vm.Config, opts ...Option) (*Pool, error) {
	cfg := defaultPoolConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	p := &Pool{
		cfg:   cfg,
		vmCfg: vmCfg,
		log:   cfg.logger,
		hosts: make([]*host.Host, cfg.size),
		stale: make([]bool, cfg.size),
		idle:  make(chan int, cfg.size),
		done:  make(chan struct{}),
	}

	var g errgroup.Group
	for i := range p.hosts {
		g.Go(func() error {
			h, err := p.boot(ctx)
			if err != nil {
				return fmt.Errorf("host %d: %w", i, err)
			}
			p.hosts[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, h := range p.hosts {
			if h != nil {
				h.Close(ctx)
			}
		}
		return nil, err
	}

	for i := range p.hosts {
		p.idle <- i
	}
	p.log.Info("pool ready", zap.Int("size", cfg.size))
	return p, nil
}

func (p *Pool) boot(ctx context.Context) (*host.Host, error) {
	h := host.New(p.cfg.hostOpts...)
	if err := h.Boot(ctx, p.vmCfg); err != nil {
		return nil, err
	}
	return h, nil
}

// Size returns the number of hosts.
func (p *Pool) Size() int { return p.cfg.size }

// Reboots returns how many faulted hosts have been replaced.
func (p *Pool) Reboots() uint64 { return p.reboots.Load() }

// Load validates wasm and loads it into every host. The module is
// remembered and reloaded into hosts booted later to replace faulted ones.
//
// Load is all or nothing. If any host rejects the module, the hosts that
// took it are marked for replacement, so no call sees it and a retry
// starts clean. Slots already awaiting replacement are skipped; they pick
// the module up when they are rebooted.
func (p *Pool) Load(ctx context.Context, wasm []byte, opts ...bytecode.Option) (registry.ModuleInfo, error) {
	if p.closed.Load() {
		return registry.ModuleInfo{}, ErrClosed
	}
	mod, err := bytecode.Validate(wasm, opts...)
	if err != nil {
		return registry.ModuleInfo{}, &host.Error{Op: "load", Kind: host.KindInvalid, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.modules {
		if m.info.Name == mod.Name() {
			return registry.ModuleInfo{}, &host.Error{Op: "load " + mod.Name(), Kind: host.KindLoad,
				Err: &registry.AlreadyLoadedError{Name: mod.Name()}}
		}
	}

	loaded := make([]bool, len(p.hosts))
	var g errgroup.Group
	for i, h := range p.hosts {
		if p.stale[i] {
			continue
		}
		g.Go(func() error {
			if _, err := h.Load(ctx, wasm, opts...); err != nil {
				return fmt.Errorf("host %d: %w", i, err)
			}
			loaded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, h := range p.hosts {
			if loaded[i] || h.State() == host.Faulted || h.State() == host.Closed {
				p.stale[i] = true
			}
		}
		p.log.Warn("module load rolled back", zap.String("module", mod.Name()), zap.Error(err))
		return registry.ModuleInfo{}, err
	}

	info := registry.InfoFromModule(mod)
	p.modules = append(p.modules, module{wasm: wasm, opts: opts, info: info})
	p.log.Info("module loaded into pool", zap.String("module", mod.Name()), zap.Int("hosts", len(p.hosts)))
	return info, nil
}

func (p *Pool) acquire(ctx context.Context) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	select {
	case i := <-p.idle:
		return i, nil
	case <-p.done:
		return 0, ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *Pool) slot(i int) (*host.Host, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hosts[i], p.stale[i]
}

// Call runs module:function on an idle host, waiting for one if all are
// busy. A call that faults its host returns the fault and the host is
// replaced before it serves another call.
func (p *Pool) Call(ctx context.Context, module, function string, args ...term.Value) (term.Value, error) {
	i, err := p.acquire(ctx)
	if err != nil {
		return term.Value{}, err
	}
	defer func() { p.idle <- i }()

	h, stale := p.slot(i)
	if stale {
		if err := p.replace(context.WithoutCancel(ctx), i); err != nil {
			return term.Value{}, &host.Error{Op: "call " + module + ":" + function, Kind: host.KindHostFaulted, Err: err}
		}
		h, _ = p.slot(i)
	}

	v, err := h.Call(ctx, module, function, args...)
	if errors.Is(err, host.ErrHostFaulted) && !p.closed.Load() {
		if rerr := p.replace(context.WithoutCancel(ctx), i); rerr != nil {
			p.log.Error("replacing faulted host failed", zap.Int("slot", i), zap.Error(rerr))
		}
	}
	return v, err
}

// replace swaps the host in slot i for a fresh one with every module
// reloaded. The caller must hold slot i. On failure the old host stays in
// place and the slot is marked stale, so its next call tries again first.
func (p *Pool) replace(ctx context.Context, i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stale[i] = true
	fresh, err := p.boot(ctx)
	if err != nil {
		return err
	}
	for _, m := range p.modules {
		if _, err := fresh.Load(ctx, m.wasm, m.opts...); err != nil {
			fresh.Close(ctx)
			return fmt.Errorf("reload %s: %w", m.info.Name, err)
		}
	}

	old := p.hosts[i]
	p.hosts[i] = fresh
	p.stale[i] = false
	if err := old.Close(ctx); err != nil {
		p.log.Warn("closing faulted host", zap.Error(err))
	}
	fresh.Events().Publish(observe.Event{Type: observe.EventReboot})
	p.reboots.Inc()
	p.log.Info("faulted host replaced", zap.Int("slot", i), zap.Int("modules", len(p.modules)))
	return nil
}

// Modules lists the modules loaded into the pool, sorted by name.
func (p *Pool) Modules() []registry.ModuleInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]registry.ModuleInfo, len(p.modules))
	for i, m := range p.modules {
		out[i] = m.info
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Observe returns a snapshot of every host, in slot order.
func (p *Pool) Observe() []host.Snapshot {
	p.mu.Lock()
	hosts := append([]*host.Host(nil), p.hosts...)
	p.mu.Unlock()

	out := make([]host.Snapshot, len(hosts))
	for i, h := range hosts {
		out[i] = h.Observe()
	}
	return out
}

// Close closes every host in parallel. Calls waiting for a host fail with
// ErrClosed.
func (p *Pool) Close(ctx context.Context) error {
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.done)

		p.mu.Lock()
		hosts := append([]*host.Host(nil), p.hosts...)
		p.mu.Unlock()

		var g errgroup.Group
		for _, h := range hosts {
			g.Go(func() error { return h.Close(ctx) })
		}
		p.closeErr = g.Wait()
		p.log.Info("pool closed", zap.Uint64("reboots", p.reboots.Load()))
	})
	return p.closeErr
}
