package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/atomhost/bytecode"
	"github.com/caffeineduck/atomhost/host"
	"github.com/caffeineduck/atomhost/observe"
	"github.com/caffeineduck/atomhost/pool"
	"github.com/caffeineduck/atomhost/registry"
	"github.com/caffeineduck/atomhost/term"
	"github.com/caffeineduck/atomhost/vm"
)

const cborContentType = "application/cbor"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [FILE...]",
		Short: "Start HTTP server for function calls",
		Long: `Start an HTTP server backed by a pool of hosts. Modules given as
arguments or listed in the config file are loaded at startup.

Request and response bodies are JSON, or CBOR when the request has
Content-Type: application/cbor. In JSON, terms are strings in text
notation ("{ok, 1}").

Endpoints:
  POST   /modules?name=NAME          Load a module (body: wasm bytes)
  GET    /modules                    List modules and functions
  POST   /call/{module}/{function}   Call, body {"args": ["1", "2"]}
  GET    /observe                    Snapshot of every host
  GET    /health                     Aggregate health
  GET    /metrics                    Prometheus metrics`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (default from config, :8080)")
	cmd.Flags().Int("pool-size", 0, "Number of hosts (default from config, 4)")
	cmd.Flags().Duration("timeout", 0, "Call timeout (default from config, 30s)")
	return cmd
}

type callRequest struct {
	Args    []term.Value `json:"args" cbor:"1,keyasint"`
	Timeout string       `json:"timeout,omitempty" cbor:"2,keyasint,omitempty"`
}

type callResponse struct {
	Result     *term.Value `json:"result,omitempty" cbor:"1,keyasint,omitempty"`
	Error      string      `json:"error,omitempty" cbor:"2,keyasint,omitempty"`
	Code       string      `json:"code,omitempty" cbor:"3,keyasint,omitempty"`
	DurationMs int64       `json:"duration_ms" cbor:"4,keyasint"`
}

type errorResponse struct {
	Error string `json:"error" cbor:"1,keyasint"`
	Code  string `json:"code,omitempty" cbor:"2,keyasint,omitempty"`
}

type healthResponse struct {
	Status  observe.Status `json:"status"`
	Hosts   int            `json:"hosts"`
	Faulted int            `json:"faulted"`
	Reboots uint64         `json:"reboots"`
	Modules int            `json:"modules"`
}

type server struct {
	pool    *pool.Pool
	log     *zap.Logger
	metrics *prometheus.Registry
	maxBody int64
	cborDec cbor.DecMode
}

func newServer(p *pool.Pool, metrics *prometheus.Registry, log *zap.Logger, maxBody int64) (*server, error) {
	dec, err := cbor.DecOptions{MaxNestedLevels: 2*term.DefaultMaxDepth + 8}.DecMode()
	if err != nil {
		return nil, err
	}
	return &server{pool: p, log: log, metrics: metrics, maxBody: maxBody, cborDec: dec}, nil
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/modules", s.handleLoad).Methods(http.MethodPost)
	r.HandleFunc("/modules", s.handleModules).Methods(http.MethodGet)
	r.HandleFunc("/call/{module}/{function}", s.handleCall).Methods(http.MethodPost)
	r.HandleFunc("/observe", s.handleObserve).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

func wantsCBOR(r *http.Request) bool {
	return r.Header.Get("Content-Type") == cborContentType
}

func (s *server) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsCBOR(r) {
		data, err := cbor.Marshal(v)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", cborContentType)
		w.WriteHeader(status)
		w.Write(data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("writing response", zap.Error(err))
	}
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	var vmErr *vm.Error
	if errors.As(err, &vmErr) {
		resp.Code = vmErr.Code.String()
	}
	s.write(w, r, errorStatus(err), resp)
}

// errorStatus maps host, pool and vm errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, host.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrAlreadyLoaded):
		return http.StatusConflict
	case errors.Is(err, host.ErrNotLoaded), errors.Is(err, vm.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pool.ErrClosed), errors.Is(err, host.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, host.ErrHostFaulted):
		return http.StatusInternalServerError
	case errors.Is(err, vm.ErrTrap), errors.Is(err, vm.ErrResourceExhausted):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		return err
	}
	if int64(len(body)) > s.maxBody {
		return fmt.Errorf("request body exceeds %d bytes", s.maxBody)
	}
	if len(body) == 0 {
		return nil
	}
	if wantsCBOR(r) {
		return s.cborDec.Unmarshal(body, v)
	}
	return json.Unmarshal(body, v)
}

func (s *server) handleLoad(w http.ResponseWriter, r *http.Request) {
	wasm, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		s.write(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if int64(len(wasm)) > s.maxBody {
		s.write(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("module exceeds %d bytes", s.maxBody)})
		return
	}

	var opts []bytecode.Option
	if name := r.URL.Query().Get("name"); name != "" {
		opts = append(opts, bytecode.WithDefaultName(name))
	}
	info, err := s.pool.Load(r.Context(), wasm, opts...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.write(w, r, http.StatusCreated, info)
}

func (s *server) handleModules(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, http.StatusOK, s.pool.Modules())
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req callRequest
	if err := s.decode(r, &req); err != nil {
		s.write(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	// A client that goes away must not abort the guest and fault its host;
	// the host call timeout and the request timeout still apply.
	ctx := context.WithoutCancel(r.Context())
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			s.write(w, r, http.StatusBadRequest, errorResponse{Error: "invalid timeout: " + err.Error()})
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	v, err := s.pool.Call(ctx, vars["module"], vars["function"], req.Args...)
	resp := callResponse{DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		resp.Error = err.Error()
		var vmErr *vm.Error
		if errors.As(err, &vmErr) {
			resp.Code = vmErr.Code.String()
		}
		s.write(w, r, errorStatus(err), resp)
		return
	}
	resp.Result = &v
	s.write(w, r, http.StatusOK, resp)
}

func (s *server) handleObserve(w http.ResponseWriter, r *http.Request) {
	s.write(w, r, http.StatusOK, s.pool.Observe())
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snaps := s.pool.Observe()
	resp := healthResponse{Hosts: len(snaps), Reboots: s.pool.Reboots()}
	for _, snap := range snaps {
		resp.Status = max(resp.Status, snap.Health.Status)
		if snap.State == host.Faulted {
			resp.Faulted++
		}
	}
	resp.Modules = len(s.pool.Modules())

	status := http.StatusOK
	if resp.Status == observe.Critical {
		status = http.StatusServiceUnavailable
	}
	s.write(w, r, status, resp)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	log, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("pool-size") {
		cfg.Pool.Size, _ = flags.GetInt("pool-size")
	}
	if flags.Changed("timeout") {
		cfg.Host.CallTimeout, _ = flags.GetDuration("timeout")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, metrics, err := observe.NewMetrics("atomhost")
	if err != nil {
		return err
	}

	vmCfg := cfg.VM
	vmCfg.Functions = functions(cfg)
	vmCfg.Logger = log.Named("vm")
	p, err := pool.New(ctx, vmCfg,
		pool.WithSize(cfg.Pool.Size),
		pool.WithLogger(log.Named("pool")),
		pool.WithHostOptions(
			host.WithLogger(log.Named("host")),
			host.WithMetrics(metrics),
			host.WithCallTimeout(cfg.Host.CallTimeout),
			host.WithEventLimit(cfg.Host.EventLimit),
			host.WithHealthThresholds(cfg.Host.Health.Thresholds()),
		),
	)
	if err != nil {
		return err
	}
	defer p.Close(context.Background())

	for _, path := range append(cfg.ModulePaths(), args...) {
		wasm, _, err := readModule(path)
		if err != nil {
			return err
		}
		info, err := p.Load(ctx, wasm, bytecode.WithDefaultName(moduleName(path)))
		if err != nil {
			return err
		}
		log.Info("preloaded module", zap.String("module", info.Name), zap.Int("functions", len(info.Functions)))
	}

	s, err := newServer(p, reg, log.Named("http"), cfg.Server.MaxBodySize)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr), zap.Int("pool", p.Size()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
