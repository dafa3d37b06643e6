package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-vote/internal/api"
	"github.com/loqalabs/loqa-vote/internal/broadcast"
	"github.com/loqalabs/loqa-vote/internal/bus"
	"github.com/loqalabs/loqa-vote/internal/classifier"
	"github.com/loqalabs/loqa-vote/internal/config"
	"github.com/loqalabs/loqa-vote/internal/gateway"
	"github.com/loqalabs/loqa-vote/internal/intake"
	"github.com/loqalabs/loqa-vote/internal/ledger"
	"github.com/loqalabs/loqa-vote/internal/natsserver"
	"github.com/loqalabs/loqa-vote/internal/store"
	"github.com/loqalabs/loqa-vote/internal/stt"
	"github.com/loqalabs/loqa-vote/internal/tally"
	"github.com/loqalabs/loqa-vote/internal/voting"
)

const pruneInterval = 24 * time.Hour

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	natsServer    *natsserver.EmbeddedServer
	bus           *bus.Client
	store         *store.Store
	hub           *broadcast.Hub
	intake        *intake.Service
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	defer r.shutdown()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg.RuntimeName, r.cfg.Environment, r.cfg.Telemetry, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = tel.shutdown
	metricHandler := tel.metrics

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	if err := r.startComponents(ctx, mux); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricHandler != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", metricHandler)
			r.metricsServer = &http.Server{
				Addr:              bind,
				Handler:           metricsMux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			r.serve(r.metricsServer, "metrics")
		} else {
			mux.Handle("/metrics", metricHandler)
		}
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runPrune(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) startComponents(ctx context.Context, mux *http.ServeMux) error {
	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	r.store = st

	if r.cfg.Bus.Enabled {
		busCfg := r.cfg.Bus
		ns, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.natsServer = ns
		if ns != nil {
			busCfg.Servers = []string{ns.ClientURL()}
		}
		client, err := bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		r.bus = client
	}

	hubOpts := broadcast.Options{
		Buffer:      r.cfg.Broadcast.SubscriberBuffer,
		SendTimeout: time.Duration(r.cfg.Broadcast.SendTimeoutMS) * time.Millisecond,
		Logger:      r.logger,
	}
	if r.bus != nil && r.cfg.Broadcast.MirrorToBus {
		hubOpts.Mirror = broadcast.NewBusMirror(r.bus, r.cfg.Broadcast.SubjectPrefix)
	}
	r.hub = broadcast.NewHub(hubOpts)

	recognizer, err := stt.NewRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("create recognizer: %w", err)
	}
	cls, err := classifier.New(r.cfg.Classifier)
	if err != nil {
		return fmt.Errorf("create classifier: %w", err)
	}

	votes := voting.NewService(r.cfg.Voting,
		time.Duration(r.cfg.Classifier.TimeoutMS)*time.Millisecond,
		voting.Deps{
			Transcriber: stt.NewTranscriber(recognizer, r.cfg.STT),
			Classifier:  cls,
			Ledger:      ledger.New(st, r.cfg.Voting.MaxWriteRetries, r.logger),
			Tally:       tally.NewAggregator(st),
			Hub:         r.hub,
			Motions:     st,
			Audit:       st,
		}, r.logger)

	api.NewHandler(votes, st, api.Options{RequireActiveMotion: r.cfg.Voting.RequireActiveMotion}, r.logger).Register(mux)

	if r.cfg.Gateway.Enabled {
		mux.Handle(r.cfg.Gateway.Path, gateway.New(r.hub, votes, r.logger).Handler())
	}

	if r.bus != nil && r.cfg.Intake.Enabled {
		r.intake = intake.NewService(ctx, r.cfg.Intake, r.cfg.Voting.RequireActiveMotion, r.bus, votes, r.logger)
		if err := r.intake.Start(); err != nil {
			return fmt.Errorf("start intake: %w", err)
		}
	}
	return nil
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) runPrune(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.store.Prune(ctx); err != nil {
				r.logger.Warn("audit prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	if r.intake != nil {
		r.intake.Close()
	}
	if r.hub != nil {
		r.hub.Close()
	}
	r.wg.Wait()

	r.bus.Close()
	r.natsServer.Shutdown()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("store close error", slog.String("error", err.Error()))
		}
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.isReady(req.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady(ctx context.Context) bool {
	if !r.ready.Load() {
		return false
	}
	if r.store == nil || r.store.Ping(ctx) != nil {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	if r.intake != nil && !r.intake.Healthy() {
		return false
	}
	return true
}
