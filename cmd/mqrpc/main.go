// Command mqrpc runs the broker side of the call-analytics backend: the ASR
// and LLM worker loops selected by worker.serve, the reply consumer, and an
// HTTP endpoint with /metrics, /healthz and /workers.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"mq-rpc/backend/openai"
	"mq-rpc/backend/whisper"
	"mq-rpc/broker"
	"mq-rpc/codec"
	"mq-rpc/config"
	"mq-rpc/gateway"
	"mq-rpc/handler"
	"mq-rpc/logger"
	"mq-rpc/middleware"
	"mq-rpc/observe"
	"mq-rpc/registry"
	"mq-rpc/server"
	"mq-rpc/transport"
)

const serviceName = "mqrpc"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config.yml (searched for when empty)")
	envPath := flag.String("env", "", "path to a .env file (searched for when empty)")
	flag.Parse()

	var loadOpts []config.LoaderOption
	if *configPath != "" {
		loadOpts = append(loadOpts, config.WithConfigFile(*configPath))
	}
	if *envPath != "" {
		loadOpts = append(loadOpts, config.WithEnvFile(*envPath))
	}
	cfg, err := config.Load(serviceName, loadOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mqrpc: %v\n", err)
		return 1
	}

	log := logger.New(&cfg.Logging, cfg.Name)
	log.Info("mqrpc starting", map[string]interface{}{
		"environment": cfg.Environment,
		"serve":       cfg.Worker.Serve,
		"asr_queue":   cfg.Broker.ASRQueue,
		"llm_queue":   cfg.Broker.LLMQueue,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observe.InitProvider(ctx, cfg.Name, cfg.Version)
	if err != nil {
		log.Error("metrics provider failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}
	defer shutdownMetrics(context.Background())
	metrics := observe.DefaultMetrics()

	asrHandler, llmHandler, err := buildHandlers(cfg, log)
	if err != nil {
		log.Error("backend setup failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		log.Error("registry setup failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}
	defer reg.Close()

	codecType, _ := codec.Parse(cfg.Broker.Codec)
	mws := []middleware.Middleware{
		middleware.RecoverMiddleware(),
		middleware.LoggingMiddleware(log),
		middleware.TimeOutMiddleware(cfg.Worker.HandlerTimeout),
	}
	if cfg.Worker.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Worker.RateLimit, cfg.Worker.RateBurst))
	}

	mgr := broker.New(
		transport.AMQPDialer{Heartbeat: cfg.Broker.Heartbeat, ConnectionName: cfg.Name},
		broker.Options{
			URL:              cfg.Broker.URL,
			ASRQueue:         cfg.Broker.ASRQueue,
			LLMQueue:         cfg.Broker.LLMQueue,
			DefaultTimeout:   cfg.Broker.RPCTimeout,
			ProducerPrefetch: cfg.Broker.ProducerPrefetch,
			ConsumerPrefetch: cfg.Broker.ConsumerPrefetch,
			Codec:            codecType,
			ShutdownTimeout:  cfg.Broker.ShutdownTimeout,
			RegistryTTL:      cfg.Registry.TTL,
			Version:          cfg.Version,
		},
		broker.WithLogger(log),
		broker.WithMetrics(metrics),
		broker.WithRegistry(reg),
		broker.WithMiddleware(mws...),
	)

	var serveASR, serveLLM server.Handler
	if cfg.ServesASR() {
		serveASR = asrHandler
	}
	if cfg.ServesLLM() {
		serveLLM = llmHandler
	}
	// A failed start is fatal; the orchestrator restarts the process.
	if err := mgr.Start(ctx, serveASR, serveLLM); err != nil {
		log.Error("broker start failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}
	defer mgr.Close()

	llm := gateway.NewLLM(mgr, mgr.LLMQueue(), llmHandler,
		gateway.WithFallback(cfg.Gateway.Fallback),
		gateway.WithLogger(log),
		gateway.WithMetrics(metrics),
	)
	go probeLLM(ctx, llm, log)

	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: routes(mgr)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", map[string]interface{}{"addr": cfg.Metrics.Addr})
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("http server failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}
	log.Info("shutdown signal received, stopping")
	return 0
}

func buildHandlers(cfg *config.Config, log *logger.Logger) (server.Handler, server.Handler, error) {
	tr, err := whisper.New(whisper.Config{URL: cfg.Whisper.URL, Timeout: cfg.Whisper.Timeout})
	if err != nil {
		return nil, nil, err
	}
	sum, err := openai.New(openai.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	asr := handler.ASR(tr, handler.ASROptions{
		BatchConcurrency: cfg.Worker.BatchConcurrency,
		MaxBatchFiles:    cfg.Worker.MaxBatchFiles,
		Logger:           log,
	})
	return asr, handler.LLM(sum), nil
}

func buildRegistry(cfg *config.Config) (registry.Registry, error) {
	if len(cfg.Registry.Endpoints) == 0 {
		return registry.NewMemoryRegistry(), nil
	}
	return registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout)
}

// probeLLM logs the LLM backend status once at startup.
func probeLLM(ctx context.Context, llm *gateway.LLM, log *logger.Logger) {
	health, err := llm.Health(ctx, gateway.WithTimeout(30*time.Second))
	if err != nil {
		log.Warn("llm health probe failed", map[string]interface{}{logger.FieldError: err.Error()})
		return
	}
	fields := map[string]interface{}{"status": health.Status, "model": health.Model, "endpoint": health.Endpoint}
	if health.Error != "" {
		fields[logger.FieldError] = health.Error
	}
	log.Info("llm backend", fields)
}

func routes(mgr *broker.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observe.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		state, reason := mgr.State()
		code := http.StatusOK
		if state != broker.StateReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"state":   state.String(),
			"reason":  reason,
			"pending": mgr.Pending(),
		})
	})
	mux.HandleFunc("/workers", func(w http.ResponseWriter, r *http.Request) {
		out := make(map[string][]registry.WorkerInstance)
		for _, q := range []string{mgr.ASRQueue(), mgr.LLMQueue()} {
			workers, err := mgr.Workers(r.Context(), q)
			if err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
				return
			}
			out[q] = workers
		}
		writeJSON(w, http.StatusOK, out)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
