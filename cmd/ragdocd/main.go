// Ragdocd is a vector-indexed document service: it embeds, versions,
// auto-tags, and hybrid-retrieves documents over an HTTP gateway.
//
// Configuration is loaded from environment variables. See internal/config
// for details.
//
// Usage:
//
//	# Start server with defaults
//	ragdocd
//
//	# Configure via environment
//	SERVER_PORT=9090 VECTOR_BACKEND_URL=http://localhost:6334 ragdocd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocd/internal/autotag"
	"github.com/fyrsmithlabs/ragdocd/internal/config"
	"github.com/fyrsmithlabs/ragdocd/internal/embeddings"
	"github.com/fyrsmithlabs/ragdocd/internal/gateway"
	"github.com/fyrsmithlabs/ragdocd/internal/httpapi"
	"github.com/fyrsmithlabs/ragdocd/internal/logging"
	"github.com/fyrsmithlabs/ragdocd/internal/metadatastore"
	"github.com/fyrsmithlabs/ragdocd/internal/orchestrator"
	"github.com/fyrsmithlabs/ragdocd/internal/retrieval"
	"github.com/fyrsmithlabs/ragdocd/internal/telemetry"
	"github.com/fyrsmithlabs/ragdocd/internal/vectorstore"
	"github.com/fyrsmithlabs/ragdocd/pkg/auth"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  ragdocd           Start the ragdocd daemon\n")
			fmt.Fprintf(os.Stderr, "  ragdocd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("ragdocd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run initializes all dependencies and serves HTTP until ctx is
// cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tel, err := initTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting ragdocd",
		zap.Int("port", cfg.Server.Port),
		zap.String("service", cfg.Observability.ServiceName),
		zap.String("collection", cfg.Vector.Collection))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	gw := gateway.New(gateway.Config{
		Collection:   cfg.Vector.Collection,
		CacheEnabled: *cfg.RAGCache.Enabled,
		CacheTTL:     cfg.RAGCache.TTL(),
		CacheMax:     cfg.RAGCache.Max,
	}, deps.vectors, deps.metadata, deps.orch, deps.engine, deps.users, deps.issuer, logger)

	srv, err := httpapi.NewServer(gw, logger, httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s/health", srv.Addr())),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Echo().Start(srv.Addr())
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer shutdownCancel()
		return srv.Echo().Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// dependencies holds the service graph constructed from cfg.
type dependencies struct {
	vectors  vectorstore.Store
	metadata metadatastore.Store
	orch     *orchestrator.Service
	engine   *retrieval.Engine
	users    auth.UserStore
	issuer   *auth.Issuer
}

// initLogger builds the structured logger via internal/logging,
// configured in JSON mode with stdout output.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	logCfg.Output.Stdout = true
	logCfg.Fields = map[string]string{"service": cfg.Observability.ServiceName}

	l, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, err
	}
	return l.Underlying(), nil
}

// initTelemetry starts the OpenTelemetry SDK (tracer + meter
// providers), registering them globally so every package's
// otel.Tracer()/otel.Meter() call exports real spans/metrics instead
// of operating as a no-op.
func initTelemetry(ctx context.Context, cfg *config.Config) (*telemetry.Telemetry, error) {
	telCfg := telemetry.NewDefaultConfig()
	telCfg.Enabled = cfg.Observability.EnableTelemetry
	telCfg.ServiceName = cfg.Observability.ServiceName
	return telemetry.New(ctx, telCfg)
}

// initDependencies wires the embedding client, vector store, metadata
// store, auto-tag enricher, orchestrator, retrieval engine, and auth.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	embedder, err := embeddings.NewClient(embeddings.Config{
		BaseURL:     cfg.Embeddings.BaseURL,
		Model:       cfg.Embeddings.Model,
		APIKey:      cfg.Embeddings.ProviderKey.Value(),
		Dimension:   cfg.Vector.Dimension,
		MinInterval: time.Duration(cfg.Vector.MinIntervalSeconds * float64(time.Second)),
		MaxInterval: 2 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	var vectors vectorstore.Store
	if cfg.Vector.BackendURL == "" {
		logger.Info("VECTOR_BACKEND_URL not set, using embedded chromem-go store")
		vectors, err = vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			VectorSize: cfg.Vector.Dimension,
		}, logger)
	} else {
		var qdrantHost string
		var qdrantPort int
		var useTLS bool
		qdrantHost, qdrantPort, useTLS, err = parseBackendURL(cfg.Vector.BackendURL)
		if err != nil {
			return nil, fmt.Errorf("parsing VECTOR_BACKEND_URL: %w", err)
		}
		vectors, err = vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
			Host:   qdrantHost,
			Port:   qdrantPort,
			APIKey: cfg.Vector.APIKey.Value(),
			UseTLS: useTLS,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	if err := vectors.EnsureCollection(ctx, cfg.Vector.Collection, cfg.Vector.Dimension, vectorstore.Cosine); err != nil {
		return nil, fmt.Errorf("ensuring collection %q: %w", cfg.Vector.Collection, err)
	}

	var metadata, autoTagCache metadatastore.Store
	if cfg.Metadata.ProjectID == "" {
		logger.Info("METADATA_PROJECT_ID not set, using in-memory metadata store")
		metadata = metadatastore.NewMemoryStore()
		autoTagCache = metadatastore.NewMemoryStore()
	} else {
		metadata, err = metadatastore.NewFirestoreStore(ctx, metadatastore.FirestoreConfig{
			ProjectID:  cfg.Metadata.ProjectID,
			DatabaseID: cfg.Metadata.DatabaseID,
			Collection: cfg.Metadata.Collection,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating metadata store: %w", err)
		}
		autoTagCache, err = metadatastore.NewFirestoreStore(ctx, metadatastore.FirestoreConfig{
			ProjectID:  cfg.Metadata.ProjectID,
			DatabaseID: cfg.Metadata.DatabaseID,
			Collection: "auto_tag_cache",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("creating auto-tag cache store: %w", err)
		}
	}
	enricher := autotag.New(autotag.Config{
		CacheTTL:    cfg.AutoTag.CacheTTL(),
		PromptBytes: cfg.AutoTag.PromptBytes,
	}, autoTagCache, embedder, logger)

	orch, err := orchestrator.New(orchestrator.Config{
		Dimension:  cfg.Vector.Dimension,
		Collection: cfg.Vector.Collection,
	}, embedder, vectors, metadata, enricher, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	engine := retrieval.New(embedder, vectors, metadata, cfg.Vector.Collection, logger)

	users := auth.NewMemoryUserStore()
	var issuer *auth.Issuer
	if cfg.Auth.Secret.IsSet() {
		issuer, err = auth.NewIssuer(auth.Config{
			Secret:    cfg.Auth.Secret.Value(),
			Algorithm: cfg.Auth.Alg,
			TTL:       cfg.Auth.TTL(),
		})
		if err != nil {
			return nil, fmt.Errorf("creating JWT issuer: %w", err)
		}
	} else {
		logger.Warn("JWT_SECRET not set, /auth/login is disabled")
	}

	return &dependencies{
		vectors:  vectors,
		metadata: metadata,
		orch:     orch,
		engine:   engine,
		users:    users,
		issuer:   issuer,
	}, nil
}

// parseBackendURL splits a VECTOR_BACKEND_URL like
// "http://localhost:6334" or "https://xyz.cloud.qdrant.io:6334" into
// the host/port/TLS triple QdrantConfig expects.
func parseBackendURL(raw string) (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, err
	}
	host = u.Hostname()
	useTLS = u.Scheme == "https" || u.Scheme == "qdrants"
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}
	return host, port, useTLS, nil
}
