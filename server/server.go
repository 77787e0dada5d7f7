package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/plugin/ai"
	"github.com/hrygo/brandpulse/plugin/ai/agent"
	"github.com/hrygo/brandpulse/plugin/ai/memory"
	"github.com/hrygo/brandpulse/plugin/ai/vector"
	"github.com/hrygo/brandpulse/internal/observability"
	apiv1 "github.com/hrygo/brandpulse/server/router/api/v1"
	"github.com/hrygo/brandpulse/store"
)

const (
	embeddingCacheSize = 1024
	embeddingCacheTTL  = time.Hour
	limiterPruneEvery  = 5 * time.Minute
)

// Server wires the analytics agent behind the HTTP API.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Runtime *agent.Runtime
	Metrics *observability.Metrics

	echoServer *echo.Echo
	apiV1      *apiv1.APIV1Service
	memory     memory.Memory
	index      vector.Index

	runnerCancelFuncs []context.CancelFunc
}

// NewServer builds every collaborator from the profile. Only configuration
// and LLM client errors are fatal; a missing vector index degrades retrieval.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	s := &Server{
		Profile: p,
		Store:   st,
		Metrics: observability.NewMetrics(),
	}

	aiConfig := ai.NewConfigFromProfile(p)
	if err := aiConfig.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid AI configuration")
	}
	llm, err := ai.NewLLMService(&aiConfig.LLM)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create LLM service")
	}
	embedding, err := ai.NewEmbeddingService(&aiConfig.Embedding)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding service")
	}

	s.index, err = vector.Load(ctx, vector.LoadOptions{
		Backend:  p.VectorBackend,
		Path:     p.VectorIndexPath,
		Driver:   st.GetDriver(),
		Embedder: vector.NewCachedEmbedder(embedding, embeddingCacheSize, embeddingCacheTTL),
	})
	if err != nil {
		slog.Warn("proper noun index unavailable, retrieval will return no candidates",
			"backend", p.VectorBackend,
			"path", p.VectorIndexPath,
			"error", err)
	} else {
		slog.Info("proper noun index loaded", "backend", p.VectorBackend, "fragments", s.index.Len())
	}

	opts := memory.Options{MaxTurns: p.MemoryMaxTurns}
	if p.CheckpointPath != "" {
		ckpt, err := memory.NewSQLiteCheckpointer(ctx, p.CheckpointPath)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open memory checkpoint")
		}
		opts.Checkpointer = ckpt
	}
	s.memory = memory.NewSessionMemory(opts)

	s.Runtime, err = agent.NewRuntime(agent.Deps{
		LLM:      llm,
		Store:    st,
		Index:    s.index,
		Memory:   s.memory,
		Observer: s.Metrics,
		Config: agent.Config{
			MaxRows:         p.MaxRows,
			MaxSteps:        p.MaxSteps,
			MaxQueryRetries: orDisabled(p.MaxQueryRetries),
			HistoryWindow:   p.HistoryWindow,
			StreamBuffer:    p.StreamBuffer,
			SampleRows:      orDisabled(p.SchemaSampleRows),
		},
	})
	if err != nil {
		s.memory.Close()
		return nil, errors.Wrap(err, "failed to create agent runtime")
	}

	// The descriptor is computed once per process; a failure here is retried
	// on the first question.
	if desc, err := s.Runtime.Schema().Get(ctx); err != nil {
		slog.Warn("failed to introspect analytics schema", "error", err)
	} else {
		slog.Info("analytics schema loaded", "tables", len(desc.TableNames()))
	}

	s.Metrics.RegisterGauge("vector_index_fragments", "Fragments in the proper noun index.", func() float64 {
		return float64(s.index.Len())
	})
	s.Metrics.RegisterGauge("memory_sessions", "Conversation sessions held in memory.", func() float64 {
		return float64(s.memory.Sessions())
	})

	s.apiV1 = apiv1.NewAPIV1Service(apiv1.Deps{
		Profile: p,
		Store:   st,
		Runtime: s.Runtime,
		Index:   s.index,
		LLM:     llm,
		Metrics: s.Metrics,
		Logger:  slog.Default(),
	})

	s.echoServer = s.newEcho()
	return s, nil
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.Debug = s.Profile.IsDev()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"*"},
		ExposeHeaders:    []string{apiv1.SessionHeader, echo.HeaderXRequestID},
		AllowCredentials: true,
	}))
	e.Use(s.Metrics.Middleware())

	e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	s.apiV1.RegisterRoutes(e)
	return e
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrap(err, "failed to listen")
	}

	s.StartBackgroundRunners(ctx)

	go func() {
		if err := s.echoServer.Server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start echo server", "error", err)
		}
	}()
	slog.Info("brandpulse server started", "address", listener.Addr().String(), "mode", s.Profile.Mode)
	return nil
}

// StartBackgroundRunners starts the periodic maintenance loops.
func (s *Server) StartBackgroundRunners(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.runnerCancelFuncs = append(s.runnerCancelFuncs, cancel)

	go func() {
		ticker := time.NewTicker(limiterPruneEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.apiV1.Limiter().Prune(); n > 0 {
					slog.Debug("pruned idle rate limiters", "count", n)
				}
			}
		}
	}()
}

// Shutdown stops the HTTP server, then the runners, memory and store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slog.Info("server shutting down")

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	for _, cancelFunc := range s.runnerCancelFuncs {
		if cancelFunc != nil {
			cancelFunc()
		}
	}
	if err := s.memory.Close(); err != nil {
		slog.Error("failed to close conversation memory", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}

	slog.Info("brandpulse stopped properly")
}

// orDisabled maps a profile count of 0, which means "none", onto agent.Disabled.
func orDisabled(n int) int {
	if n == 0 {
		return agent.Disabled
	}
	return n
}
