// Package server wires the gin router, cron-driven sweeps, and the asynq
// worker into one process, mirroring the teacher's cmd/main.go composition
// root but generalized past a single HTTP listener.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/clipshare/server/internal/config"
	"github.com/clipshare/server/internal/filestore"
	"github.com/clipshare/server/internal/gateway"
	"github.com/clipshare/server/internal/middleware"
	"github.com/clipshare/server/internal/registry"
	"github.com/clipshare/server/internal/shareservice"
)

// Server composes the room registry, file store, share-link service, and
// session gateway behind one HTTP listener, plus the Janitor's periodic
// sweeps (§4.2, §4.3, §4.4).
type Server struct {
	cfg *config.Config

	httpServer *http.Server
	asynqSrv   *asynq.Server
	asynqMux   *asynq.ServeMux
	cron       *cron.Cron

	registry *registry.Registry
	files    *filestore.Store
	shares   *shareservice.Service
	gateway  *gateway.Gateway
}

func New(cfg *config.Config) *Server {
	limiter := middleware.NewLimiter()

	hub := gateway.NewHub()
	files := filestore.New(cfg.UploadDir, hub)
	reg := registry.New(hub, files, cfg.ServerSalt, cfg.BcryptCost)
	shares := shareservice.New(files, reg, cfg.BaseURL, cfg.BcryptCost)

	gatewayInst := gateway.New(hub, reg, files, shares, limiter, cfg.RedisAddr, cfg.BaseURL)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Room-Key", "X-Fingerprint"},
		AllowCredentials: false,
	}))
	router.Use(middleware.ErrorHandler())

	gatewayInst.RegisterRoutes(router, limiter)

	s := &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:         cfg.BindAddr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		asynqSrv: asynq.NewServer(
			asynq.RedisClientOpt{Addr: cfg.RedisAddr},
			asynq.Config{Concurrency: 5},
		),
		asynqMux: gatewayInst.AsynqMux(),
		cron:     cron.New(),
		registry: reg,
		files:    files,
		shares:   shares,
		gateway:  gatewayInst,
	}

	s.scheduleJanitorSweeps()
	return s
}

// scheduleJanitorSweeps wires the three periodic sweeps named across §4.2,
// §4.3, and §4.4. Rate-limit counters are not swept here; they expire
// through their ttlcache TTL.
func (s *Server) scheduleJanitorSweeps() {
	destroyer := roomDestroyer{files: s.files, shares: s.shares}

	if _, err := s.cron.AddFunc("@every 60s", func() { s.registry.Sweep(destroyer) }); err != nil {
		log.Error().Err(err).Msg("failed to schedule room sweep")
	}
	if _, err := s.cron.AddFunc("@every 10m", func() { s.files.GC() }); err != nil {
		log.Error().Err(err).Msg("failed to schedule file GC")
	}
	if _, err := s.cron.AddFunc("@every 60m", func() { s.shares.GC() }); err != nil {
		log.Error().Err(err).Msg("failed to schedule share GC")
	}
}

// roomDestroyer adapts the File Store and Share-Link Service to
// registry.RoomDestroyer for the Janitor's cascade (§4.2).
type roomDestroyer struct {
	files  *filestore.Store
	shares *shareservice.Service
}

func (d roomDestroyer) RevokeOwnedShares(roomKey string) { d.shares.RevokeOwnedShares(roomKey) }
func (d roomDestroyer) DeleteOwnedFiles(roomKey string) []string {
	return d.files.DeleteOwnedFiles(roomKey)
}

// Run starts the HTTP listener, cron scheduler, and asynq worker, blocking
// until ctx is cancelled or one of them fails, then shuts all three down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info().Str("addr", s.cfg.BindAddr).Msg("http listener starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	group.Go(func() error {
		if err := s.asynqSrv.Run(s.asynqMux); err != nil {
			return err
		}
		return nil
	})

	s.cron.Start()

	<-groupCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.cron.Stop()
	s.asynqSrv.Shutdown()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return group.Wait()
}
