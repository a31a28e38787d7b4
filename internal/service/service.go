package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/medviewer/pacs-connector/internal/service/config"
	"github.com/medviewer/pacs-connector/internal/service/manifest/adapters/archive"
	manifestHTTP "github.com/medviewer/pacs-connector/internal/service/manifest/adapters/http"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app/commands"
	"github.com/medviewer/pacs-connector/internal/service/manifest/app/queries"
	"github.com/medviewer/pacs-connector/internal/service/manifest/registry"
	"github.com/medviewer/pacs-connector/internal/service/observability"
	"github.com/medviewer/pacs-connector/internal/service/runtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Service struct {
	log        *slog.Logger
	httpServer *http.Server
	reg        *registry.Registry
	reaper     *registry.Reaper
	pools      []*pgxpool.Pool
}

func NewManifestService(ctx context.Context) (*Service, error) {
	appConfig, err := config.NewConfigFromEnv()
	if err != nil {
		return nil, err
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// init metrics
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(promRegistry)

	// init archive backends
	svc := &Service{log: log}
	factory := archive.NewFactory()
	for _, a := range appConfig.Archives {
		backend, err := svc.newBackend(ctx, a)
		if err != nil {
			svc.closePools()
			return nil, err
		}
		if err := factory.Register(backend, a.Default); err != nil {
			svc.closePools()
			return nil, err
		}
	}

	// init build registry + reaper
	reg := registry.New(appConfig.Builder.PoolSize, appConfig.Builder.MaxLifeCycle.Std(), log, metrics)
	reaper := registry.NewReaper(reg, appConfig.Builder.CleanFrequency.Std(), log)

	// init commands
	buildHandler := commands.NewBuildManifestHandler(reg, factory, log)
	uploadHandler := commands.NewUploadManifestHandler(reg)
	cmdBus := app.NewCommandBus(buildHandler, uploadHandler)

	// init queries
	fetchHandler := queries.NewFetchManifestQueryHandler(reg)
	queryBus := app.NewQueryBus(fetchHandler)

	// init http handler
	manifestServer := manifestHTTP.NewServer(cmdBus, queryBus, log)

	httpServer, err := runtime.NewHTTPServer(appConfig, manifestServer, promRegistry)
	if err != nil {
		svc.closePools()
		return nil, err
	}

	svc.httpServer = httpServer
	svc.reg = reg
	svc.reaper = reaper
	return svc, nil
}

func (s *Service) newBackend(ctx context.Context, a config.Archive) (*archive.Backend, error) {
	backend := &archive.Backend{
		ID:                a.ID,
		WadoURL:           a.WadoURL,
		TransferSyntaxUID: a.TransferSyntaxUID,
		CompressionRate:   a.CompressionRate,
	}
	switch a.Kind {
	case "qido":
		backend.Query = archive.NewQIDOQuery(a.QidoURL, a.AuthHeader, nil)
	case "db":
		pool, err := pgxpool.New(ctx, a.DSN)
		if err != nil {
			return nil, fmt.Errorf("archive %q: connect: %w", a.ID, err)
		}
		s.pools = append(s.pools, pool)
		backend.Query = archive.NewDBQuery(pool)
	default:
		return nil, fmt.Errorf("archive %q: unknown kind %q", a.ID, a.Kind)
	}
	return backend, nil
}

func (s *Service) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.reaper.Run(reaperCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		cancelReaper()
		wg.Wait()
		s.shutdownBackground()
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(timeoutCtx)

	cancelReaper()
	wg.Wait()
	s.shutdownBackground()

	if err != nil {
		return err
	}
	s.log.Info("server stopped")
	return nil
}

func (s *Service) shutdownBackground() {
	s.reg.Close()
	s.closePools()
}

func (s *Service) closePools() {
	for _, pool := range s.pools {
		pool.Close()
	}
	s.pools = nil
}
