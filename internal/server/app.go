// Package server initializes and runs the main application server. It wires
// the link store, the external lookup resolver, the code exchange and the
// artifact source together, handles graceful shutdown and starts the HTTP
// endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/passgate/internal/logging"
	"github.com/dmitrijs2005/passgate/internal/server/accounts"
	"github.com/dmitrijs2005/passgate/internal/server/artifact"
	"github.com/dmitrijs2005/passgate/internal/server/config"
	"github.com/dmitrijs2005/passgate/internal/server/entitlement"
	"github.com/dmitrijs2005/passgate/internal/server/exchange"
	"github.com/dmitrijs2005/passgate/internal/server/httpapi"
	"github.com/dmitrijs2005/passgate/internal/server/lookup"
	"github.com/dmitrijs2005/passgate/internal/server/store"
)

type App struct {
	config          *config.Config
	logger          logging.Logger
	store           *store.Store
	exchangeService *exchange.Service
	accountService  *accounts.Service
	artifactSource  artifact.Source
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slog := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slog)

	st, err := store.Open(c.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	mappings, err := entitlement.LoadMappings(c.RoleMappingPath)
	if err != nil {
		return nil, fmt.Errorf("mapping init error: %w", err)
	}

	resolver := lookup.NewResolver(lookup.Config{
		Client:       http.DefaultClient,
		Logger:       logger,
		UsersURL:     c.LookupUsersURL,
		InventoryURL: c.LookupInventoryURL,
		CacheTTL:     c.LookupCacheTTL,
		MinInterval:  c.LookupMinInterval,
	})

	es := exchange.NewService(st, logger, c.CodeTTL)
	as := accounts.NewService(st, resolver, mappings, logger)

	src, err := artifactSource(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("artifact init error: %w", err)
	}

	return &App{
		config:          c,
		logger:          logger,
		store:           st,
		exchangeService: es,
		accountService:  as,
		artifactSource:  src,
	}, nil
}

// artifactSource selects the artifact backend: S3 when a bucket is
// configured, the local filesystem otherwise.
func artifactSource(ctx context.Context, c *config.Config) (artifact.Source, error) {
	if c.S3Bucket != "" {
		return artifact.NewS3Source(ctx, artifact.S3Config{
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			Key:          c.ArtifactPath,
		})
	}
	return artifact.NewLocalSource(c.ArtifactPath), nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	s, err := httpapi.NewServer(app.config.EndpointAddrHTTP, app.logger,
		app.exchangeService, app.accountService, app.store, app.artifactSource,
		app.config.ArtifactFileName, app.config.DownloadKeyHash, app.config.SecretKey)

	if err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	} else {

		if err := s.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

}
