package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"cliniccore/internal/analytics"
	"cliniccore/internal/blob"
	"cliniccore/internal/config"
	"cliniccore/internal/core"
	"cliniccore/internal/logging"
	"cliniccore/internal/metrics"
)

// app carries the dependencies shared by every subcommand. The function fields
// are replaced in tests.
type app struct {
	loadConfig func() (*config.Config, error)
	openBlobs  func(context.Context, blob.Config) (blob.Store, error)
	serve      func(addr string, h http.Handler) error
	clock      analytics.Clock
	logOut     io.Writer
	expvarName string

	cfg      *config.Config
	log      zerolog.Logger
	blobs    blob.Store
	store    *core.Store
	registry *prometheus.Registry
	expvar   *core.ExpvarMetricsRecorder
}

func newApp() *app {
	return &app{
		loadConfig: config.Load,
		openBlobs:  blob.Open,
		serve:      listenAndServe,
		logOut:     os.Stderr,
	}
}

func listenAndServe(addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// open loads configuration and the clinic store.
func (a *app) open(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.NewWithWriter(cfg.LogConfig(), a.logOut)
	if err != nil {
		return err
	}
	a.log = log

	blobs, err := a.openBlobs(ctx, cfg.BlobConfig())
	if err != nil {
		a.log.Error().Err(err).Str("driver", cfg.BlobDriver).Msg("failed to open blob store")
		return err
	}
	a.blobs = blobs

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.expvar = core.NewExpvarMetricsRecorder(a.expvarName)
	recorder := core.MultiRecorder{metrics.New(a.registry), a.expvar}

	store, err := core.NewStore(ctx, blobs,
		core.WithLogger(a.log),
		core.WithMetrics(recorder),
		core.WithStrictLoad(cfg.StrictLoad),
		core.WithReferenceChecks(cfg.EnforceReferences),
	)
	if err != nil {
		a.log.Error().Err(err).Msg("failed to load clinic store")
		return errors.Join(err, a.close())
	}
	a.store = store
	return nil
}

func (a *app) close() error {
	if a.blobs == nil {
		return nil
	}
	c, ok := a.blobs.(io.Closer)
	a.blobs = nil
	if !ok {
		return nil
	}
	return c.Close()
}

func (a *app) engine() *analytics.Engine {
	return analytics.New(a.store, analytics.WithClock(a.clock))
}
