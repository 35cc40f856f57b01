// Command identityd runs the verification engine, the signed event
// publisher, the event mail consumer and the ops endpoints.
//
//	identityd -config config/identityd.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/MrEthical07/goVerify/internal/settings"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/identityd.yaml", "path to the settings file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	s, err := settings.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load settings")
	}
	if level, err := logrus.ParseLevel(s.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, s, log)
	if err != nil {
		log.WithError(err).Fatal("start identityd")
	}
	defer app.close()

	if err := run(ctx, stop, app, s.HTTPAddr, log); err != nil {
		log.WithError(err).Error("identityd stopped")
		os.Exit(1)
	}
}

// run serves the ops endpoints and the mail consumer until ctx is done or
// the consumer halts.
func run(ctx context.Context, stop context.CancelFunc, app *app, addr string, log logrus.FieldLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newOpsRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var (
		wg      sync.WaitGroup
		errOnce sync.Once
		runErr  error
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		stop()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithField("addr", addr).Info("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fail(err)
		}
	}()

	if app.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.consumer.Start(ctx); err != nil {
				fail(err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")
	if app.consumer != nil {
		app.consumer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("ops server shutdown")
	}
	if err := app.engine.FlushActivity(shutdownCtx); err != nil {
		log.WithError(err).Warn("activity flush")
	}
	wg.Wait()
	return runErr
}
