package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/d2sherpa/sherpa/pkg/bungie"
)

// Run starts the application and blocks until a shutdown signal is
// received.
func (a *App) Run(ctx context.Context) error {
	if err := a.httpServer.Start(ctx); err != nil {
		return err
	}
	if err := a.metricsServer.Start(ctx); err != nil {
		return err
	}

	if a.cfg.ProfileAccountID != "" {
		a.Select(&bungie.Profile{
			MembershipType: a.cfg.ProfilePlatform,
			MembershipID:   a.cfg.ProfileAccountID,
		})
		logrus.Infof("polling initial profile %d_%s", a.cfg.ProfilePlatform, a.cfg.ProfileAccountID)
	} else {
		logrus.Info("no initial profile configured, waiting for selection")
	}

	logrus.Info("application started successfully")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logrus.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Shutdown stops components in reverse dependency order: servers first,
// then the poller, then a final synchronous cache checkpoint, then
// external connections. Errors are logged but do not stop the sequence.
func (a *App) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down application...")

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logrus.Errorf("http server shutdown error: %v", err)
	}
	if err := a.metricsServer.Shutdown(ctx); err != nil {
		logrus.Errorf("metrics server shutdown error: %v", err)
	}

	a.poller.Stop()

	if err := a.store.Save(ctx, a.manager); err != nil {
		logrus.Errorf("final cache save error: %v", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			logrus.Errorf("Redis close error: %v", err)
		}
	}

	logrus.Info("application shutdown complete")
	return nil
}
