package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/shinji-kodama/docker-port-forward/internal/config"
	"github.com/shinji-kodama/docker-port-forward/internal/dispatch"
	"github.com/shinji-kodama/docker-port-forward/internal/docker"
	"github.com/shinji-kodama/docker-port-forward/internal/model"
	"github.com/shinji-kodama/docker-port-forward/internal/registry"
	"github.com/shinji-kodama/docker-port-forward/internal/tunnel"
)

// runForwarder is the RunE of the root command. It loads the environment,
// connects to Docker and runs until a signal or a fatal error.
func runForwarder(cmd *cobra.Command, _ []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	log, err := newLogger(settings, verbose, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return run(ctx, settings, log)
}

// newLogger builds the process logger from the configured level and format.
// forceDebug (--verbose) overrides the level.
func newLogger(settings *config.Settings, forceDebug bool, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)

	level, err := logrus.ParseLevel(settings.LogLevel)
	if err != nil {
		return nil, model.WrapCLIError(model.ExitConfigError,
			"invalid DOCKERFWD_LOG_LEVEL "+settings.LogLevel, err)
	}
	if forceDebug {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(settings.LogFormat, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

// run connects to the Docker daemon and runs the dispatcher next to the
// shutdown task. When either the signal context or the dispatcher ends,
// the registry is shut down with the configured grace period.
func run(ctx context.Context, settings *config.Settings, log *logrus.Logger) error {
	ca, cert, key := settings.CertFiles()
	client, err := docker.NewClient(settings.DockerHost, docker.TLSFiles{CA: ca, Cert: cert, Key: key}, log)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx); err != nil {
		return err
	}

	remoteHost := settings.RemoteHost()
	log.WithField("remote", remoteHost).Infof("connected to Docker at %s", settings.DockerHost)

	tracker := tunnel.NewTracker()
	relay := tunnel.NewRelay(tracker, log)
	reg := registry.New(client, relay, tracker, registry.Options{
		RemoteHost: remoteHost,
		BindHost:   settings.BindAddress,
	}, log)

	return serve(ctx, dispatch.New(client, reg, log), reg, settings, log)
}

// runner is the dispatcher as seen by serve.
type runner interface {
	Run(ctx context.Context) error
}

// shutdowner is the registry as seen by serve.
type shutdowner interface {
	Shutdown(ctx context.Context)
}

// serve runs d until ctx is done or d fails, then shuts reg down within
// the grace period. It returns the dispatcher's error, if any.
func serve(ctx context.Context, d runner, reg shutdowner, settings *config.Settings, log logrus.FieldLogger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("shutting down, waiting up to %s for open tunnels", settings.ShutdownGrace)

		graceCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownGrace)
		defer cancel()
		reg.Shutdown(graceCtx)

		log.Info("shutdown complete")
		return nil
	})

	return g.Wait()
}
