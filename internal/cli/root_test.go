package cli

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/docker-port-forward/internal/config"
	"github.com/shinji-kodama/docker-port-forward/internal/model"
)

// TestReportError verifies the mapping of errors onto exit codes and the
// stderr format.
func TestReportError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{
			name:     "config error",
			err:      model.NewCLIError(model.ExitConfigError, "Docker environment not ready. You must set DOCKER_HOST and DOCKER_CERT_PATH"),
			wantCode: 2,
			wantOut:  "Error: Docker environment not ready. You must set DOCKER_HOST and DOCKER_CERT_PATH\n",
		},
		{
			name:     "docker not running with cause",
			err:      model.WrapCLIError(model.ExitDockerNotRunning, "Docker daemon is not responding", errors.New("connection refused")),
			wantCode: 3,
			wantOut:  "Error: Docker daemon is not responding: connection refused\n",
		},
		{
			name:     "event stream lost",
			err:      model.WrapCLIError(model.ExitEventStreamLost, "Docker event stream ended", model.ErrEventStreamClosed),
			wantCode: 4,
			wantOut:  "Error: Docker event stream ended: docker event stream closed\n",
		},
		{
			name:     "generic error",
			err:      errors.New("boom"),
			wantCode: 1,
			wantOut:  "Error: boom\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tt.wantCode, reportError(&buf, tt.err))
			assert.Equal(t, tt.wantOut, buf.String())
		})
	}
}

// TestNewRootCommand verifies the command surface: no arguments, a verbose
// flag and version output.
func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	assert.Equal(t, "docker-port-forward", cmd.Use)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
	assert.Contains(t, cmd.Version, Version)
	assert.Empty(t, cmd.Commands(), "the daemon has no subcommands")
	assert.Error(t, cmd.Args(cmd, []string{"extra"}))
}

// TestNewLogger verifies level and format selection.
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	log, err := newLogger(&config.Settings{LogLevel: "warn", LogFormat: "text"}, false, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, log.Formatter)

	log, err = newLogger(&config.Settings{LogLevel: "warn", LogFormat: "json"}, true, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel(), "--verbose forces debug")
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	log.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	_, err = newLogger(&config.Settings{LogLevel: "chatty"}, false, &buf)
	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitConfigError, cliErr.Code)
}

// fakeRunner blocks until ctx is done, or fails immediately with err.
type fakeRunner struct {
	err error
}

func (r fakeRunner) Run(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	return nil
}

// fakeShutdowner records whether Shutdown ran and whether its context had a
// deadline.
type fakeShutdowner struct {
	called      atomic.Bool
	hadDeadline atomic.Bool
}

func (s *fakeShutdowner) Shutdown(ctx context.Context) {
	_, ok := ctx.Deadline()
	s.hadDeadline.Store(ok)
	s.called.Store(true)
}

// TestServe_SignalShutsDown verifies that cancelling the context shuts the
// registry down and ends with a nil error.
func TestServe_SignalShutsDown(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	reg := &fakeShutdowner{}
	settings := &config.Settings{ShutdownGrace: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, fakeRunner{}, reg, settings, logger) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.True(t, reg.called.Load())
	assert.True(t, reg.hadDeadline.Load(), "shutdown is bounded by the grace period")
}

// TestServe_DispatcherFailure verifies that a fatal dispatcher error still
// shuts the registry down and is returned with its exit code.
func TestServe_DispatcherFailure(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	reg := &fakeShutdowner{}
	settings := &config.Settings{ShutdownGrace: time.Second}
	lost := model.WrapCLIError(model.ExitEventStreamLost, "Docker event stream ended", model.ErrEventStreamClosed)

	err := serve(context.Background(), fakeRunner{err: lost}, reg, settings, logger)

	var cliErr *model.CLIError
	require.True(t, errors.As(err, &cliErr))
	assert.Equal(t, model.ExitEventStreamLost, cliErr.Code)
	assert.True(t, reg.called.Load())
}
