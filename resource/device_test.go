package resource

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/perfshard/model"
)

type fakeTransport struct {
	mu         sync.Mutex
	commands   []string
	reply      func(command string) (string, int, error)
	pingErr    error
	reconnects int
}

func (t *fakeTransport) Name() string { return "fake:dev" }

func (t *fakeTransport) Run(ctx context.Context, command string) (string, int, error) {
	t.mu.Lock()
	t.commands = append(t.commands, command)
	t.mu.Unlock()
	if strings.Contains(command, "sh -c hang") {
		<-ctx.Done()
		return "", -1, ctx.Err()
	}
	return t.reply(command)
}

func (t *fakeTransport) Ping(ctx context.Context) error { return t.pingErr }

func (t *fakeTransport) Reconnect(ctx context.Context) error {
	t.reconnects++
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func newTestDevice(tr *fakeTransport) *Device {
	return NewDevice(zerolog.Nop(), "fake:dev", func(ctx context.Context) (Transport, error) {
		return tr, nil
	})
}

func TestDeviceExecute(t *testing.T) {
	tr := &fakeTransport{reply: func(command string) (string, int, error) {
		return "result: 3.2ms\n", 1, nil
	}}
	d := newTestDevice(tr)

	exec, err := d.Execute(context.Background(), "run_benchmark --fast", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, exec.ExitCode)
	assert.Equal(t, "result: 3.2ms\n", exec.Output)

	require.Len(t, tr.commands, 1, "no kill after a command that finished")
	assert.Contains(t, tr.commands[0], "setsid sh -c 'run_benchmark --fast' &")
	assert.Contains(t, tr.commands[0], "echo $! > /tmp/.perfshard-")
	assert.Contains(t, tr.commands[0], "wait $!")
}

func TestDeviceExecuteTimeoutKillsRemoteGroup(t *testing.T) {
	tr := &fakeTransport{reply: func(command string) (string, int, error) {
		return "", 0, nil
	}}
	d := newTestDevice(tr)

	exec, err := d.Execute(context.Background(), "hang", 20*time.Millisecond)

	var timeoutErr *model.ExecutionTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)
	assert.Equal(t, -1, exec.ExitCode)

	require.Len(t, tr.commands, 2)
	pidFile := pidFileOf(t, tr.commands[0])
	assert.Contains(t, tr.commands[1], "kill -9 -- -$p")
	assert.Contains(t, tr.commands[1], pidFile)
}

func TestDeviceExecuteCanceledKillsRemoteGroup(t *testing.T) {
	tr := &fakeTransport{reply: func(command string) (string, int, error) {
		return "", 0, nil
	}}
	d := newTestDevice(tr)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := d.Execute(ctx, "hang", time.Minute)
	require.Error(t, err)

	require.Len(t, tr.commands, 2)
	assert.Contains(t, tr.commands[1], pidFileOf(t, tr.commands[0]))
}

func TestDeviceScratchRootPidFile(t *testing.T) {
	tr := &fakeTransport{reply: func(command string) (string, int, error) {
		return "", 0, nil
	}}
	d := NewDevice(zerolog.Nop(), "adb:1", func(ctx context.Context) (Transport, error) {
		return tr, nil
	}, WithScratchRoot("/data/local/tmp/perfshard/"))

	_, err := d.Execute(context.Background(), "true", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, tr.commands[0], "mkdir -p /data/local/tmp/perfshard/;")
	assert.Contains(t, pidFileOf(t, tr.commands[0]), "/data/local/tmp/perfshard/.perfshard-")
}

// pidFileOf extracts the pid file a session command writes.
func pidFileOf(t *testing.T, command string) string {
	t.Helper()
	_, rest, ok := strings.Cut(command, "echo $! > ")
	require.True(t, ok, command)
	pidFile, _, ok := strings.Cut(rest, ";")
	require.True(t, ok, command)
	return pidFile
}

func TestDeviceLazyDialFailure(t *testing.T) {
	d := NewDevice(zerolog.Nop(), "ssh:gone", func(ctx context.Context) (Transport, error) {
		return nil, errors.New("connection refused")
	})

	assert.False(t, d.IsHealthy(context.Background()))
	assert.Equal(t, StateOffline, d.State())
}

func TestDeviceRecover(t *testing.T) {
	tr := &fakeTransport{pingErr: errors.New("device offline")}
	d := newTestDevice(tr)

	err := d.Recover(context.Background())
	var recErr *model.RecoveryFailedError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "fake:dev", recErr.Resource)
	assert.Equal(t, StateOffline, d.State())

	tr.pingErr = nil
	require.NoError(t, d.Recover(context.Background()))
	assert.Equal(t, StateOnline, d.State())
	assert.Equal(t, 2, tr.reconnects)
}

func TestDeviceWorkspace(t *testing.T) {
	payload := []byte("tarball")
	tr := &fakeTransport{reply: func(command string) (string, int, error) {
		switch {
		case strings.Contains(command, "mktemp -d"):
			return "/tmp/unit.abc123\n", 0, nil
		case strings.Contains(command, "| base64"):
			enc := base64.StdEncoding.EncodeToString(payload)
			return enc[:4] + "\n" + enc[4:] + "\n", 0, nil
		case strings.HasPrefix(command, "rm -rf"):
			return "", 0, nil
		}
		return "", 127, nil
	}}
	d := newTestDevice(tr)
	ctx := context.Background()

	dir, err := d.MakeScratchDir(ctx, "blink perf/layout")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/unit.abc123", dir)
	assert.Contains(t, tr.commands[0], "blink_perf_layout.XXXXXX")

	data, err := d.ArchiveDir(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, d.RemoveDir(ctx, dir))
	assert.Equal(t, "rm -rf /tmp/unit.abc123", tr.commands[2])
}
