//go:build unix

package resource

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfgo/perfshard/model"
)

func TestLocalWorkerExecute(t *testing.T) {
	w := NewLocalWorker(zerolog.Nop(), 0, t.TempDir(), WithMinFreeBytes(1))

	tests := []struct {
		name    string
		command string
		code    int
		output  string
	}{
		{name: "pass", command: "echo ok", code: 0, output: "ok\n"},
		{name: "fail", command: "echo bad >&2; exit 1", code: 1, output: "bad\n"},
		{name: "tagged", command: "echo $PERFSHARD_WORKER", code: 0, output: "local:0\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec, err := w.Execute(context.Background(), tt.command, 10*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.code, exec.ExitCode)
			assert.Equal(t, tt.output, exec.Output)
		})
	}
}

func TestLocalWorkerTimeoutKillsGroup(t *testing.T) {
	w := NewLocalWorker(zerolog.Nop(), 1, t.TempDir())

	start := time.Now()
	_, err := w.Execute(context.Background(), "sleep 30 & sleep 30", 100*time.Millisecond)

	var timeoutErr *model.ExecutionTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// taggedProcesses counts the live processes started by worker identity.
func taggedProcesses(t *testing.T, identity string) int {
	t.Helper()
	procs, err := process.Processes()
	require.NoError(t, err)

	n := 0
	for _, p := range procs {
		env, err := p.Environ()
		if err != nil {
			continue
		}
		for _, kv := range env {
			if kv == workerEnv+"="+identity {
				n++
				break
			}
		}
	}
	return n
}

func TestLocalWorkerRecoverKillsStrays(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("process environments are only readable on linux")
	}
	ctx := context.Background()
	w := NewLocalWorker(zerolog.Nop(), 97, t.TempDir(), WithMinFreeBytes(1))
	t.Cleanup(func() { _, _ = w.killStrays(context.Background()) })

	// setsid leaves the worker's process group, so only the tag finds it
	exec, err := w.Execute(ctx, "setsid sleep 60 </dev/null >/dev/null 2>&1 &", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, exec.ExitCode)

	require.Eventually(t, func() bool {
		return taggedProcesses(t, "local:97") == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, w.Recover(ctx))
	assert.Equal(t, StateOnline, w.State())

	assert.Eventually(t, func() bool {
		return taggedProcesses(t, "local:97") == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLocalWorkerHealth(t *testing.T) {
	ctx := context.Background()

	healthy := NewLocalWorker(zerolog.Nop(), 0, t.TempDir(), WithMinFreeBytes(1))
	assert.True(t, healthy.IsHealthy(ctx))
	assert.Equal(t, StateOnline, healthy.State())

	full := NewLocalWorker(zerolog.Nop(), 1, t.TempDir(), WithMinFreeBytes(1<<62))
	assert.False(t, full.IsHealthy(ctx))
	assert.Equal(t, StateOffline, full.State())
}

func TestLocalWorkerWorkspace(t *testing.T) {
	root := t.TempDir()
	w := NewLocalWorker(zerolog.Nop(), 0, root)
	ctx := context.Background()

	dir, err := w.MakeScratchDir(ctx, "speedometer")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "results.json"), []byte(`{"score":1}`), 0644))

	data, err := w.ArchiveDir(ctx, dir)
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "results.json", hdr.Name)
	body, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, `{"score":1}`, string(body))

	require.NoError(t, w.RemoveDir(ctx, dir))
	assert.NoDirExists(t, dir)
	require.Error(t, w.RemoveDir(ctx, "/etc"))
}
