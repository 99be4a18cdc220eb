package resource

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/perfgo/perfshard/transport"
)

// DefaultMinFreeBytes is the free space a local worker needs on its scratch
// volume to be considered healthy.
const DefaultMinFreeBytes = 100 << 20

// workerEnv tags every process started by a worker so that stray
// descendants can be found again, even after they left the process group.
const workerEnv = "PERFSHARD_WORKER"

// LocalWorker runs units as sh subprocesses on this machine. Each command
// gets its own process group, killed as a whole on timeout.
type LocalWorker struct {
	Health

	logger       zerolog.Logger
	identity     string
	scratchRoot  string
	minFreeBytes uint64
}

// LocalOption configures a LocalWorker.
type LocalOption func(*LocalWorker)

// WithMinFreeBytes sets the free space required on the scratch volume.
func WithMinFreeBytes(n uint64) LocalOption {
	return func(w *LocalWorker) {
		w.minFreeBytes = n
	}
}

// NewLocalWorker returns worker number index, working in scratchRoot.
func NewLocalWorker(logger zerolog.Logger, index int, scratchRoot string, opts ...LocalOption) *LocalWorker {
	identity := fmt.Sprintf("local:%d", index)
	w := &LocalWorker{
		logger:       logger.With().Str("resource", identity).Logger(),
		identity:     identity,
		scratchRoot:  scratchRoot,
		minFreeBytes: DefaultMinFreeBytes,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Identity returns "local:<index>".
func (w *LocalWorker) Identity() string {
	return w.identity
}

// Execute runs command through sh within timeout.
func (w *LocalWorker) Execute(ctx context.Context, command string, timeout time.Duration) (*Execution, error) {
	if err := os.MkdirAll(w.scratchRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := transport.Command(runCtx, "sh", "-c", command)
	cmd.Dir = w.scratchRoot
	cmd.Env = append(os.Environ(), workerEnv+"="+w.identity)

	w.logger.Debug().Str("command", command).Msg("Running local command")

	start := time.Now()
	out, code, err := transport.Run(runCtx, cmd)
	exec := &Execution{ExitCode: code, Output: out, Duration: time.Since(start)}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		w.logger.Warn().Dur("timeout", timeout).Msg("Command timed out, process group killed")
		return exec, timeoutError(timeout)
	}
	if err != nil {
		return exec, errors.Wrapf(err, "execution on %s failed", w.identity)
	}
	return exec, nil
}

// IsHealthy checks that the scratch volume has enough free space.
func (w *LocalWorker) IsHealthy(ctx context.Context) bool {
	if w.State() == StateBlacklisted {
		return false
	}
	err := w.checkDisk(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Health probe failed")
	}
	return w.Probed(err == nil)
}

func (w *LocalWorker) checkDisk(ctx context.Context) error {
	if err := os.MkdirAll(w.scratchRoot, 0755); err != nil {
		return fmt.Errorf("failed to create scratch root: %w", err)
	}
	usage, err := disk.UsageWithContext(ctx, w.scratchRoot)
	if err != nil {
		return fmt.Errorf("failed to read disk usage of %s: %w", w.scratchRoot, err)
	}
	if usage.Free < w.minFreeBytes {
		return fmt.Errorf("only %d bytes free on %s, need %d", usage.Free, w.scratchRoot, w.minFreeBytes)
	}
	return nil
}

// Recover kills processes left behind by earlier commands of this worker
// and checks the scratch volume again.
func (w *LocalWorker) Recover(ctx context.Context) error {
	if err := w.beginRecovery(w.identity); err != nil {
		return err
	}

	killed, err := w.killStrays(ctx)
	if killed > 0 {
		w.logger.Info().Int("processes", killed).Msg("Killed stray processes")
	}
	if err == nil {
		err = w.checkDisk(ctx)
	}
	return w.Recovered(w.identity, err)
}

// killStrays terminates every process tagged with this worker's identity.
func (w *LocalWorker) killStrays(ctx context.Context) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list processes: %w", err)
	}

	tag := workerEnv + "=" + w.identity
	killed := 0
	for _, p := range procs {
		env, err := p.EnvironWithContext(ctx)
		if err != nil {
			continue // gone, or owned by another user
		}
		for _, kv := range env {
			if kv != tag {
				continue
			}
			if err := p.KillWithContext(ctx); err == nil {
				killed++
			}
			break
		}
	}
	return killed, nil
}

// MakeScratchDir creates a fresh directory under the scratch root.
func (w *LocalWorker) MakeScratchDir(ctx context.Context, name string) (string, error) {
	if err := os.MkdirAll(w.scratchRoot, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch root: %w", err)
	}
	return os.MkdirTemp(w.scratchRoot, scratchPrefix(name)+".")
}

// ArchiveDir packs dir into a gzipped tarball.
func (w *LocalWorker) ArchiveDir(ctx context.Context, dir string) ([]byte, error) {
	return archiveDir(dir)
}

// RemoveDir deletes dir. Only directories under the scratch root are
// removed.
func (w *LocalWorker) RemoveDir(ctx context.Context, dir string) error {
	if !strings.HasPrefix(dir, w.scratchRoot+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to remove %s outside scratch root %s", dir, w.scratchRoot)
	}
	return os.RemoveAll(dir)
}
