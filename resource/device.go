package resource

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// pingTimeout bounds a health probe.
	pingTimeout = 30 * time.Second
	// killTimeout bounds the remote kill after an attempt overran.
	killTimeout = 30 * time.Second
)

// Transport is the control plane used to reach a remote device.
type Transport interface {
	// Name returns the target identity of the device.
	Name() string
	// Run executes command on the device and returns merged output and the
	// exit status. It returns ctx.Err() when ctx ended the command.
	Run(ctx context.Context, command string) (string, int, error)
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
}

// Dialer opens the transport of a device.
type Dialer func(ctx context.Context) (Transport, error)

// Device is a remote device reached through a Transport. The transport is
// dialed lazily so that a device unreachable at startup is reported as
// offline instead of aborting the run.
type Device struct {
	Health

	logger      zerolog.Logger
	identity    string
	dial        Dialer
	scratchRoot string

	mu        sync.Mutex
	transport Transport
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithScratchRoot sets the directory scratch output directories are created
// in on the device.
func WithScratchRoot(dir string) DeviceOption {
	return func(d *Device) {
		d.scratchRoot = dir
	}
}

// NewDevice returns a device named identity that dials its transport with
// dial on first use.
func NewDevice(logger zerolog.Logger, identity string, dial Dialer, opts ...DeviceOption) *Device {
	d := &Device{
		logger:      logger.With().Str("resource", identity).Logger(),
		identity:    identity,
		dial:        dial,
		scratchRoot: "/tmp",
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Identity returns the target identity of the device.
func (d *Device) Identity() string {
	return d.identity
}

func (d *Device) conn(ctx context.Context) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transport != nil {
		return d.transport, nil
	}
	t, err := d.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.identity, err)
	}
	d.transport = t
	return t, nil
}

// Execute runs command on the device within timeout. The command runs in a
// session of its own whose id is written to a pid file, so that an attempt
// that overran can be killed on the device as a whole process group.
func (d *Device) Execute(ctx context.Context, command string, timeout time.Duration) (*Execution, error) {
	t, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	pidFile := d.pidFile()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, code, err := t.Run(runCtx, d.sessionCommand(command, pidFile))
	exec := &Execution{ExitCode: code, Output: out, Duration: time.Since(start)}

	if runCtx.Err() != nil {
		d.kill(ctx, t, pidFile)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		d.logger.Warn().Dur("timeout", timeout).Msg("Command timed out on device")
		exec.ExitCode = -1
		return exec, timeoutError(timeout)
	}
	if err != nil {
		return exec, errors.Wrapf(err, "execution on %s failed", d.identity)
	}
	return exec, nil
}

func (d *Device) pidFile() string {
	return fmt.Sprintf("%s/.perfshard-%s.pid", strings.TrimSuffix(d.scratchRoot, "/"), uuid.NewString())
}

// sessionCommand starts command as a session leader in the background and
// waits for it. setsid does not fork when its caller is not a process group
// leader, so $! is the session and process group id.
func (d *Device) sessionCommand(command, pidFile string) string {
	q := shellescape.Quote(command)
	return fmt.Sprintf(
		"mkdir -p %s; if command -v setsid >/dev/null 2>&1; then setsid sh -c %s & else sh -c %s & fi; "+
			"echo $! > %s; wait $!; rc=$?; rm -f %s; exit $rc",
		shellescape.Quote(d.scratchRoot), q, q, shellescape.Quote(pidFile), shellescape.Quote(pidFile))
}

// killCommand kills the process group recorded in pidFile, falling back to
// the single process when the device has no setsid.
func killCommand(pidFile string) string {
	q := shellescape.Quote(pidFile)
	return fmt.Sprintf("if p=$(cat %s 2>/dev/null); then kill -9 -- -$p 2>/dev/null || kill -9 $p 2>/dev/null; fi; rm -f %s", q, q)
}

// kill stops an attempt that is still running on the device. It uses a
// context of its own because the attempt's context has already ended.
func (d *Device) kill(ctx context.Context, t Transport, pidFile string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), killTimeout)
	defer cancel()

	if _, _, err := t.Run(ctx, killCommand(pidFile)); err != nil {
		d.logger.Warn().Err(err).Str("pidFile", pidFile).Msg("Failed to kill command on device")
		return
	}
	d.logger.Debug().Str("pidFile", pidFile).Msg("Killed command on device")
}

// IsHealthy pings the device and updates its state.
func (d *Device) IsHealthy(ctx context.Context) bool {
	if d.State() == StateBlacklisted {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	t, err := d.conn(ctx)
	if err == nil {
		err = t.Ping(ctx)
	}
	if err != nil {
		d.logger.Debug().Err(err).Msg("Health probe failed")
	}
	return d.Probed(err == nil)
}

// Recover reconnects the transport and probes the device again.
func (d *Device) Recover(ctx context.Context) error {
	if err := d.beginRecovery(d.identity); err != nil {
		return err
	}

	t, err := d.conn(ctx)
	if err == nil {
		err = t.Reconnect(ctx)
	}
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = t.Ping(pingCtx)
		cancel()
	}
	return d.Recovered(d.identity, err)
}

// Close releases the transport, if one was dialed.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.transport == nil {
		return nil
	}
	err := d.transport.Close()
	d.transport = nil
	return err
}

// MakeScratchDir creates a fresh directory under the device scratch root.
func (d *Device) MakeScratchDir(ctx context.Context, name string) (string, error) {
	pattern := fmt.Sprintf("%s/%s.XXXXXX", strings.TrimSuffix(d.scratchRoot, "/"), scratchPrefix(name))
	out, err := d.run(ctx, "mkdir -p "+shellescape.Quote(d.scratchRoot)+" && mktemp -d "+shellescape.Quote(pattern))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ArchiveDir packs dir on the device and transfers it base64 encoded,
// since every transport speaks text.
func (d *Device) ArchiveDir(ctx context.Context, dir string) ([]byte, error) {
	out, err := d.run(ctx, fmt.Sprintf("tar -czf - -C %s . | base64", shellescape.Quote(dir)))
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(out), ""))
	if err != nil {
		return nil, fmt.Errorf("failed to decode archive of %s: %w", dir, err)
	}
	return data, nil
}

// RemoveDir deletes dir on the device.
func (d *Device) RemoveDir(ctx context.Context, dir string) error {
	_, err := d.run(ctx, "rm -rf "+shellescape.Quote(dir))
	return err
}

// run executes a housekeeping command that must succeed.
func (d *Device) run(ctx context.Context, command string) (string, error) {
	t, err := d.conn(ctx)
	if err != nil {
		return "", err
	}
	out, code, err := t.Run(ctx, command)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("%q on %s exited with %d: %s", command, d.identity, code, strings.TrimSpace(out))
	}
	return out, nil
}

// scratchPrefix makes a unit name safe for use in a directory name.
func scratchPrefix(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
