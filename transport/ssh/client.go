// Package ssh provides a multiplexed OpenSSH transport for remote devices.
// A master connection is kept per host so that every test command reuses
// the same authenticated session.
package ssh

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/transport"
)

// exitConnectionFailed is the status ssh itself returns when it could not
// reach the host or the master connection broke.
const exitConnectionFailed = 255

// Client manages an SSH connection to a specific remote host.
type Client struct {
	logger         zerolog.Logger
	host           string
	controlDir     string
	identityFile   string
	knownHostsFile string
	proxyCommand   string
	extraOptions   []string

	mu          sync.Mutex
	controlPath string
}

// SSHOption is a function that configures an SSH client.
type SSHOption func(*Client)

// WithIdentityFile sets the identity file (private key) to use for authentication.
func WithIdentityFile(path string) SSHOption {
	return func(c *Client) {
		c.identityFile = path
	}
}

// WithKnownHostsFile sets the known hosts file to use for host verification.
func WithKnownHostsFile(path string) SSHOption {
	return func(c *Client) {
		c.knownHostsFile = path
	}
}

// WithProxyCommand sets a proxy command for the SSH connection.
func WithProxyCommand(command string) SSHOption {
	return func(c *Client) {
		c.proxyCommand = command
	}
}

// WithExtraOptions adds extra SSH options to the connection.
func WithExtraOptions(options ...string) SSHOption {
	return func(c *Client) {
		c.extraOptions = append(c.extraOptions, options...)
	}
}

// New creates a new SSH client and establishes a multiplexed connection to the host.
func New(ctx context.Context, logger zerolog.Logger, host string, opts ...SSHOption) (*Client, error) {
	c := &Client{
		logger: logger,
		host:   host,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.controlDir == "" {
		c.controlDir = controlSocketDir()
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// Name returns the target identity of the device behind this client.
func (c *Client) Name() string {
	return "ssh:" + c.host
}

// Run executes command through sh on the remote host. Stdout and stderr
// are merged. A non-zero remote exit status is returned as the exit code,
// not as an error.
func (c *Client) Run(ctx context.Context, command string) (string, int, error) {
	args := c.buildSSHArgs()
	args = append(args, c.host, "sh -c "+shellescape.Quote(command))

	c.logger.Debug().
		Str("host", c.host).
		Str("command", command).
		Msg("Running remote command")

	out, code, err := transport.Run(ctx, transport.Command(ctx, "ssh", args...))
	if err != nil {
		return out, code, err
	}
	if code == exitConnectionFailed {
		return out, code, fmt.Errorf("ssh connection to %s failed: %s", c.host, out)
	}
	return out, code, nil
}

// Ping checks that the master connection is alive and the host answers.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	controlPath := c.controlPath
	c.mu.Unlock()

	check := exec.CommandContext(ctx, "ssh", "-o", fmt.Sprintf("ControlPath=%s", controlPath), "-O", "check", c.host)
	if out, err := check.CombinedOutput(); err != nil {
		return fmt.Errorf("master connection to %s is down: %w (%s)", c.host, err, bytes.TrimSpace(out))
	}

	_, code, err := c.Run(ctx, "true")
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("probe on %s exited with %d", c.host, code)
	}
	return nil
}

// Reconnect tears down the master connection and establishes a new one.
func (c *Client) Reconnect(ctx context.Context) error {
	c.logger.Info().Str("host", c.host).Msg("Re-establishing SSH master connection")
	_ = c.Close()
	return c.connect(ctx)
}

// Close closes the SSH connection and cleans up the control socket.
func (c *Client) Close() error {
	c.mu.Lock()
	controlPath := c.controlPath
	c.mu.Unlock()

	c.logger.Debug().Str("controlPath", controlPath).Msg("Cleaning up SSH multiplexing")

	cmd := exec.Command("ssh", "-o", fmt.Sprintf("ControlPath=%s", controlPath), "-O", "exit", c.host)
	_ = cmd.Run() // Ignore errors on cleanup

	if err := os.Remove(controlPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove control socket: %w", err)
	}
	return nil
}

// buildSSHArgs constructs the SSH arguments with all configured options.
func (c *Client) buildSSHArgs() []string {
	c.mu.Lock()
	controlPath := c.controlPath
	c.mu.Unlock()

	args := []string{}
	if controlPath != "" {
		args = append(args,
			"-o", fmt.Sprintf("ControlPath=%s", controlPath),
			"-o", "ControlMaster=no",
		)
	}
	return append(args, c.commonArgs()...)
}

// commonArgs returns the options shared by the master and its clients.
func (c *Client) commonArgs() []string {
	var args []string

	if c.identityFile != "" {
		args = append(args, "-i", c.identityFile)
	}
	if c.knownHostsFile != "" {
		args = append(args, "-o", fmt.Sprintf("UserKnownHostsFile=%s", c.knownHostsFile))
	}
	if c.proxyCommand != "" {
		args = append(args, "-o", fmt.Sprintf("ProxyCommand=%s", c.proxyCommand))
	}
	for _, opt := range c.extraOptions {
		args = append(args, "-o", opt)
	}

	return args
}

// masterArgs returns the arguments that start a background master
// connection on controlPath.
func (c *Client) masterArgs(controlPath string) []string {
	args := []string{
		"-o", "ControlMaster=auto",
		"-o", fmt.Sprintf("ControlPath=%s", controlPath),
		"-o", "ControlPersist=30s",
		"-o", "ConnectTimeout=10",
		"-o", "ServerAliveInterval=15",
		"-o", "ServerAliveCountMax=3",
	}
	args = append(args, c.commonArgs()...)
	return append(args,
		"-f", // Run in background
		"-N", // Don't execute a remote command
		c.host,
	)
}

// connect establishes the SSH master connection for multiplexing.
func (c *Client) connect(ctx context.Context) error {
	if err := os.MkdirAll(c.controlDir, 0700); err != nil {
		return fmt.Errorf("failed to create control directory: %w", err)
	}

	controlPath := filepath.Join(c.controlDir, socketName(c.host))

	c.logger.Debug().
		Str("host", c.host).
		Str("controlPath", controlPath).
		Int("pathLength", len(controlPath)).
		Msg("Setting up SSH multiplexing")

	cmd := exec.CommandContext(ctx, "ssh", c.masterArgs(controlPath)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to establish SSH master connection: %w (stderr: %s)", err, stderr.String())
	}

	c.mu.Lock()
	c.controlPath = controlPath
	c.mu.Unlock()

	c.logger.Debug().Str("host", c.host).Msg("SSH master connection established")
	return nil
}

// socketName derives a short control socket name from the host. Unix domain
// socket paths are limited to 104-108 characters.
func socketName(host string) string {
	hash := sha256.Sum256([]byte(host))
	return "ssh-" + hex.EncodeToString(hash[:])[:12]
}

// controlSocketDir returns the directory to use for SSH control sockets.
func controlSocketDir() string {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "perfshard")
	}

	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		if home := os.Getenv("HOME"); home != "" {
			configHome = filepath.Join(home, ".config")
		}
	}
	if configHome != "" {
		return filepath.Join(configHome, "perfshard")
	}

	return filepath.Join(os.TempDir(), "perfshard")
}
