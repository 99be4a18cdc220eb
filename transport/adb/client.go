// Package adb provides an Android debug bridge transport for devices
// attached over USB or reachable through adb over TCP.
package adb

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"al.essio.dev/pkg/shellescape"
	"github.com/electricbubble/gadb"
	"github.com/rs/zerolog"
)

// exitMarker prefixes the exit status echoed after every command, since
// the adb shell protocol does not report it.
const exitMarker = "__PERFSHARD_EXIT__"

// Client runs commands on one adb device.
type Client struct {
	logger zerolog.Logger
	serial string

	mu     sync.Mutex
	adb    gadb.Client
	device *gadb.Device
}

// New connects to the adb server and looks up the device with the given
// serial. A serial of the form host:port is connected over TCP first.
func New(logger zerolog.Logger, serial string) (*Client, error) {
	adbClient, err := gadb.NewClient()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to adb server: %w", err)
	}

	c := &Client{
		logger: logger,
		serial: serial,
		adb:    adbClient,
	}
	if err := c.attach(); err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the target identity of the device.
func (c *Client) Name() string {
	return "adb:" + c.serial
}

// Run executes command through the device shell and returns its merged
// output and exit status. The adb protocol offers no cancellation: when
// ctx ends first, Run returns ctx.Err() and the shell call finishes in the
// background.
func (c *Client) Run(ctx context.Context, command string) (string, int, error) {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	wrapped := fmt.Sprintf("sh -c %s; echo %s$?", shellescape.Quote(command), exitMarker)

	c.logger.Debug().
		Str("serial", c.serial).
		Str("command", command).
		Msg("Running adb shell command")

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := device.RunShellCommand(wrapped)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", -1, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return r.out, -1, fmt.Errorf("adb shell on %s failed: %w", c.serial, r.err)
		}
		out, code, err := splitExitCode(r.out)
		return out, code, err
	}
}

// Ping checks that the device is in the online state.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	state, err := device.State()
	if err != nil {
		return fmt.Errorf("failed to get state of %s: %w", c.serial, err)
	}
	if state != gadb.StateOnline {
		return fmt.Errorf("device %s is %s", c.serial, state)
	}
	return nil
}

// Reconnect re-issues adb connect for TCP serials and looks the device up
// again.
func (c *Client) Reconnect(ctx context.Context) error {
	c.logger.Info().Str("serial", c.serial).Msg("Reconnecting adb device")

	if host, port, ok := tcpSerial(c.serial); ok {
		_ = c.adb.Disconnect(host, port)
	}
	return c.attach()
}

// Close disconnects TCP devices. USB devices need no teardown.
func (c *Client) Close() error {
	if host, port, ok := tcpSerial(c.serial); ok {
		return c.adb.Disconnect(host, port)
	}
	return nil
}

func (c *Client) attach() error {
	if host, port, ok := tcpSerial(c.serial); ok {
		if err := c.adb.Connect(host, port); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.serial, err)
		}
	}

	devices, err := c.adb.DeviceList()
	if err != nil {
		return fmt.Errorf("failed to get adb devices: %w", err)
	}
	for _, d := range devices {
		if d.Serial() == c.serial {
			device := d
			c.mu.Lock()
			c.device = &device
			c.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("adb device %q not found", c.serial)
}

// tcpSerial splits a host:port serial.
func tcpSerial(serial string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(serial)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

// splitExitCode strips the trailing exit marker line from out.
func splitExitCode(out string) (string, int, error) {
	idx := strings.LastIndex(out, exitMarker)
	if idx < 0 {
		return out, -1, fmt.Errorf("exit status missing from adb output")
	}
	code, err := strconv.Atoi(strings.TrimSpace(out[idx+len(exitMarker):]))
	if err != nil {
		return out[:idx], -1, fmt.Errorf("malformed exit status in adb output: %w", err)
	}
	return out[:idx], code, nil
}
