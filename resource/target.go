package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/transport/adb"
	"github.com/perfgo/perfshard/transport/k8s"
	"github.com/perfgo/perfshard/transport/ssh"
)

// Target kinds accepted by ParseTarget.
const (
	KindSSH = "ssh"
	KindADB = "adb"
	KindK8s = "k8s"
)

// Target is a parsed device address.
type Target struct {
	Kind string
	// Address is the host for ssh and the serial for adb.
	Address string
	// Kubernetes coordinates for k8s targets.
	KubeContext string
	Namespace   string
	Pod         string
}

// String returns the canonical identity of the target.
func (t Target) String() string {
	switch t.Kind {
	case KindK8s:
		if t.KubeContext != "" {
			return fmt.Sprintf("k8s:%s/%s/%s", t.KubeContext, t.Namespace, t.Pod)
		}
		return fmt.Sprintf("k8s:%s/%s", t.Namespace, t.Pod)
	default:
		return t.Kind + ":" + t.Address
	}
}

// ParseTarget parses "ssh:user@host", "adb:serial" or
// "k8s:[context/]namespace/pod".
func ParseTarget(s string) (Target, error) {
	kind, addr, ok := strings.Cut(s, ":")
	if !ok || addr == "" {
		return Target{}, fmt.Errorf("invalid target %q, expected kind:address", s)
	}

	switch kind {
	case KindSSH, KindADB:
		return Target{Kind: kind, Address: addr}, nil
	case KindK8s:
		parts := strings.Split(addr, "/")
		switch len(parts) {
		case 2:
			return Target{Kind: kind, Address: addr, Namespace: parts[0], Pod: parts[1]}, nil
		case 3:
			return Target{Kind: kind, Address: addr, KubeContext: parts[0], Namespace: parts[1], Pod: parts[2]}, nil
		}
		return Target{}, fmt.Errorf("invalid k8s target %q, expected [context/]namespace/pod", s)
	default:
		return Target{}, fmt.Errorf("unknown target kind %q in %q", kind, s)
	}
}

// Options configure the resources built by Open.
type Options struct {
	Logger zerolog.Logger
	// IdentityFile and KnownHostsFile are passed to ssh.
	IdentityFile   string
	KnownHostsFile string
	// ProxyCommand and SSHOptions ("Key=Value") are passed to ssh as -o
	// options.
	ProxyCommand string
	SSHOptions   []string
	// KubeContext is used for k8s targets that name none.
	KubeContext string
	// Container selects the container of k8s targets.
	Container string
	// ScratchRoot is the local scratch root; workers use subdirectories.
	ScratchRoot string
	// DeviceScratchRoot is the scratch root on remote devices.
	DeviceScratchRoot string
	// MinFreeBytes is the free space local workers require.
	MinFreeBytes uint64
}

// Open builds one resource per target plus the requested number of local
// workers. Connections are established lazily by the first health probe.
func Open(targets []string, workers int, opts Options) ([]Resource, error) {
	var resources []Resource
	seen := map[string]bool{}

	for _, s := range targets {
		t, err := ParseTarget(s)
		if err != nil {
			return nil, err
		}
		if seen[t.String()] {
			return nil, fmt.Errorf("target %s listed twice", t)
		}
		seen[t.String()] = true
		resources = append(resources, newDevice(t, opts))
	}

	if workers > 0 {
		root := opts.ScratchRoot
		if root == "" {
			root = filepath.Join(os.TempDir(), "perfshard")
		}
		root, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve scratch root: %w", err)
		}
		for i := 0; i < workers; i++ {
			var lopts []LocalOption
			if opts.MinFreeBytes > 0 {
				lopts = append(lopts, WithMinFreeBytes(opts.MinFreeBytes))
			}
			dir := filepath.Join(root, fmt.Sprintf("worker-%d", i))
			resources = append(resources, NewLocalWorker(opts.Logger, i, dir, lopts...))
		}
	}

	return resources, nil
}

func newDevice(t Target, opts Options) *Device {
	var dial Dialer
	var devOpts []DeviceOption

	switch t.Kind {
	case KindSSH:
		dial = func(ctx context.Context) (Transport, error) {
			return ssh.New(ctx, opts.Logger, t.Address, sshOptions(opts)...)
		}
	case KindADB:
		dial = func(ctx context.Context) (Transport, error) {
			return adb.New(opts.Logger, t.Address)
		}
		devOpts = append(devOpts, WithScratchRoot("/data/local/tmp/perfshard"))
	case KindK8s:
		kubeContext := t.KubeContext
		if kubeContext == "" {
			kubeContext = opts.KubeContext
		}
		client := k8s.New(kubeContext, t.Namespace)
		dial = func(ctx context.Context) (Transport, error) {
			return k8s.NewPodTransport(opts.Logger, client, t.Pod, opts.Container), nil
		}
	}

	if opts.DeviceScratchRoot != "" {
		devOpts = append(devOpts, WithScratchRoot(opts.DeviceScratchRoot))
	}
	return NewDevice(opts.Logger, t.String(), dial, devOpts...)
}

// sshOptions translates the ssh related options for ssh.New.
func sshOptions(opts Options) []ssh.SSHOption {
	var sshOpts []ssh.SSHOption
	if opts.IdentityFile != "" {
		sshOpts = append(sshOpts, ssh.WithIdentityFile(opts.IdentityFile))
	}
	if opts.KnownHostsFile != "" {
		sshOpts = append(sshOpts, ssh.WithKnownHostsFile(opts.KnownHostsFile))
	}
	if opts.ProxyCommand != "" {
		sshOpts = append(sshOpts, ssh.WithProxyCommand(opts.ProxyCommand))
	}
	if len(opts.SSHOptions) > 0 {
		sshOpts = append(sshOpts, ssh.WithExtraOptions(opts.SSHOptions...))
	}
	return sshOpts
}
