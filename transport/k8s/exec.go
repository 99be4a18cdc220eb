package k8s

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/perfgo/perfshard/transport"
)

// PodTransport runs test commands inside a pod with kubectl exec.
type PodTransport struct {
	logger    zerolog.Logger
	client    *Client
	pod       string
	container string
}

// NewPodTransport returns a transport for the named pod. An empty
// container selects the pod's default container.
func NewPodTransport(logger zerolog.Logger, client *Client, pod, container string) *PodTransport {
	return &PodTransport{
		logger:    logger,
		client:    client,
		pod:       pod,
		container: container,
	}
}

// Name returns the target identity of the pod.
func (t *PodTransport) Name() string {
	if t.client.Context() != "" {
		return fmt.Sprintf("k8s:%s/%s/%s", t.client.Context(), t.client.Namespace(), t.pod)
	}
	return fmt.Sprintf("k8s:%s/%s", t.client.Namespace(), t.pod)
}

// Run executes command through sh in the pod. kubectl exec propagates the
// exit status of the remote command.
func (t *PodTransport) Run(ctx context.Context, command string) (string, int, error) {
	t.logger.Debug().
		Str("pod", t.pod).
		Str("command", command).
		Msg("Running command in pod")

	return transport.Run(ctx, transport.Command(ctx, "kubectl", t.execArgs(command)...))
}

func (t *PodTransport) execArgs(command string) []string {
	args := []string{"exec", t.pod}
	if t.container != "" {
		args = append(args, "-c", t.container)
	}
	args = append(args, "--", "sh", "-c", command)
	return t.client.args(args...)
}

// Ping checks that the pod is running with all containers ready.
func (t *PodTransport) Ping(ctx context.Context) error {
	pod, err := t.client.GetPod(ctx, t.pod)
	if err != nil {
		return err
	}
	if !pod.Ready() {
		return fmt.Errorf("pod %s is not ready (phase %s)", t.pod, pod.Status.Phase)
	}
	return nil
}

// Reconnect reports whether the pod is ready again. kubectl keeps no
// session to re-establish.
func (t *PodTransport) Reconnect(ctx context.Context) error {
	return t.Ping(ctx)
}

// Close is a no-op.
func (t *PodTransport) Close() error {
	return nil
}
