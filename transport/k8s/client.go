// Package k8s provides a kubectl based transport that treats a running pod
// as a test device.
package k8s

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// Client manages kubectl commands for a specific Kubernetes context and namespace.
type Client struct {
	kubeContext string
	namespace   string
}

// Pod is the part of a kubectl pod object the transport looks at.
type Pod struct {
	Metadata struct {
		Name string `json:"name"`
	} `json:"metadata"`
	Status struct {
		Phase             string            `json:"phase"`
		ContainerStatuses []ContainerStatus `json:"containerStatuses,omitempty"`
	} `json:"status"`
}

// ContainerStatus is the readiness of one container.
type ContainerStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

// Ready reports whether the pod is running with every container ready.
func (p *Pod) Ready() bool {
	if p.Status.Phase != "Running" || len(p.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range p.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// New creates a new Kubernetes client for the specified context and namespace.
// If kubeContext is empty, the current context will be used.
// If namespace is empty, the default namespace will be used.
func New(kubeContext, namespace string) *Client {
	return &Client{
		kubeContext: kubeContext,
		namespace:   namespace,
	}
}

// GetPod retrieves one pod in the configured namespace.
func (c *Client) GetPod(ctx context.Context, name string) (*Pod, error) {
	output, err := c.runKubectl(ctx, c.args("get", "pod", name, "-o", "json")...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pod %s: %w", name, err)
	}

	var pod Pod
	if err := json.Unmarshal([]byte(output), &pod); err != nil {
		return nil, fmt.Errorf("failed to parse pod response: %w", err)
	}

	return &pod, nil
}

// Context returns the Kubernetes context this client is configured for.
func (c *Client) Context() string {
	return c.kubeContext
}

// Namespace returns the namespace this client is configured for.
func (c *Client) Namespace() string {
	return c.namespace
}

// args prefixes kubectl arguments with the configured context and
// namespace.
func (c *Client) args(args ...string) []string {
	var out []string
	if c.kubeContext != "" {
		out = append(out, "--context", c.kubeContext)
	}
	if c.namespace != "" {
		out = append(out, "-n", c.namespace)
	}
	return append(out, args...)
}

// runKubectl executes a kubectl command with the given arguments.
func (c *Client) runKubectl(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "kubectl", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("kubectl command failed: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.String(), nil
}
