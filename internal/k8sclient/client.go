// Package k8sclient wraps kubernetes.Interface with the pod-shaped
// operations the pool engine, the on-demand creator, and the exec/terminal
// bridges need: create, get, list-by-selector, optimistic-concurrency
// replace, annotation-only patch, graceful delete, and an exec channel.
//
// This is the orchestrator client of spec.md §2 and §6. It owns no state of
// its own — every call is a direct round trip to the Kubernetes API.
package k8sclient

import (
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
)

// WorkloadContainerName is the name every pool-managed pod's primary
// container is given.
const WorkloadContainerName = "workload"

// Client is the orchestrator client consumed by the pool engine.
type Client struct {
	cs      kubernetes.Interface
	restCfg *rest.Config
}

// New wraps a kubernetes.Interface. restCfg may be nil; it is only required
// for Exec (the terminal bridge).
func New(cs kubernetes.Interface, restCfg *rest.Config) *Client {
	return &Client{cs: cs, restCfg: restCfg}
}

// IsConflict reports whether err is an optimistic-concurrency version
// conflict — the caller should pick a fresh candidate and retry.
func IsConflict(err error) bool { return apierrors.IsConflict(err) }

// IsNotFound reports whether err is a missing-resource error.
func IsNotFound(err error) bool { return apierrors.IsNotFound(err) }

// IsAlreadyExists reports whether err is a name-collision error.
func IsAlreadyExists(err error) bool { return apierrors.IsAlreadyExists(err) }

// List returns every pod in namespace matching selector.
func (c *Client) List(ctx context.Context, namespace, selector string) ([]corev1.Pod, error) {
	list, err := c.cs.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, fmt.Errorf("list pods %q: %w", selector, err)
	}
	return list.Items, nil
}

// Get fetches a single pod. Returns (nil, nil) if it does not exist.
func (c *Client) Get(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	pod, err := c.cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pod %s: %w", name, err)
	}
	return pod, nil
}

// Create submits a new pod.
func (c *Client) Create(ctx context.Context, namespace string, pod *corev1.Pod) (*corev1.Pod, error) {
	created, err := c.cs.CoreV1().Pods(namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Replace performs an optimistic-concurrency update: pod.ResourceVersion
// must carry the version read by the caller. A version conflict is returned
// unwrapped so IsConflict can classify it.
func (c *Client) Replace(ctx context.Context, namespace string, pod *corev1.Pod) (*corev1.Pod, error) {
	updated, err := c.cs.CoreV1().Pods(namespace).Update(ctx, pod, metav1.UpdateOptions{})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// PatchAnnotations applies a JSON-Patch that replaces (or adds) only the
// given annotations. Per spec.md §4.1, annotations are the only field this
// layer patches out-of-band of a full Replace.
func (c *Client) PatchAnnotations(ctx context.Context, namespace, name string, annotations map[string]string) error {
	type patchOp struct {
		Op    string      `json:"op"`
		Path  string      `json:"path"`
		Value interface{} `json:"value"`
	}
	var ops []patchOp
	pod, err := c.Get(ctx, namespace, name)
	if err != nil {
		return err
	}
	if pod == nil {
		return nil
	}
	if pod.Annotations == nil {
		ops = append(ops, patchOp{Op: "add", Path: "/metadata/annotations", Value: map[string]string{}})
	}
	for k, v := range annotations {
		ops = append(ops, patchOp{Op: "add", Path: "/metadata/annotations/" + jsonPointerEscape(k), Value: v})
	}
	body, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("marshal annotation patch: %w", err)
	}
	_, err = c.cs.CoreV1().Pods(namespace).Patch(ctx, name, types.JSONPatchType, body, metav1.PatchOptions{})
	return err
}

func jsonPointerEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '~':
			out = append(out, '~', '0')
		case '/':
			out = append(out, '~', '1')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// Delete removes a pod with the given grace period. Not-found is swallowed.
func (c *Client) Delete(ctx context.Context, namespace, name string, gracePeriodSeconds int64) error {
	err := c.cs.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{
		GracePeriodSeconds: &gracePeriodSeconds,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// ExecOptions configures a streaming exec session.
type ExecOptions struct {
	Namespace     string
	PodName       string
	Container     string
	Command       []string
	Stdin         bool
	Stdout        bool
	Stderr        bool
	TTY           bool
	IO            remotecommand.StreamOptions
	TerminalQueue remotecommand.TerminalSizeQueue
}

// Exec opens a streaming exec channel against a pod and blocks until it
// completes. Used exclusively by the terminal bridge (spec.md §4.12); the
// exec/MCP bridges talk HTTP directly to the workload's own ports instead.
func (c *Client) Exec(ctx context.Context, opts ExecOptions) error {
	if c.restCfg == nil {
		return fmt.Errorf("k8sclient: no rest.Config configured, exec unavailable")
	}
	req := c.cs.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(opts.PodName).
		Namespace(opts.Namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: opts.Container,
		Command:   opts.Command,
		Stdin:     opts.Stdin,
		Stdout:    opts.Stdout,
		Stderr:    opts.Stderr,
		TTY:       opts.TTY,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(c.restCfg, "POST", req.URL())
	if err != nil {
		return fmt.Errorf("build exec executor: %w", err)
	}
	io := opts.IO
	io.Tty = opts.TTY
	io.TerminalSizeQueue = opts.TerminalQueue
	return exec.StreamWithContext(ctx, io)
}
