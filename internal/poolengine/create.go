package poolengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/labels"
	"github.com/sandboxpool/orchestrator/internal/poolconfig"
)

func intstrFromInt(i int32) intstr.IntOrString { return intstr.FromInt32(i) }

func shortUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func workloadName(prefix string, warm bool) string {
	if warm {
		return fmt.Sprintf("%s-warm-%s", prefix, shortUUID())
	}
	return fmt.Sprintf("%s-%s", prefix, shortUUID())
}

// CreateWarm composes and submits a new warm workload of the given
// container type, per spec.md §4.4. Name collisions are logged and
// swallowed — the next Backfill tick regenerates. On success it spawns a
// cooperative readiness watcher that promotes the workload to warm once it
// is ready.
func (e *Engine) CreateWarm(ctx context.Context, ct labels.ContainerType) {
	name := workloadName(e.cfg.NamePrefix, true)
	pod := e.buildPod(name, ct, labels.StatusCreating, "")

	created, err := e.k8s.Create(ctx, e.cfg.Namespace, pod)
	if err != nil {
		if k8sclient.IsAlreadyExists(err) {
			slog.Warn("poolengine: warm workload name collision, skipping", "name", name)
			return
		}
		slog.Error("poolengine: create warm workload failed", "name", name, "container_type", ct, "err", err)
		return
	}

	slog.Info("poolengine: warm workload created", "name", created.Name, "container_type", ct)
	go e.watchReadiness(ctx, created.Name)
}

// CreateManual composes and submits an on-demand workload with
// pool-status=manual: never counted toward warm-pool targets, but it does
// count against the global cap. allocatedTo, when non-empty, pins the
// workload to a user immediately (used by create_on_demand).
func (e *Engine) CreateManual(ctx context.Context, ct labels.ContainerType, allocatedTo string) (*corev1.Pod, error) {
	name := workloadName(e.cfg.NamePrefix, false)
	pod := e.buildPod(name, ct, labels.StatusManual, allocatedTo)
	created, err := e.k8s.Create(ctx, e.cfg.Namespace, pod)
	if err != nil {
		return nil, fmt.Errorf("create manual workload: %w", err)
	}
	return created, nil
}

func (e *Engine) buildPod(name string, ct labels.ContainerType, status labels.PoolStatus, allocatedTo string) *corev1.Pod {
	tc := e.typeConfig(ct)
	now := labels.NowString()

	lbls := labels.RenderPoolLabels(ct, status, e.managerID)
	if allocatedTo != "" {
		lbls[labels.KeyAllocatedTo] = allocatedTo
	}
	annotations := map[string]string{
		labels.KeyCreatedAt:    now,
		labels.KeyLastActivity: now,
	}
	if allocatedTo != "" {
		annotations[labels.KeyAllocatedAt] = now
	}

	workloadContainer := corev1.Container{
		Name:      k8sclient.WorkloadContainerName,
		Image:     tc.Image,
		Stdin:     true,
		TTY:       true,
		Resources: resourceRequirements(tc),
	}

	spec := corev1.PodSpec{
		RuntimeClassName: &e.cfg.RuntimeClass,
		RestartPolicy:    corev1.RestartPolicyNever,
		Containers:       []corev1.Container{workloadContainer},
	}

	if ct == labels.ContainerSandbox && e.cfg.AuthProxy.Enabled {
		e.attachAuthProxy(&spec)
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   e.cfg.Namespace,
			Labels:      lbls,
			Annotations: annotations,
		},
		Spec: spec,
	}
}

func resourceRequirements(tc poolconfig.TypeConfig) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(tc.CPURequest),
			corev1.ResourceMemory: resource.MustParse(tc.MemRequest),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(tc.CPULimit),
			corev1.ResourceMemory: resource.MustParse(tc.MemLimit),
		},
	}
}

// attachAuthProxy mounts the auth-proxy sidecar described in spec.md §4.4
// step 3: a sidecar container on the configured image, two projected
// volumes sourced from the CA secret (public-only for the workload,
// public+private for the proxy), HTTP_PROXY/HTTPS_PROXY/NO_PROXY and
// NODE_EXTRA_CA_CERTS injected into the workload container, and a
// TCP-HTTP readiness probe on the sidecar's health port.
func (e *Engine) attachAuthProxy(spec *corev1.PodSpec) {
	const (
		publicCAVolume     = "proxy-ca-public"
		publicPrivateVolume = "proxy-ca-bundle"
		publicCAPath       = "/etc/sandbox-proxy/ca-public"
		bundlePath         = "/etc/sandbox-proxy/ca-bundle"
	)

	spec.Volumes = append(spec.Volumes,
		corev1.Volume{
			Name: publicCAVolume,
			VolumeSource: corev1.VolumeSource{
				Projected: &corev1.ProjectedVolumeSource{
					Sources: []corev1.VolumeProjection{{
						Secret: &corev1.SecretProjection{
							LocalObjectReference: corev1.LocalObjectReference{Name: e.cfg.AuthProxy.CASecret},
							Items: []corev1.KeyToPath{{Key: "ca.crt", Path: "ca.crt"}},
						},
					}},
				},
			},
		},
		corev1.Volume{
			Name: publicPrivateVolume,
			VolumeSource: corev1.VolumeSource{
				Projected: &corev1.ProjectedVolumeSource{
					Sources: []corev1.VolumeProjection{{
						Secret: &corev1.SecretProjection{
							LocalObjectReference: corev1.LocalObjectReference{Name: e.cfg.AuthProxy.CASecret},
						},
					}},
				},
			},
		},
	)

	spec.Containers[0].VolumeMounts = append(spec.Containers[0].VolumeMounts, corev1.VolumeMount{
		Name:      publicCAVolume,
		MountPath: publicCAPath,
		ReadOnly:  true,
	})
	spec.Containers[0].Env = append(spec.Containers[0].Env,
		corev1.EnvVar{Name: "HTTP_PROXY", Value: "http://127.0.0.1:3128"},
		corev1.EnvVar{Name: "HTTPS_PROXY", Value: "http://127.0.0.1:3128"},
		corev1.EnvVar{Name: "NO_PROXY", Value: "localhost,127.0.0.1"},
		corev1.EnvVar{Name: "NODE_EXTRA_CA_CERTS", Value: publicCAPath + "/ca.crt"},
	)

	healthPort := int32(e.cfg.AuthProxy.HealthPort)
	spec.Containers = append(spec.Containers, corev1.Container{
		Name:  "auth-proxy",
		Image: e.cfg.AuthProxy.Image,
		VolumeMounts: []corev1.VolumeMount{
			{Name: publicPrivateVolume, MountPath: bundlePath, ReadOnly: true},
		},
		Ports: []corev1.ContainerPort{{Name: "health", ContainerPort: healthPort}},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstrFromInt(healthPort)},
			},
			InitialDelaySeconds: 2,
			PeriodSeconds:       5,
		},
	})
}
