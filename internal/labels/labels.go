// Package labels is the label/annotation codec shared by every component
// that reads or writes Workload state on the orchestrator. Pool state is
// kept in labels (so it is selectable); timestamps live in annotations (so
// updates never invalidate a watch index).
package labels

import (
	"fmt"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Label keys.
const (
	KeyPoolStatus    = "pool-status"
	KeyContainerType = "container-type"
	KeyAllocatedTo   = "allocated-to"
	KeyManagerID     = "manager-id"
)

// Annotation keys.
const (
	KeyCreatedAt     = "created-at"
	KeyAllocatedAt   = "allocated-at"
	KeyLastActivity  = "last-activity"
	KeyLaunchCommand = "mcp-launch-command"
)

// PoolStatus is the lifecycle label value of a Workload.
type PoolStatus string

const (
	StatusCreating  PoolStatus = "creating"
	StatusWarm      PoolStatus = "warm"
	StatusAllocated PoolStatus = "allocated"
	StatusManual    PoolStatus = "manual"
)

// ContainerType selects the workload flavor.
type ContainerType string

const (
	ContainerSandbox   ContainerType = "sandbox"
	ContainerMCPServer ContainerType = "mcp-server"
)

// Workload is the decoded view of a pod on the orchestrator.
type Workload struct {
	Name            string          `json:"name"`
	Namespace       string          `json:"namespace"`
	ContainerType   ContainerType   `json:"container_type"`
	PoolStatus      PoolStatus      `json:"pool_status"`
	AllocatedTo     string          `json:"allocated_to,omitempty"`
	Phase           corev1.PodPhase `json:"phase"`
	Ready           bool            `json:"ready"`
	CreatedAt       time.Time       `json:"created_at,omitempty"`
	AllocatedAt     time.Time       `json:"allocated_at,omitempty"`
	LastActivity    time.Time       `json:"last_activity,omitempty"`
	LaunchCommand   string          `json:"launch_command,omitempty"`
	ManagerID       string          `json:"manager_id,omitempty"`
	RuntimeClass    string          `json:"runtime_class,omitempty"`
	Image           string          `json:"image,omitempty"`
	PodIP           string          `json:"pod_ip,omitempty"`
	ResourceVersion string          `json:"resource_version,omitempty"`
}

// Decode builds a Workload view from a pod's labels, annotations, and status.
func Decode(pod *corev1.Pod) Workload {
	w := Workload{
		Name:            pod.Name,
		Namespace:       pod.Namespace,
		ContainerType:   ContainerType(pod.Labels[KeyContainerType]),
		PoolStatus:      PoolStatus(pod.Labels[KeyPoolStatus]),
		AllocatedTo:     pod.Labels[KeyAllocatedTo],
		ManagerID:       pod.Labels[KeyManagerID],
		Phase:           pod.Status.Phase,
		PodIP:           pod.Status.PodIP,
		ResourceVersion: pod.ResourceVersion,
	}
	if pod.Spec.RuntimeClassName != nil {
		w.RuntimeClass = *pod.Spec.RuntimeClassName
	}
	if len(pod.Spec.Containers) > 0 {
		w.Image = pod.Spec.Containers[0].Image
	}
	if ts, ok := ParseTimestamp(pod.Annotations[KeyCreatedAt]); ok {
		w.CreatedAt = ts
	}
	if ts, ok := ParseTimestamp(pod.Annotations[KeyAllocatedAt]); ok {
		w.AllocatedAt = ts
	}
	if ts, ok := ParseTimestamp(pod.Annotations[KeyLastActivity]); ok {
		w.LastActivity = ts
	}
	w.LaunchCommand = pod.Annotations[KeyLaunchCommand]
	w.Ready = isPodReady(pod)
	return w
}

func isPodReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

// RenderPoolLabels builds the canonical label set for a freshly created
// workload of the given type and pool status.
func RenderPoolLabels(containerType ContainerType, status PoolStatus, managerID string) map[string]string {
	return map[string]string{
		KeyContainerType: string(containerType),
		KeyPoolStatus:    string(status),
		KeyManagerID:     managerID,
	}
}

// SelectorPool builds a label selector matching a pool status and container type.
func SelectorPool(containerType ContainerType, status PoolStatus) string {
	return fmt.Sprintf("%s=%s,%s=%s", KeyContainerType, containerType, KeyPoolStatus, status)
}

// SelectorPoolStatuses builds a selector matching a container type and any of the given statuses.
func SelectorPoolStatuses(containerType ContainerType, statuses ...PoolStatus) string {
	sel := fmt.Sprintf("%s=%s", KeyContainerType, containerType)
	if len(statuses) == 0 {
		return sel
	}
	in := "("
	for i, s := range statuses {
		if i > 0 {
			in += ","
		}
		in += string(s)
	}
	in += ")"
	return fmt.Sprintf("%s,%s in %s", sel, KeyPoolStatus, in)
}

// SelectorAllocatedTo builds a selector matching workloads allocated to a user.
func SelectorAllocatedTo(userID string) string {
	return fmt.Sprintf("%s=%s", KeyAllocatedTo, userID)
}

// SelectorManager builds a selector matching workloads created by a given replica.
func SelectorManager(managerID string) string {
	return fmt.Sprintf("%s=%s", KeyManagerID, managerID)
}

// NowString renders the current instant as the Unix-seconds decimal string
// used for all timestamp annotations.
func NowString() string {
	return TimestampString(time.Now())
}

// TimestampString renders an instant as the Unix-seconds decimal string
// used for all timestamp annotations.
func TimestampString(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// ParseTimestamp parses a Unix-seconds decimal string annotation. The second
// return value is false if the string is empty or malformed.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}
