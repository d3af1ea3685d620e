package poolengine

import (
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/sandboxpool/orchestrator/internal/k8sclient"
	"github.com/sandboxpool/orchestrator/internal/poolconfig"
)

func readyCondition() corev1.PodCondition {
	return corev1.PodCondition{Type: corev1.PodReady, Status: corev1.ConditionTrue}
}

func testConfig() *poolconfig.Config {
	return &poolconfig.Config{
		Namespace:         "sandboxes",
		NamePrefix:        "sbx",
		MaxTotalWorkloads: 10,
		RuntimeClass:      "kata-qemu",
		Sandbox: poolconfig.TypeConfig{
			Target:     3,
			Image:      "sandbox-runtime:test",
			CPURequest: "250m",
			CPULimit:   "1",
			MemRequest: "512Mi",
			MemLimit:   "1Gi",
		},
		MCP: poolconfig.TypeConfig{
			Target:     0,
			Image:      "mcp-bridge-runtime:test",
			CPURequest: "100m",
			CPULimit:   "500m",
			MemRequest: "256Mi",
			MemLimit:   "512Mi",
		},
		IdleTimeout:      30 * time.Minute,
		MaxLifetime:      8 * time.Hour,
		BackfillInterval: 5 * time.Second,
		MonitorInterval:  15 * time.Second,
		CleanupInterval:  60 * time.Second,
		PodReadyTimeout:  75 * time.Second,
	}
}

func newTestEngine() *Engine {
	cs := fake.NewSimpleClientset()
	k8s := k8sclient.New(cs, nil)
	return New(k8s, testConfig(), "replica-test")
}
