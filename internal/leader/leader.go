// Package leader wraps client-go leader election so exactly one replica
// runs the Backfill loop at a time, per spec.md §4.13. Monitor and Cleanup
// are intentionally not gated: every replica runs those, since a racing
// delete against an already-deleted pod is a harmless not-found.
package leader

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/sandboxpool/orchestrator/internal/metrics"
)

// NewIdentity builds the {host}-{random8} identity spec.md §4.13 requires:
// unique per replica, stable enough to be useful in logs.
func NewIdentity() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "replica"
	}
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s-00000000", host)
	}
	return fmt.Sprintf("%s-%s", host, hex.EncodeToString(b))
}

// Coordinator runs a single guarded function only while this replica holds
// the backfill lease.
type Coordinator struct {
	cs            kubernetes.Interface
	namespace     string
	leaseName     string
	identity      string
	leaseDuration time.Duration
	renewDeadline time.Duration
	retryPeriod   time.Duration
}

// New builds a Coordinator. identity must be unique per replica (pod name
// is the usual choice); leaseDuration is read from Pool Configuration so
// operators can tune it.
func New(cs kubernetes.Interface, namespace, identity string, leaseDuration time.Duration) *Coordinator {
	if leaseDuration <= 0 {
		leaseDuration = 15 * time.Second
	}
	return &Coordinator{
		cs:            cs,
		namespace:     namespace,
		leaseName:     "sandboxpool-backfill-leader",
		identity:      identity,
		leaseDuration: leaseDuration,
		renewDeadline: leaseDuration * 2 / 3,
		retryPeriod:   leaseDuration / 3,
	}
}

// Run blocks until ctx is cancelled, invoking onStartedLeading each time
// this replica acquires the lease and honoring its own context cancellation
// when leadership is lost.
func (co *Coordinator) Run(ctx context.Context, onStartedLeading func(context.Context)) {
	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      co.leaseName,
			Namespace: co.namespace,
		},
		Client: co.cs.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: co.identity,
		},
	}

	cfg := leaderelection.LeaderElectionConfig{
		Lock:            lock,
		ReleaseOnCancel: true,
		LeaseDuration:   co.leaseDuration,
		RenewDeadline:   co.renewDeadline,
		RetryPeriod:     co.retryPeriod,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(leadCtx context.Context) {
				slog.Info("leader: acquired backfill lease", "identity", co.identity)
				metrics.SetLeader(true)
				onStartedLeading(leadCtx)
			},
			OnStoppedLeading: func() {
				slog.Info("leader: lost backfill lease", "identity", co.identity)
				metrics.SetLeader(false)
			},
			OnNewLeader: func(identity string) {
				if identity != co.identity {
					slog.Info("leader: new backfill leader observed", "leader", identity)
				}
			},
		},
	}

	// RunOrDie returns once a leadership term ends; compete again until ctx
	// is cancelled.
	for {
		leaderelection.RunOrDie(ctx, cfg)
		if ctx.Err() != nil {
			return
		}
	}
}
