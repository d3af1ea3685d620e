package k8sclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testPod(name string, labels map[string]string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "sandboxes", Labels: labels},
	}
}

func TestCreateAndGet_RoundTrips(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	ctx := context.Background()

	_, err := c.Create(ctx, "sandboxes", testPod("sbx-1", nil))
	require.NoError(t, err)

	got, err := c.Get(ctx, "sandboxes", "sbx-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sbx-1", got.Name)
}

func TestGet_MissingPodReturnsNilNilNotError(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	got, err := c.Get(context.Background(), "sandboxes", "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestList_FiltersBySelector(t *testing.T) {
	c := New(fake.NewSimpleClientset(
		testPod("sbx-1", map[string]string{"pool.status": "warm"}),
		testPod("sbx-2", map[string]string{"pool.status": "allocated"}),
	), nil)

	pods, err := c.List(context.Background(), "sandboxes", "pool.status=warm")
	require.NoError(t, err)
	require.Len(t, pods, 1)
	assert.Equal(t, "sbx-1", pods[0].Name)
}

func TestReplace_SucceedsWithMatchingResourceVersion(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	ctx := context.Background()

	created, err := c.Create(ctx, "sandboxes", testPod("sbx-1", nil))
	require.NoError(t, err)

	created.Labels = map[string]string{"pool.status": "warm"}
	updated, err := c.Replace(ctx, "sandboxes", created)
	require.NoError(t, err)
	assert.Equal(t, "warm", updated.Labels["pool.status"])
}

func TestPatchAnnotations_AddsAnnotationsWithoutTouchingLabels(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	ctx := context.Background()

	_, err := c.Create(ctx, "sandboxes", testPod("sbx-1", map[string]string{"pool.status": "warm"}))
	require.NoError(t, err)

	err = c.PatchAnnotations(ctx, "sandboxes", "sbx-1", map[string]string{
		"sandboxpool.io/last-activity": "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)

	got, err := c.Get(ctx, "sandboxes", "sbx-1")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.Annotations["sandboxpool.io/last-activity"])
	assert.Equal(t, "warm", got.Labels["pool.status"])
}

func TestPatchAnnotations_NoopWhenPodMissing(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	err := c.PatchAnnotations(context.Background(), "sandboxes", "ghost", map[string]string{"k": "v"})
	assert.NoError(t, err)
}

func TestDelete_RemovesPodAndSwallowsNotFound(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	ctx := context.Background()

	_, err := c.Create(ctx, "sandboxes", testPod("sbx-1", nil))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "sandboxes", "sbx-1", 0))

	got, err := c.Get(ctx, "sandboxes", "sbx-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, c.Delete(ctx, "sandboxes", "sbx-1", 0))
}

func TestExec_FailsWithoutRestConfig(t *testing.T) {
	c := New(fake.NewSimpleClientset(), nil)
	err := c.Exec(context.Background(), ExecOptions{Namespace: "sandboxes", PodName: "sbx-1"})
	assert.Error(t, err)
}
