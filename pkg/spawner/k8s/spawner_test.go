package k8s

import (
	"context"
	"testing"

	"workbench/pkg/config"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

type fakeStore struct {
	saved int
}

func (s *fakeStore) Get(ctx context.Context, id string) (*model.Server, error) { return nil, nil }

func (s *fakeStore) SaveConfig(ctx context.Context, server *model.Server) error {
	s.saved++
	return nil
}

func (s *fakeStore) CompareAndSwapTaskDefinition(ctx context.Context, serverID, arn string) (bool, error) {
	return true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Spawner: config.SpawnerConfig{
			Provider:    "k8s",
			ResourceDir: "/resources",
			K8s: config.K8sConfig{
				Namespace: "workbench",
			},
		},
	}
}

func testServer() *model.Server {
	return &model.Server{
		ID:         "srv-1",
		Image:      "jupyter/base",
		VolumePath: "/tmp/user-1/proj-1",
		ServerSize: &model.ServerSize{
			Name:   "Nano",
			CPU:    1,
			Memory: 512,
		},
	}
}

func TestStart_CreatesSingleReplicaDeployment(t *testing.T) {
	client := fake.NewSimpleClientset()
	store := &fakeStore{}
	server := testServer()
	sp := NewWithClient(client, testConfig(), store)
	ctx := context.Background()

	require.NoError(t, sp.Start(ctx, server))

	deployment, err := client.AppsV1().Deployments("workbench").Get(ctx, "userspace-srv-1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *deployment.Spec.Replicas)
	assert.Equal(t, "jupyter/base", deployment.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, "userspace-srv-1", server.Config.GetString(model.ConfigDeploymentName))
	assert.Equal(t, 1, store.saved)

	limits := deployment.Spec.Template.Spec.Containers[0].Resources.Limits
	assert.Equal(t, "512Mi", limits.Memory().String())
	assert.Equal(t, "1", limits.Cpu().String())
}

func TestStart_RestartScalesExistingDeployment(t *testing.T) {
	client := fake.NewSimpleClientset()
	server := testServer()
	sp := NewWithClient(client, testConfig(), &fakeStore{})
	ctx := context.Background()

	require.NoError(t, sp.Start(ctx, server))
	require.NoError(t, sp.Stop(ctx, server))
	require.NoError(t, sp.Start(ctx, server))

	deployment, err := client.AppsV1().Deployments("workbench").Get(ctx, "userspace-srv-1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *deployment.Spec.Replicas)
}

func TestStop_ScalesToZeroAndKeepsSpec(t *testing.T) {
	client := fake.NewSimpleClientset()
	server := testServer()
	sp := NewWithClient(client, testConfig(), &fakeStore{})
	ctx := context.Background()

	require.NoError(t, sp.Start(ctx, server))
	require.NoError(t, sp.Stop(ctx, server))

	deployment, err := client.AppsV1().Deployments("workbench").Get(ctx, "userspace-srv-1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(0), *deployment.Spec.Replicas)
}

func TestStop_NeverStartedIsNoop(t *testing.T) {
	sp := NewWithClient(fake.NewSimpleClientset(), testConfig(), &fakeStore{})
	assert.NoError(t, sp.Stop(context.Background(), testServer()))
}

func TestTerminate_DeletesDeployment(t *testing.T) {
	client := fake.NewSimpleClientset()
	server := testServer()
	sp := NewWithClient(client, testConfig(), &fakeStore{})
	ctx := context.Background()

	require.NoError(t, sp.Start(ctx, server))
	require.NoError(t, sp.Terminate(ctx, server))

	_, err := client.AppsV1().Deployments("workbench").Get(ctx, "userspace-srv-1", metav1.GetOptions{})
	assert.Error(t, err)

	// Terminate again is a no-op
	assert.NoError(t, sp.Terminate(ctx, server))
}

func TestStatus(t *testing.T) {
	client := fake.NewSimpleClientset()
	server := testServer()
	sp := NewWithClient(client, testConfig(), &fakeStore{})
	ctx := context.Background()

	// Missing deployment
	assert.Equal(t, spawner.StatusStopped, sp.Status(ctx, server))

	require.NoError(t, sp.Start(ctx, server))
	// Desired 1, none ready yet
	assert.Equal(t, spawner.StatusPending, sp.Status(ctx, server))

	deployment, err := client.AppsV1().Deployments("workbench").Get(ctx, "userspace-srv-1", metav1.GetOptions{})
	require.NoError(t, err)
	deployment.Status.ReadyReplicas = 1
	_, err = client.AppsV1().Deployments("workbench").Update(ctx, deployment, metav1.UpdateOptions{})
	require.NoError(t, err)
	assert.Equal(t, spawner.StatusRunning, sp.Status(ctx, server))

	require.NoError(t, sp.Stop(ctx, server))
	assert.Equal(t, spawner.StatusStopped, sp.Status(ctx, server))
}
