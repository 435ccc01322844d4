package k8s

import (
	"context"
	"fmt"

	"workbench/pkg/config"
	"workbench/pkg/logger"
	"workbench/pkg/spawner"
	"workbench/pkg/store/mysql/model"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "workbench"
	serverIDLabel  = "workbench/server-id"
)

// Spawner runs each server as a single-replica Deployment. Stop scales to
// zero so the pod spec survives for a quick restart; Terminate deletes the
// Deployment.
type Spawner struct {
	client    kubernetes.Interface
	store     spawner.ConfigStore
	namespace string
	cfg       *config.SpawnerConfig
}

// New creates a K8s spawner. In-cluster config is preferred; outside a
// cluster the standard kubeconfig loading rules apply.
func New(cfg *config.Config, store spawner.ConfigStore) (spawner.Spawner, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
		if cfg.Spawner.K8s.Kubeconfig != "" {
			loadingRules.ExplicitPath = cfg.Spawner.K8s.Kubeconfig
		}
		kubeConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, &clientcmd.ConfigOverrides{})
		restCfg, err = kubeConfig.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s client: %w", err)
	}
	return NewWithClient(client, cfg, store), nil
}

// NewWithClient creates a K8s spawner around an existing clientset
func NewWithClient(client kubernetes.Interface, cfg *config.Config, store spawner.ConfigStore) *Spawner {
	return &Spawner{
		client:    client,
		store:     store,
		namespace: cfg.Spawner.K8s.Namespace,
		cfg:       &cfg.Spawner,
	}
}

func deploymentName(server *model.Server) string {
	return "userspace-" + server.ID
}

// Start creates the Deployment, or scales an existing one back to a single
// replica when the server was stopped earlier.
func (s *Spawner) Start(ctx context.Context, server *model.Server) error {
	logger.InfoCtx(ctx, "starting server %s", server.ID)

	name := deploymentName(server)
	deployments := s.client.AppsV1().Deployments(s.namespace)

	existing, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		existing.Spec.Replicas = int32Ptr(1)
		if _, err := deployments.Update(ctx, existing, metav1.UpdateOptions{}); err != nil {
			return spawner.WrapErr("scale deployment", err)
		}
		return nil
	}
	if !apierrors.IsNotFound(err) {
		return spawner.WrapErr("get deployment", err)
	}

	deployment, err := s.buildDeployment(server)
	if err != nil {
		return err
	}
	if _, err := deployments.Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		return spawner.WrapErr("create deployment", err)
	}

	server.SetConfig(model.ConfigDeploymentName, name)
	return s.store.SaveConfig(ctx, server)
}

// Stop scales the Deployment to zero replicas, keeping the spec around.
func (s *Spawner) Stop(ctx context.Context, server *model.Server) error {
	name := deploymentName(server)
	deployments := s.client.AppsV1().Deployments(s.namespace)

	existing, err := deployments.Get(ctx, name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return spawner.WrapErr("get deployment", err)
	}
	existing.Spec.Replicas = int32Ptr(0)
	_, err = deployments.Update(ctx, existing, metav1.UpdateOptions{})
	return spawner.WrapErr("scale deployment", err)
}

// Terminate deletes the Deployment. Irreversible.
func (s *Spawner) Terminate(ctx context.Context, server *model.Server) error {
	err := s.client.AppsV1().Deployments(s.namespace).Delete(ctx, deploymentName(server), metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return spawner.WrapErr("delete deployment", err)
}

// Status derives the lifecycle state from replica readiness. A missing
// Deployment is Stopped; any other API failure is Error.
func (s *Spawner) Status(ctx context.Context, server *model.Server) spawner.Status {
	deployment, err := s.client.AppsV1().Deployments(s.namespace).Get(ctx, deploymentName(server), metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return spawner.StatusStopped
	}
	if err != nil {
		logger.ErrorCtx(ctx, "error getting server %s status: %v", server.ID, err)
		return spawner.StatusError
	}
	desired := int32(0)
	if deployment.Spec.Replicas != nil {
		desired = *deployment.Spec.Replicas
	}
	if desired == 0 {
		return spawner.StatusStopped
	}
	if deployment.Status.ReadyReplicas >= desired {
		return spawner.StatusRunning
	}
	return spawner.StatusPending
}

func (s *Spawner) buildDeployment(server *model.Server) (*appsv1.Deployment, error) {
	if server.ServerSize == nil {
		return nil, fmt.Errorf("server %s has no size tier loaded", server.ID)
	}

	name := deploymentName(server)
	labels := map[string]string{
		managedByLabel: managedByValue,
		serverIDLabel:  server.ID,
	}

	container := corev1.Container{
		Name:  "userspace",
		Image: server.Image,
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(fmt.Sprintf("%d", server.ServerSize.CPU)),
				corev1.ResourceMemory: resource.MustParse(fmt.Sprintf("%dMi", server.ServerSize.Memory)),
			},
		},
		Env: containerEnv(server),
	}
	if cmd := containerCommand(server); len(cmd) > 0 {
		container.Command = cmd
	}
	if server.VolumePath != "" {
		container.VolumeMounts = []corev1.VolumeMount{{
			Name:      "project",
			MountPath: s.cfg.ResourceDir,
		}}
	}

	podSpec := corev1.PodSpec{Containers: []corev1.Container{container}}
	if server.VolumePath != "" {
		podSpec.Volumes = []corev1.Volume{{
			Name: "project",
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: server.VolumePath},
			},
		}}
	}

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: s.namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: int32Ptr(1),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}, nil
}

func containerEnv(server *model.Server) []corev1.EnvVar {
	raw, ok := server.Config["env"].(map[string]interface{})
	if !ok {
		return nil
	}
	env := make([]corev1.EnvVar, 0, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			env = append(env, corev1.EnvVar{Name: k, Value: s})
		}
	}
	return env
}

func containerCommand(server *model.Server) []string {
	raw, ok := server.Config["command"].([]interface{})
	if !ok {
		return nil
	}
	cmd := make([]string, 0, len(raw))
	for _, part := range raw {
		if s, ok := part.(string); ok {
			cmd = append(cmd, s)
		}
	}
	return cmd
}

func int32Ptr(v int32) *int32 { return &v }
