package k8s_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/k8s"
	"platformd/backend/internal/models"
	"platformd/backend/internal/security"
)

const projectKubeconfig = `apiVersion: v1
kind: Config
clusters:
- name: c
  cluster:
    server: https://project.example:6443
contexts:
- name: c
  context:
    cluster: c
    user: u
current-context: c
users:
- name: u
  user:
    token: abc
`

func newService(t *testing.T) (*k8s.Service, *security.Codec) {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	codec, err := security.NewCodec("test")
	require.NoError(t, err)
	svc := k8s.NewService(db, codec)
	svc.InCluster = func() (*rest.Config, error) { return nil, errors.New("not in cluster") }
	return svc, codec
}

func TestResolvePrefersPlatformCluster(t *testing.T) {
	svc, codec := newService(t)
	kc := projectKubeconfig
	project := models.Project{Name: "team-a", K8sNamespace: "team-a", K8sClusterKubeconfig: &kc}
	require.NoError(t, svc.DB.Create(&project).Error)

	enc, err := codec.Encrypt("cluster-kubeconfig")
	require.NoError(t, err)
	cluster := models.K8sCluster{ProjectID: project.ID, Name: "prod", AuthType: models.AuthTypeKubeconfig, KubeconfigEnc: enc}
	require.NoError(t, svc.DB.Create(&cluster).Error)

	target, err := svc.Resolve(context.Background(), &models.PlatformBase{Name: "pg", ProjectID: project.ID, K8sClusterID: &cluster.ID})
	require.NoError(t, err)
	assert.Equal(t, "cluster-kubeconfig", string(target.Kubeconfig))
	assert.Equal(t, "team-a", target.Namespace)

	target, err = svc.Resolve(context.Background(), &models.PlatformBase{Name: "pg", ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, projectKubeconfig, string(target.Kubeconfig))
}

func TestResolveWithoutKubeconfig(t *testing.T) {
	svc, _ := newService(t)
	project := models.Project{Name: "team-b", K8sNamespace: "team-b", K8sClusterType: models.ClusterTypeRemote}
	require.NoError(t, svc.DB.Create(&project).Error)

	_, err := svc.Resolve(context.Background(), &models.PlatformBase{Name: "pg", ProjectID: project.ID})
	assert.ErrorIs(t, err, apperrors.ErrNoKubeconfig)
	assert.Contains(t, err.Error(), "has no kubeconfig")
}

func TestResolveInCluster(t *testing.T) {
	svc, _ := newService(t)
	svc.InCluster = func() (*rest.Config, error) {
		return &rest.Config{Host: "https://10.0.0.1:443", BearerTokenFile: "/var/run/token"}, nil
	}
	project := models.Project{Name: "team-c", K8sNamespace: "team-c", K8sClusterType: models.ClusterTypeInCluster}
	require.NoError(t, svc.DB.Create(&project).Error)

	target, err := svc.Resolve(context.Background(), &models.PlatformBase{Name: "pg", ProjectID: project.ID})
	require.NoError(t, err)

	raw, err := clientcmd.Load(target.Kubeconfig)
	require.NoError(t, err)
	assert.Equal(t, "https://10.0.0.1:443", raw.Clusters[raw.Contexts[raw.CurrentContext].Cluster].Server)
}

func TestClusterKubeconfigFromToken(t *testing.T) {
	svc, codec := newService(t)
	token, err := codec.Encrypt("s3cr3t")
	require.NoError(t, err)

	raw, err := svc.ClusterKubeconfig(&models.K8sCluster{
		Name:     "edge",
		Endpoint: "https://edge.example:6443",
		AuthType: models.AuthTypeToken,
		TokenEnc: token,
	})
	require.NoError(t, err)

	cfg, err := clientcmd.RESTConfigFromKubeConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, "https://edge.example:6443", cfg.Host)
	assert.Equal(t, "s3cr3t", cfg.BearerToken)
}

func TestClusterKubeconfigUnreadableSecret(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.ClusterKubeconfig(&models.K8sCluster{Name: "bad", AuthType: models.AuthTypeKubeconfig, KubeconfigEnc: "garbage"})
	assert.ErrorIs(t, err, apperrors.ErrSecretUnreadable)
}
