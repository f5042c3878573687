package pgsql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	k8stesting "k8s.io/client-go/testing"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/k8s/k8stest"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/security"
)

func cnpgCluster(name, namespace, phase string, desired, ready int64) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "postgresql.cnpg.io/v1",
		"kind":       "Cluster",
		"metadata":   map[string]interface{}{"name": name, "namespace": namespace},
		"spec":       map[string]interface{}{"instances": desired},
		"status": map[string]interface{}{
			"phase":          phase,
			"readyInstances": ready,
			"currentPrimary": name + "-1",
		},
	}}
}

func observe(t *testing.T, fake *k8stest.Fake) (platform.Observation, *security.Codec) {
	t.Helper()
	codec, err := security.NewCodec("test")
	require.NoError(t, err)
	return platform.Observation{
		Cluster:   fake.Client,
		Namespace: "team-a",
		Codec:     codec,
		Healthy:   platform.PhaseMatcher{"Cluster in healthy state"},
		Now:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, codec
}

func pgPlatform() *models.PgSqlPlatform {
	return &models.PgSqlPlatform{
		PlatformBase: models.PlatformBase{Base: models.Base{ID: 9}, Name: "pg"},
		Instances:    3,
	}
}

func TestBuildStateOnline(t *testing.T) {
	fake := k8stest.New(
		[]runtime.Object{cnpgCluster("pg", "team-a", "Cluster in healthy state", 3, 3)},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "pg-rw", Namespace: "team-a"},
			Spec: corev1.ServiceSpec{
				Type:  corev1.ServiceTypeNodePort,
				Ports: []corev1.ServicePort{{Name: "postgres", Port: 5432, NodePort: 30432}},
			},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "pg-r", Namespace: "team-a"},
			Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeClusterIP, Ports: []corev1.ServicePort{{Port: 5432}}},
		},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "pgadmin", Namespace: "team-a"},
			Spec:       corev1.ServiceSpec{Type: corev1.ServiceTypeNodePort, Ports: []corev1.ServicePort{{Port: 80, NodePort: 30080}}},
		},
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
			Status: corev1.NodeStatus{Addresses: []corev1.NodeAddress{
				{Type: corev1.NodeInternalIP, Address: "10.0.0.5"},
				{Type: corev1.NodeHostName, Address: "node-1.local"},
			}},
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "pg-app", Namespace: "team-a"},
			Data: map[string][]byte{
				"username": []byte("app"),
				"password": []byte("s3cr3t"),
				"dbname":   []byte("app"),
			},
		},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Name: "pg-ca", Namespace: "team-a"},
			Data:       map[string][]byte{"ca.crt": []byte("-----BEGIN CERTIFICATE-----")},
		},
	)
	obs, codec := observe(t, fake)

	st, err := New().BuildState(context.Background(), obs, pgPlatform())
	require.NoError(t, err)

	assert.Equal(t, models.StatusOnline, st.Status)
	assert.Equal(t, "Instances: 3/3", st.Message)
	assert.Equal(t, uint(9), st.PlatformID)
	require.NotNil(t, st.LastHeartbeat)
	assert.Equal(t, obs.Now, *st.LastHeartbeat)
	assert.Equal(t, []models.NodePort{{Port: 5432, NodePort: 30432}}, st.NodePorts)
	assert.Equal(t, []models.ClusterNode{{Hostname: "node-1.local", IP: "10.0.0.5"}}, st.ClusterNodes)
	require.NotNil(t, st.DBUser)
	assert.Equal(t, "app", *st.DBUser)
	require.NotNil(t, st.DBCACrt)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----", *st.DBCACrt)
	require.NotNil(t, st.DBPass)
	assert.NotEqual(t, "s3cr3t", *st.DBPass)
	plain, err := codec.Decrypt(*st.DBPass)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", plain)
	assert.Equal(t, "pg-1", st.ExtraData["current_primary"])
}

func TestBuildStatePendingWithoutCluster(t *testing.T) {
	fake := k8stest.New(nil)
	obs, _ := observe(t, fake)

	st, err := New().BuildState(context.Background(), obs, pgPlatform())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, st.Status)
	assert.Equal(t, "waiting for operator", st.Message)
	assert.NotNil(t, st.LastHeartbeat)
}

func TestBuildStateDegraded(t *testing.T) {
	obsFor := func(phase string, ready int64) *models.PlatformState {
		fake := k8stest.New([]runtime.Object{cnpgCluster("pg", "team-a", phase, 3, ready)})
		obs, _ := observe(t, fake)
		st, err := New().BuildState(context.Background(), obs, pgPlatform())
		require.NoError(t, err)
		return st
	}

	st := obsFor("Creating a new replica", 1)
	assert.Equal(t, models.StatusDegraded, st.Status)
	assert.Equal(t, "Creating a new replica", st.Message)

	st = obsFor("Cluster in healthy state", 2)
	assert.Equal(t, models.StatusDegraded, st.Status)
	assert.Contains(t, st.Message, "Instances: 2/3")
}

func TestBuildStateTransientErrorIsRecorded(t *testing.T) {
	fake := k8stest.New([]runtime.Object{cnpgCluster("pg", "team-a", "Cluster in healthy state", 3, 3)})
	fake.Typed.PrependReactor("list", "nodes", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection reset by peer")
	})
	obs, _ := observe(t, fake)

	st, err := New().BuildState(context.Background(), obs, pgPlatform())
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, st.Status)
	assert.Contains(t, st.Message, "connection reset by peer")
	assert.Nil(t, st.LastHeartbeat)
}

func TestPhaseMatcherIsTolerant(t *testing.T) {
	m := platform.PhaseMatcher{"Cluster in healthy state"}
	assert.True(t, m.Healthy("cluster in healthy state"))
	assert.True(t, m.Healthy("Cluster in healthy state (primary switchover)"))
	assert.False(t, m.Healthy("Setting up primary"))
	assert.False(t, m.Healthy(""))
}

func TestRelatedVariablesFlattensS3(t *testing.T) {
	db, err := database.OpenInMemory(New().Models()...)
	require.NoError(t, err)
	codec, err := security.NewCodec("test")
	require.NoError(t, err)

	secret, err := codec.Encrypt("topsecret")
	require.NoError(t, err)
	storage := models.S3Storage{ProjectID: 1, Name: "backups", Endpoint: "https://s3.example", Bucket: "pg", AccessKey: "AK", SecretKeyEnc: secret}
	require.NoError(t, db.Create(&storage).Error)

	p := pgPlatform()
	p.S3StorageID = &storage.ID
	vars, err := New().RelatedVariables(context.Background(), db, codec, p)
	require.NoError(t, err)
	assert.Equal(t, "topsecret", vars["s3_secret_key"])
	assert.Equal(t, "pg", vars["s3_bucket"])

	broken := models.S3Storage{ProjectID: 1, Name: "broken", Endpoint: "https://s3.example", Bucket: "pg", AccessKey: "AK", SecretKeyEnc: "bm9wZQ=="}
	require.NoError(t, db.Create(&broken).Error)
	p.S3StorageID = &broken.ID
	_, err = New().RelatedVariables(context.Background(), db, codec, p)
	assert.ErrorIs(t, err, apperrors.ErrSecretUnreadable)
}

func TestVariablesBag(t *testing.T) {
	p := pgPlatform()
	p.Title = "Orders"
	p.StorageSize = "10Gi"

	vars, err := platform.Variables(p, map[string]any{"s3_bucket": "pg"}, "team-a")
	require.NoError(t, err)
	assert.Equal(t, "pg", vars["name"])
	assert.Equal(t, "team-a", vars["namespace"])
	assert.Equal(t, "Orders", vars["title"])
	assert.Equal(t, "10Gi", vars["storage_size"])
	assert.Equal(t, "pg", vars["s3_bucket"])
	assert.EqualValues(t, "3", vars["instances"].(interface{ String() string }).String())
	assert.NotContains(t, vars, "s3_storage_id")
}
