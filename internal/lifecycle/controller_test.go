package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	k8stesting "k8s.io/client-go/testing"
	"gorm.io/gorm"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/k8s"
	"platformd/backend/internal/k8s/k8stest"
	"platformd/backend/internal/logger"
	"platformd/backend/internal/manifest"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/platform/pgsql"
	"platformd/backend/internal/security"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

type harness struct {
	ctrl    *Controller
	db      *gorm.DB
	fake    *k8stest.Fake
	kind    platform.Kind
	codec   *security.Codec
	calls   int
	project models.Project
}

func newHarness(t *testing.T, dynamicObjects []runtime.Object, typedObjects ...runtime.Object) *harness {
	t.Helper()
	kind := pgsql.New()
	db, err := database.OpenInMemory(kind.Models()...)
	require.NoError(t, err)
	codec, err := security.NewCodec("test-secret")
	require.NoError(t, err)

	h := &harness{db: db, kind: kind, codec: codec, fake: k8stest.New(dynamicObjects, typedObjects...)}
	h.project = models.Project{Name: "team-a", K8sNamespace: "team-a", K8sClusterKubeconfig: ptr("apiVersion: v1\nkind: Config\n")}
	require.NoError(t, db.Create(&h.project).Error)

	h.ctrl, err = New(Options{
		DB:       db,
		Pipeline: manifest.NewPipeline("../../templates"),
		Codec:    codec,
		Resolver: k8s.NewService(db, codec),
		Clients:  h.fake.Factory(&h.calls),
		Logger:   logger.Discard(),
		Now:      func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	return h
}

func (h *harness) create(t *testing.T, name string) *models.PgSqlPlatform {
	t.Helper()
	p := &models.PgSqlPlatform{
		PlatformBase: models.PlatformBase{Name: name, ProjectID: h.project.ID},
		Instances:    3,
		StorageSize:  "1Gi",
	}
	require.NoError(t, h.ctrl.Create(context.Background(), h.kind, p))
	require.NotZero(t, p.ID)
	return p
}

func (h *harness) activate(t *testing.T, p *models.PgSqlPlatform) *models.PlatformState {
	t.Helper()
	st, err := h.ctrl.SetActive(context.Background(), h.kind, p.ID, StatePatch{Active: ptr(true)}, "")
	require.NoError(t, err)
	return st
}

func (h *harness) count(t *testing.T, verb string) int {
	t.Helper()
	n := 0
	for _, v := range h.fake.Verbs() {
		if v == verb {
			n++
		}
	}
	return n
}

func healthyCluster(name string) *unstructured.Unstructured {
	return &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "postgresql.cnpg.io/v1",
		"kind":       "Cluster",
		"metadata":   map[string]interface{}{"name": name, "namespace": "team-a"},
		"spec":       map[string]interface{}{"instances": int64(3)},
		"status": map[string]interface{}{
			"phase":          "Cluster in healthy state",
			"readyInstances": int64(3),
		},
	}}
}

func TestActivateDeploysAndPollsOnce(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")

	st := h.activate(t, p)

	assert.True(t, st.Active)
	assert.Equal(t, models.StatusPending, st.Status)
	assert.Equal(t, 2, h.calls)
	assert.Equal(t, 1, h.count(t, "create clusters"))
	assert.Equal(t, 1, h.count(t, "create services"))
	assert.Equal(t, 1, h.count(t, "get clusters"))

	stored, err := h.ctrl.State(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Active)
	assert.NotEmpty(t, stored.UUID)
}

func TestActivateReportsOnlineCluster(t *testing.T) {
	h := newHarness(t,
		[]runtime.Object{healthyCluster("orders")},
		&corev1.Service{
			ObjectMeta: metav1.ObjectMeta{Name: "orders-external", Namespace: "team-a"},
			Spec: corev1.ServiceSpec{
				Type:  corev1.ServiceTypeNodePort,
				Ports: []corev1.ServicePort{{Port: 5432, NodePort: 30432}},
			},
		},
		&corev1.Node{
			ObjectMeta: metav1.ObjectMeta{Name: "node1"},
			Status:     corev1.NodeStatus{Addresses: []corev1.NodeAddress{{Type: corev1.NodeInternalIP, Address: "1.2.3.4"}}},
		},
	)
	p := h.create(t, "orders")

	st := h.activate(t, p)

	assert.Equal(t, models.StatusOnline, st.Status)
	assert.Contains(t, st.Message, "Instances: 3/3")
	require.Len(t, st.NodePorts, 1)
	assert.EqualValues(t, 30432, st.NodePorts[0].NodePort)
	assert.Equal(t, []models.ClusterNode{{Hostname: "node1", IP: "1.2.3.4"}}, st.ClusterNodes)
	require.NotNil(t, st.LastHeartbeat)
	assert.True(t, st.LastHeartbeat.Equal(fixedNow))
	assert.Equal(t, 1, h.count(t, "patch clusters"))
}

func TestActivateAgainRedeploys(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)

	st := h.activate(t, p)

	assert.True(t, st.Active)
	assert.Equal(t, 1, h.count(t, "create clusters"))
	assert.Equal(t, 1, h.count(t, "patch clusters"))
	assert.Equal(t, 2, h.count(t, "get clusters"))
}

func TestActivateFailureLeavesInactive(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.fake.Dynamic.PrependReactor("create", "clusters", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("K8S Error")
	})

	_, err := h.ctrl.SetActive(context.Background(), h.kind, p.ID, StatePatch{Active: ptr(true)}, "")
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"body", "active"}, verr.Items[0].Loc)
	assert.Contains(t, verr.Items[0].Msg, "K8S Error")
	assert.Equal(t, 422, apperrors.HTTPStatus(err))

	st, err := h.ctrl.State(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	if st != nil {
		assert.False(t, st.Active)
	}
}

func TestUpdateWhileActiveRedeploys(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)

	p.Title = "Orders database"
	require.NoError(t, h.ctrl.Update(context.Background(), h.kind, p))

	assert.Equal(t, 1, h.count(t, "patch clusters"))
	assert.Equal(t, 2, h.count(t, "get clusters"))
}

func TestUpdateWhileInactiveDoesNotTouchCluster(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")

	p.Title = "Orders database"
	require.NoError(t, h.ctrl.Update(context.Background(), h.kind, p))

	assert.Empty(t, h.fake.Verbs())
	assert.Zero(t, h.calls)
}

func TestUpdateWhileActiveWithFailingDeploy(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)
	h.fake.Dynamic.PrependReactor("patch", "clusters", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("K8S Error")
	})

	p.Title = "renamed"
	err := h.ctrl.Update(context.Background(), h.kind, p)

	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"body", "active"}, verr.Items[0].Loc)
	assert.Contains(t, verr.Items[0].Msg, "K8S Error")
	assert.Equal(t, 422, apperrors.HTTPStatus(err))

	st, err := h.ctrl.State(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.True(t, st.Active)
}

func TestDecommissionConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "safety-pg")
	h.activate(t, p)
	ctx := context.Background()

	_, err := h.ctrl.Decommission(ctx, h.kind, p.ID, "")
	require.ErrorIs(t, err, apperrors.ErrDecommissionUnconfirmed)
	assert.Equal(t, "X-RESOURCE-NAME header is required", err.Error())

	_, err = h.ctrl.Decommission(ctx, h.kind, p.ID, "wrong-name")
	require.ErrorIs(t, err, apperrors.ErrDecommissionUnconfirmed)
	assert.Contains(t, err.Error(), "does not match resource name")
	assert.Zero(t, h.count(t, "delete clusters"))

	st, err := h.ctrl.Decommission(ctx, h.kind, p.ID, "safety-pg")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, st.Status)
	assert.False(t, st.Active)
	assert.Equal(t, "Decommissioned", st.Message)
	assert.Empty(t, st.NodePorts)
	assert.Empty(t, st.ClusterNodes)
	assert.Empty(t, st.ExtraData)
	assert.Nil(t, st.DBPass)
}

func TestDecommissionDeletesInReverseOrderAndIsRepeatable(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)
	ctx := context.Background()

	_, err := h.ctrl.Decommission(ctx, h.kind, p.ID, "orders")
	require.NoError(t, err)

	var deletes []string
	for _, v := range h.fake.Verbs() {
		if v == "delete services" || v == "delete clusters" {
			deletes = append(deletes, v)
		}
	}
	assert.Equal(t, []string{"delete services", "delete clusters"}, deletes)

	st, err := h.ctrl.Decommission(ctx, h.kind, p.ID, "orders")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, st.Status)
}

func TestDeactivateRequiresConfirmation(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)
	ctx := context.Background()

	_, err := h.ctrl.SetActive(ctx, h.kind, p.ID, StatePatch{Active: ptr(false)}, "")
	require.ErrorIs(t, err, apperrors.ErrDecommissionUnconfirmed)

	st, err := h.ctrl.SetActive(ctx, h.kind, p.ID, StatePatch{Active: ptr(false)}, "orders")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, st.Status)
	assert.False(t, st.Active)
}

func TestDeactivateInactiveIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")

	_, err := h.ctrl.SetActive(context.Background(), h.kind, p.ID, StatePatch{Active: ptr(false)}, "")
	require.NoError(t, err)
	assert.Empty(t, h.fake.Verbs())
}

func TestPatchMessageOnly(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")

	st, err := h.ctrl.SetActive(context.Background(), h.kind, p.ID, StatePatch{Message: ptr("maintenance")}, "")
	require.NoError(t, err)
	assert.Equal(t, "maintenance", st.Message)
	assert.Equal(t, models.StatusUnknown, st.Status)
	assert.Empty(t, h.fake.Verbs())
}

func TestDeleteCascadesState(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)
	ctx := context.Background()

	require.NoError(t, h.ctrl.Delete(ctx, h.kind, p.ID, "orders"))

	var states int64
	require.NoError(t, h.db.Table(h.kind.StateTable()).Where("platform_id = ?", p.ID).Count(&states).Error)
	assert.Zero(t, states)

	_, err := h.ctrl.Load(ctx, h.kind, p.ID)
	assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
	assert.Equal(t, 1, h.count(t, "delete clusters"))
}

func TestDeleteWithoutConfirmationKeepsRecord(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	ctx := context.Background()

	err := h.ctrl.Delete(ctx, h.kind, p.ID, "")
	require.ErrorIs(t, err, apperrors.ErrDecommissionUnconfirmed)

	_, err = h.ctrl.Load(ctx, h.kind, p.ID)
	assert.NoError(t, err)
}

func TestDeleteInactiveSkipsCluster(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")

	require.NoError(t, h.ctrl.Delete(context.Background(), h.kind, p.ID, "orders"))
	assert.Empty(t, h.fake.Verbs())
}

func TestRefreshAfterPollCommit(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)
	ctx := context.Background()

	first, err := h.ctrl.PollStatus(ctx, h.kind, p.ID)
	require.NoError(t, err)
	second, err := h.ctrl.PollStatus(ctx, h.kind, p.ID)
	require.NoError(t, err)

	assert.Equal(t, first.UUID, second.UUID)
	assert.True(t, second.Active)
}

func TestPollKeepsDecommissionedOffline(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)
	ctx := context.Background()
	_, err := h.ctrl.Decommission(ctx, h.kind, p.ID, "orders")
	require.NoError(t, err)

	st, err := h.ctrl.PollStatus(ctx, h.kind, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, st.Status)
}

func TestPollWithoutKubeconfigWritesErrorState(t *testing.T) {
	h := newHarness(t, nil)
	bare := models.Project{Name: "bare", K8sNamespace: "bare"}
	require.NoError(t, h.db.Create(&bare).Error)
	p := &models.PgSqlPlatform{PlatformBase: models.PlatformBase{Name: "lonely", ProjectID: bare.ID}, Instances: 1}
	require.NoError(t, h.ctrl.Create(context.Background(), h.kind, p))

	st, err := h.ctrl.PollStatus(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, st.Status)
	assert.Contains(t, st.Message, "has no kubeconfig")
	assert.Zero(t, h.calls)

	_, err = h.ctrl.Deploy(context.Background(), h.kind, p.ID)
	require.ErrorIs(t, err, apperrors.ErrNoKubeconfig)
	assert.Equal(t, 422, apperrors.HTTPStatus(err))
}

func TestDecommissionWithoutKubeconfigMarksOffline(t *testing.T) {
	h := newHarness(t, nil)
	bare := models.Project{Name: "bare", K8sNamespace: "bare"}
	require.NoError(t, h.db.Create(&bare).Error)
	p := &models.PgSqlPlatform{PlatformBase: models.PlatformBase{Name: "lonely", ProjectID: bare.ID}, Instances: 1}
	require.NoError(t, h.ctrl.Create(context.Background(), h.kind, p))

	st, err := h.ctrl.Decommission(context.Background(), h.kind, p.ID, "lonely")
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, st.Status)
	assert.Zero(t, h.calls)
}

func TestPollIfIdleSkipsBusyPlatform(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	k := key(h.kind, p.ID)
	require.True(t, h.ctrl.inflight.TryAcquire(k))

	ran, err := h.ctrl.PollIfIdle(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.False(t, ran)

	h.ctrl.inflight.Release(k)
	ran, err = h.ctrl.PollIfIdle(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestCreateRejectsCrossProjectReference(t *testing.T) {
	h := newHarness(t, nil)
	other := models.Project{Name: "team-b", K8sNamespace: "team-b"}
	require.NoError(t, h.db.Create(&other).Error)
	storage := models.S3Storage{ProjectID: other.ID, Name: "backups", Endpoint: "https://s3.example.com", Bucket: "b", AccessKey: "ak", SecretKeyEnc: "x"}
	require.NoError(t, h.db.Create(&storage).Error)

	p := &models.PgSqlPlatform{
		PlatformBase: models.PlatformBase{Name: "orders", ProjectID: h.project.ID},
		Instances:    1,
		S3StorageID:  &storage.ID,
	}
	err := h.ctrl.Create(context.Background(), h.kind, p)
	require.ErrorIs(t, err, apperrors.ErrCrossProjectReference)
	assert.Contains(t, err.Error(), "project")

	var rows int64
	require.NoError(t, h.db.Model(&models.PgSqlPlatform{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestCreateRejectsRequestAboveLimit(t *testing.T) {
	h := newHarness(t, nil)
	p := &models.PgSqlPlatform{
		PlatformBase: models.PlatformBase{Name: "orders", ProjectID: h.project.ID, CPURequest: "2", CPULimit: "500m"},
		Instances:    1,
	}
	err := h.ctrl.Create(context.Background(), h.kind, p)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"body", "cpu_request"}, verr.Items[0].Loc)
}

func TestStateChangeNotifications(t *testing.T) {
	h := newHarness(t, nil)
	var (
		mu     sync.Mutex
		events []StateEvent
	)
	h.ctrl.OnStateChange(func(ev StateEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	p := h.create(t, "orders")
	h.activate(t, p)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, pgsql.KindName, last.Kind)
	assert.Equal(t, p.ID, last.PlatformID)
	assert.True(t, last.Active)
}

func TestManifestPreview(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")

	out, err := h.ctrl.Manifest(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "kind: Cluster")
	assert.Contains(t, out, "name: orders-external")
	assert.Empty(t, h.fake.Verbs())
}

func TestListByProject(t *testing.T) {
	h := newHarness(t, nil)
	h.create(t, "orders")
	h.create(t, "billing")

	all, err := h.ctrl.List(context.Background(), h.kind, h.project.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	none, err := h.ctrl.List(context.Background(), h.kind, h.project.ID+100)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestActiveIDs(t *testing.T) {
	h := newHarness(t, nil)
	a := h.create(t, "orders")
	h.create(t, "billing")
	h.activate(t, a)

	ids, err := h.ctrl.ActiveIDs(context.Background(), h.kind)
	require.NoError(t, err)
	assert.Equal(t, []uint{a.ID}, ids)
}

func TestRejectedDeactivateLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	before := h.activate(t, p)
	ctx := context.Background()

	_, err := h.ctrl.SetActive(ctx, h.kind, p.ID, StatePatch{Active: ptr(false), Message: ptr("tampered")}, "")
	require.ErrorIs(t, err, apperrors.ErrDecommissionUnconfirmed)

	st, err := h.ctrl.State(ctx, h.kind, p.ID)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, before.Message, st.Message)
}

func TestFailedActivateDoesNotWriteMessage(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.fake.Dynamic.PrependReactor("create", "clusters", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("K8S Error")
	})

	_, err := h.ctrl.SetActive(context.Background(), h.kind, p.ID, StatePatch{Active: ptr(true), Message: ptr("going live")}, "")
	require.Error(t, err)

	st, err := h.ctrl.State(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestMessageAppliedAfterDeactivate(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	h.activate(t, p)

	st, err := h.ctrl.SetActive(context.Background(), h.kind, p.ID, StatePatch{Active: ptr(false), Message: ptr("retired")}, "orders")
	require.NoError(t, err)
	assert.False(t, st.Active)
	assert.Equal(t, models.StatusOffline, st.Status)
	assert.Equal(t, "retired", st.Message)
}

func TestDeployWaitingBehindDeleteDoesNotApply(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	k := key(h.kind, p.ID)
	require.NoError(t, h.ctrl.inflight.Acquire(context.Background(), k))

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.Deploy(context.Background(), h.kind, p.ID)
		errc <- err
	}()
	// let Deploy reach the in-flight wait
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.db.Delete(&models.PgSqlPlatform{}, p.ID).Error)
	h.ctrl.inflight.Release(k)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, apperrors.ErrResourceNotFound)
	case <-time.After(2 * time.Second):
		t.Fatal("deploy did not return")
	}
	assert.Empty(t, h.fake.Verbs())
	assert.Zero(t, h.calls)
}

func TestSlowPollWritesDeadlineError(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	before := h.activate(t, p)
	require.NotNil(t, before.LastHeartbeat)
	h.ctrl.pollTimeout = 20 * time.Millisecond
	h.fake.Dynamic.PrependReactor("get", "clusters", func(k8stesting.Action) (bool, runtime.Object, error) {
		time.Sleep(200 * time.Millisecond)
		return true, healthyCluster("orders"), nil
	})

	st, err := h.ctrl.PollStatus(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, st.Status)
	assert.Equal(t, "poll deadline exceeded", st.Message)
	assert.True(t, st.Active)

	stored, err := h.ctrl.State(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, stored.Status)
	require.NotNil(t, stored.LastHeartbeat)
	assert.True(t, stored.LastHeartbeat.Equal(*before.LastHeartbeat))
}

func TestCancelledPollWritesNothing(t *testing.T) {
	h := newHarness(t, nil)
	p := h.create(t, "orders")
	before := h.activate(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fake.Dynamic.PrependReactor("get", "clusters", func(k8stesting.Action) (bool, runtime.Object, error) {
		cancel()
		return true, healthyCluster("orders"), nil
	})

	_, err := h.ctrl.PollStatus(ctx, h.kind, p.ID)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := h.ctrl.State(context.Background(), h.kind, p.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Status, stored.Status)
	assert.Equal(t, before.Message, stored.Message)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestCreateAppliesResourceDefaultsBeforeComparing(t *testing.T) {
	h := newHarness(t, nil)
	p := &models.PgSqlPlatform{
		PlatformBase: models.PlatformBase{Name: "orders", ProjectID: h.project.ID, CPURequest: "2"},
		Instances:    1,
	}
	err := h.ctrl.Create(context.Background(), h.kind, p)
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"body", "cpu_request"}, verr.Items[0].Loc)

	p = &models.PgSqlPlatform{
		PlatformBase: models.PlatformBase{Name: "billing", ProjectID: h.project.ID, MemRequest: "512Mi"},
		Instances:    1,
	}
	require.NoError(t, h.ctrl.Create(context.Background(), h.kind, p))
	assert.Equal(t, models.DefaultCPURequest, p.CPURequest)
	assert.Equal(t, models.DefaultCPULimit, p.CPULimit)
	assert.Equal(t, models.DefaultMemLimit, p.MemLimit)
}
