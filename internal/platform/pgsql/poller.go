package pgsql

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
)

// BuildState reads the CloudNativePG cluster, its services, the nodes and the application secret.
// Cluster-side failures end up in the returned state; only an invalid kubeconfig is returned as error.
func (*Kind) BuildState(ctx context.Context, obs platform.Observation, p models.Platform) (*models.PlatformState, error) {
	pg := p.(*models.PgSqlPlatform)
	st := models.NewPlatformState(pg.ID)
	now := obs.Now

	cr, err := obs.Cluster.Get(ctx, clusterAPIVersion, clusterKind, obs.Namespace, pg.Name)
	switch {
	case errors.Is(err, apperrors.ErrResourceNotFound):
		st.Status = models.StatusPending
		st.Message = "waiting for operator"
		st.LastHeartbeat = &now
		return st, nil
	case errors.Is(err, apperrors.ErrConfigInvalid):
		return nil, err
	case err != nil:
		return failed(st, err), nil
	}

	phase, _, _ := unstructured.NestedString(cr.Object, "status", "phase")
	desired, found, _ := unstructured.NestedInt64(cr.Object, "spec", "instances")
	if !found {
		desired = int64(pg.Instances)
	}
	ready, _, _ := unstructured.NestedInt64(cr.Object, "status", "readyInstances")
	primary, _, _ := unstructured.NestedString(cr.Object, "status", "currentPrimary")

	switch {
	case phase == "":
		st.Status = models.StatusPending
		st.Message = "waiting for operator"
	case obs.Healthy.Healthy(phase) && ready == desired:
		st.Status = models.StatusOnline
		st.Message = fmt.Sprintf("Instances: %d/%d", ready, desired)
	case obs.Healthy.Healthy(phase):
		st.Status = models.StatusDegraded
		st.Message = fmt.Sprintf("%s (Instances: %d/%d)", phase, ready, desired)
	default:
		st.Status = models.StatusDegraded
		st.Message = phase
	}
	st.ExtraData = map[string]any{
		"phase":           phase,
		"instances":       desired,
		"ready_instances": ready,
	}
	if primary != "" {
		st.ExtraData["current_primary"] = primary
	}

	var (
		services *corev1.ServiceList
		nodes    *corev1.NodeList
		secrets  connectionSecrets
	)
	core := obs.Cluster.Core().CoreV1()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		services, err = core.Services(obs.Namespace).List(gctx, metav1.ListOptions{})
		return err
	})
	g.Go(func() error {
		var err error
		nodes, err = core.Nodes().List(gctx, metav1.ListOptions{})
		return err
	})
	g.Go(func() error {
		var err error
		secrets, err = readSecrets(gctx, core, obs.Namespace, pg.Name)
		return err
	})
	if err := g.Wait(); err != nil {
		return failed(st, err), nil
	}

	st.NodePorts = nodePorts(services.Items, pg.Name)
	st.ClusterNodes = clusterNodes(nodes.Items)
	st.DBUser = secrets.user
	st.DBName = secrets.dbname
	st.DBCACrt = secrets.caCrt
	if secrets.password != nil {
		enc, err := obs.Codec.Encrypt(*secrets.password)
		if err != nil {
			return failed(st, err), nil
		}
		st.DBPass = &enc
	}
	st.LastHeartbeat = &now
	return st, nil
}

func failed(st *models.PlatformState, err error) *models.PlatformState {
	st.Status = models.StatusError
	st.Message = err.Error()
	st.LastHeartbeat = nil
	return st
}

// nodePorts collects the node ports of services belonging to the platform, services sorted by
// name and ports in declaration order.
func nodePorts(services []corev1.Service, name string) []models.NodePort {
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	out := []models.NodePort{}
	for _, svc := range services {
		if svc.Name != name && !strings.HasPrefix(svc.Name, name+"-") {
			continue
		}
		if svc.Spec.Type != corev1.ServiceTypeNodePort {
			continue
		}
		for _, port := range svc.Spec.Ports {
			if port.NodePort == 0 {
				continue
			}
			out = append(out, models.NodePort{Port: port.Port, NodePort: port.NodePort})
		}
	}
	return out
}

func clusterNodes(nodes []corev1.Node) []models.ClusterNode {
	out := make([]models.ClusterNode, 0, len(nodes))
	for _, node := range nodes {
		entry := models.ClusterNode{Hostname: node.Name}
		for _, addr := range node.Status.Addresses {
			switch addr.Type {
			case corev1.NodeHostName:
				entry.Hostname = addr.Address
			case corev1.NodeInternalIP:
				entry.IP = addr.Address
			}
		}
		out = append(out, entry)
	}
	return out
}

type connectionSecrets struct {
	user, password, dbname, caCrt *string
}

// readSecrets decodes the operator's <name>-app secret and the CA from <name>-ca. Missing secrets
// are not an error; the operator may not have created them yet.
func readSecrets(ctx context.Context, core typedcorev1.CoreV1Interface, namespace, name string) (connectionSecrets, error) {
	var out connectionSecrets
	app, err := core.Secrets(namespace).Get(ctx, name+"-app", metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		app = nil
	case err != nil:
		return out, err
	}
	if app != nil {
		out.user = firstKey(app.Data, "username", "user")
		out.password = firstKey(app.Data, "password")
		out.dbname = firstKey(app.Data, "dbname")
		out.caCrt = firstKey(app.Data, "ca.crt")
	}

	ca, err := core.Secrets(namespace).Get(ctx, name+"-ca", metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
	case err != nil:
		return out, err
	default:
		if v := firstKey(ca.Data, "ca.crt"); v != nil {
			out.caCrt = v
		}
	}
	return out, nil
}

func firstKey(data map[string][]byte, keys ...string) *string {
	for _, key := range keys {
		if v, ok := data[key]; ok && len(v) > 0 {
			s := string(v)
			return &s
		}
	}
	return nil
}
