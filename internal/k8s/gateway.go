package k8s

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"

	"platformd/backend/internal/apperrors"
)

const fieldManager = "platformd"

type Outcome string

const (
	Created  Outcome = "created"
	Patched  Outcome = "patched"
	Deleted  Outcome = "deleted"
	NotFound Outcome = "not_found"
)

// Cluster is the gateway surface the lifecycle and poller code depend on.
type Cluster interface {
	Apply(ctx context.Context, doc *unstructured.Unstructured, defaultNamespace string) (Outcome, error)
	Delete(ctx context.Context, doc *unstructured.Unstructured, defaultNamespace string) (Outcome, error)
	List(ctx context.Context, groupVersion, kind, namespace, selector string) ([]unstructured.Unstructured, error)
	Get(ctx context.Context, groupVersion, kind, namespace, name string) (*unstructured.Unstructured, error)
	Core() kubernetes.Interface
}

type Factory func(kubeconfig []byte) (Cluster, error)

// Apply creates doc and falls back to a single JSON merge patch of the same document when the
// object already exists.
func (c *Client) Apply(ctx context.Context, doc *unstructured.Unstructured, defaultNamespace string) (Outcome, error) {
	if doc.GetName() == "" {
		return "", fmt.Errorf("%s is missing metadata.name", doc.GetKind())
	}
	ri, err := c.resourceFor(doc.GroupVersionKind(), doc, defaultNamespace)
	if err != nil {
		return "", err
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return "", err
	}

	obj := sanitize(doc)
	_, err = withRetry(ctx, c.attempts, func() (*unstructured.Unstructured, error) {
		return ri.Create(ctx, obj, metav1.CreateOptions{FieldManager: fieldManager})
	})
	if err == nil {
		return Created, nil
	}
	if statusCode(err) != http.StatusConflict {
		return "", describe(doc, err)
	}

	patch, err := json.Marshal(obj.Object)
	if err != nil {
		return "", err
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return "", err
	}
	_, err = withRetry(ctx, c.attempts, func() (*unstructured.Unstructured, error) {
		return ri.Patch(ctx, obj.GetName(), types.MergePatchType, patch, metav1.PatchOptions{FieldManager: fieldManager})
	})
	if err != nil {
		return "", describe(doc, err)
	}
	return Patched, nil
}

// Delete removes doc. A missing object or an unknown kind reports NotFound without error.
func (c *Client) Delete(ctx context.Context, doc *unstructured.Unstructured, defaultNamespace string) (Outcome, error) {
	ri, err := c.resourceFor(doc.GroupVersionKind(), doc, defaultNamespace)
	if err != nil {
		var applyErr *apperrors.ApplyError
		if errors.As(err, &applyErr) && applyErr.Status == http.StatusNotFound {
			return NotFound, nil
		}
		return "", err
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return "", err
	}

	background := metav1.DeletePropagationBackground
	_, err = withRetry(ctx, c.attempts, func() (struct{}, error) {
		return struct{}{}, ri.Delete(ctx, doc.GetName(), metav1.DeleteOptions{PropagationPolicy: &background})
	})
	if apierrors.IsNotFound(err) {
		return NotFound, nil
	}
	if err != nil {
		return "", describe(doc, err)
	}
	return Deleted, nil
}

func (c *Client) List(ctx context.Context, groupVersion, kind, namespace, selector string) ([]unstructured.Unstructured, error) {
	gvk, err := parseGVK(groupVersion, kind)
	if err != nil {
		return nil, err
	}
	ri, err := c.resourceFor(gvk, nil, namespace)
	if err != nil {
		return nil, err
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, err
	}
	list, err := withRetry(ctx, c.attempts, func() (*unstructured.UnstructuredList, error) {
		return ri.List(ctx, metav1.ListOptions{LabelSelector: selector})
	})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// Get returns apperrors.ErrResourceNotFound when either the object or its kind does not exist.
func (c *Client) Get(ctx context.Context, groupVersion, kind, namespace, name string) (*unstructured.Unstructured, error) {
	gvk, err := parseGVK(groupVersion, kind)
	if err != nil {
		return nil, err
	}
	ri, err := c.resourceFor(gvk, nil, namespace)
	if err != nil {
		var applyErr *apperrors.ApplyError
		if errors.As(err, &applyErr) && applyErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrResourceNotFound, applyErr.Body)
		}
		return nil, err
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, err
	}
	obj, err := withRetry(ctx, c.attempts, func() (*unstructured.Unstructured, error) {
		return ri.Get(ctx, name, metav1.GetOptions{})
	})
	if apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s %s/%s", apperrors.ErrResourceNotFound, kind, namespace, name)
	}
	return obj, err
}

// resourceFor maps gvk to a resource client. Namespaced kinds fall back to defaultNamespace, which
// is also written into doc when it has none.
func (c *Client) resourceFor(gvk schema.GroupVersionKind, doc *unstructured.Unstructured, defaultNamespace string) (dynamic.ResourceInterface, error) {
	mapping, err := c.Mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		if meta.IsNoMatchError(err) {
			return nil, &apperrors.ApplyError{Status: http.StatusNotFound, Body: fmt.Sprintf("no API resource for %s", gvk.String())}
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrConnectFailed, err)
	}

	if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
		return c.Dynamic.Resource(mapping.Resource), nil
	}
	namespace := defaultNamespace
	if doc != nil {
		if doc.GetNamespace() == "" {
			doc.SetNamespace(defaultNamespace)
		}
		namespace = doc.GetNamespace()
	}
	return c.Dynamic.Resource(mapping.Resource).Namespace(namespace), nil
}

func parseGVK(groupVersion, kind string) (schema.GroupVersionKind, error) {
	gv, err := schema.ParseGroupVersion(groupVersion)
	if err != nil {
		return schema.GroupVersionKind{}, fmt.Errorf("invalid apiVersion %q: %w", groupVersion, err)
	}
	return gv.WithKind(kind), nil
}

// sanitize drops server-populated fields that must never be sent back.
func sanitize(doc *unstructured.Unstructured) *unstructured.Unstructured {
	obj := doc.DeepCopy()
	unstructured.RemoveNestedField(obj.Object, "metadata", "resourceVersion")
	unstructured.RemoveNestedField(obj.Object, "metadata", "uid")
	unstructured.RemoveNestedField(obj.Object, "metadata", "creationTimestamp")
	unstructured.RemoveNestedField(obj.Object, "status")
	return obj
}

func statusCode(err error) int32 {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return status.Status().Code
	}
	return 0
}

func describe(doc *unstructured.Unstructured, err error) error {
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return &apperrors.ApplyError{
			Status: int(status.Status().Code),
			Body:   fmt.Sprintf("%s %q: %s", doc.GetKind(), doc.GetName(), status.Status().Message),
		}
	}
	return fmt.Errorf("%s %q: %w", doc.GetKind(), doc.GetName(), err)
}
