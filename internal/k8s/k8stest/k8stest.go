// Package k8stest builds gateway clients backed by client-go fakes.
package k8stest

import (
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubefake "k8s.io/client-go/kubernetes/fake"

	"platformd/backend/internal/k8s"
)

var (
	ClusterGVK   = schema.GroupVersionKind{Group: "postgresql.cnpg.io", Version: "v1", Kind: "Cluster"}
	SecretGVK    = schema.GroupVersionKind{Version: "v1", Kind: "Secret"}
	ServiceGVK   = schema.GroupVersionKind{Version: "v1", Kind: "Service"}
	ConfigMapGVK = schema.GroupVersionKind{Version: "v1", Kind: "ConfigMap"}
	NamespaceGVK = schema.GroupVersionKind{Version: "v1", Kind: "Namespace"}
)

// Fake bundles a gateway client with the fakes behind it so tests can seed objects and
// inspect recorded actions.
type Fake struct {
	*k8s.Client
	Dynamic *dynamicfake.FakeDynamicClient
	Typed   *kubefake.Clientset
}

// New returns a client whose mapper knows the CloudNativePG Cluster and the core kinds used by
// the templates. dynamicObjects seed the dynamic tracker, typedObjects the typed clientset.
func New(dynamicObjects []runtime.Object, typedObjects ...runtime.Object) *Fake {
	mapper := meta.NewDefaultRESTMapper(nil)
	for _, gvk := range []schema.GroupVersionKind{ClusterGVK, SecretGVK, ServiceGVK, ConfigMapGVK} {
		mapper.Add(gvk, meta.RESTScopeNamespace)
	}
	mapper.Add(NamespaceGVK, meta.RESTScopeRoot)

	scheme := runtime.NewScheme()
	listKinds := map[schema.GroupVersionResource]string{}
	for _, gvk := range []schema.GroupVersionKind{ClusterGVK, SecretGVK, ServiceGVK, ConfigMapGVK, NamespaceGVK} {
		mapping, _ := mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		listKinds[mapping.Resource] = gvk.Kind + "List"
	}

	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(scheme, listKinds, dynamicObjects...)
	typed := kubefake.NewClientset(typedObjects...)
	return &Fake{
		Client:  k8s.NewForInterfaces(dyn, typed, mapper),
		Dynamic: dyn,
		Typed:   typed,
	}
}

// Factory hands out the same fake for every kubeconfig and counts how often it was asked.
func (f *Fake) Factory(calls *int) k8s.Factory {
	return func([]byte) (k8s.Cluster, error) {
		if calls != nil {
			*calls++
		}
		return f.Client, nil
	}
}

// Verbs returns the dynamic client actions as "verb resource" strings, in order.
func (f *Fake) Verbs() []string {
	var out []string
	for _, action := range f.Dynamic.Actions() {
		out = append(out, action.GetVerb()+" "+action.GetResource().Resource)
	}
	return out
}
