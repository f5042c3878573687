package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/k8s"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/security"
	"platformd/backend/internal/validation"
)

// Prober is a cluster connection that can answer a discovery request.
type Prober interface {
	Probe(ctx context.Context) (string, error)
}

type ClusterHandler struct {
	DB       *gorm.DB
	Codec    *security.Codec
	Resolver *k8s.Service
	Registry *platform.Registry
	Connect  func(kubeconfig []byte) (Prober, error)
}

func NewClusterHandler(db *gorm.DB, codec *security.Codec, resolver *k8s.Service, registry *platform.Registry, opts k8s.Options) *ClusterHandler {
	return &ClusterHandler{
		DB:       db,
		Codec:    codec,
		Resolver: resolver,
		Registry: registry,
		Connect: func(kubeconfig []byte) (Prober, error) {
			return k8s.NewClient(kubeconfig, opts)
		},
	}
}

type clusterRequest struct {
	ProjectID  uint    `json:"project_id"`
	Name       *string `json:"name"`
	Endpoint   *string `json:"endpoint"`
	AuthType   *string `json:"auth_type"`
	Kubeconfig *string `json:"kubeconfig"`
	Token      *string `json:"token"`
	CACert     *string `json:"ca_cert"`
	IsActive   *bool   `json:"is_active"`
}

// clusterView is the API shape of a cluster; credentials are reported only as present or not.
type clusterView struct {
	models.K8sCluster
	HasKubeconfig bool `json:"has_kubeconfig"`
	HasToken      bool `json:"has_token"`
}

func viewCluster(c models.K8sCluster) clusterView {
	return clusterView{K8sCluster: c, HasKubeconfig: c.KubeconfigEnc != "", HasToken: c.TokenEnc != ""}
}

func (h *ClusterHandler) apply(req clusterRequest, cluster *models.K8sCluster) error {
	if req.Name != nil {
		cluster.Name = strings.TrimSpace(*req.Name)
	}
	if req.Endpoint != nil {
		cluster.Endpoint = strings.TrimSpace(*req.Endpoint)
	}
	if req.AuthType != nil {
		cluster.AuthType = strings.TrimSpace(*req.AuthType)
	}
	if cluster.AuthType == "" {
		cluster.AuthType = models.AuthTypeKubeconfig
	}
	if req.Kubeconfig != nil {
		if strings.TrimSpace(*req.Kubeconfig) != "" {
			if err := k8s.CheckKubeconfig([]byte(*req.Kubeconfig)); err != nil {
				return err
			}
		}
		enc, err := h.Codec.EncryptOptional(*req.Kubeconfig)
		if err != nil {
			return err
		}
		cluster.KubeconfigEnc = enc
	}
	if req.Token != nil {
		enc, err := h.Codec.EncryptOptional(strings.TrimSpace(*req.Token))
		if err != nil {
			return err
		}
		cluster.TokenEnc = enc
	}
	if req.CACert != nil {
		cluster.CACert = req.CACert
	}
	if req.IsActive != nil {
		cluster.IsActive = *req.IsActive
	}

	if err := validation.Struct(cluster); err != nil {
		return err
	}
	switch cluster.AuthType {
	case models.AuthTypeToken:
		if cluster.TokenEnc == "" || cluster.Endpoint == "" {
			return apperrors.Validation("token", "token auth requires endpoint and token")
		}
	default:
		if cluster.KubeconfigEnc == "" {
			return apperrors.Validation("kubeconfig", "kubeconfig auth requires a kubeconfig")
		}
	}
	return nil
}

func (h *ClusterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req clusterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	projectID, err := scopedProject(r, req.ProjectID)
	if err == nil {
		err = requireProject(h.DB, r, projectID)
	}
	if err != nil {
		response.Fail(w, err)
		return
	}

	cluster := models.K8sCluster{ProjectID: projectID, IsActive: true}
	if err := h.apply(req, &cluster); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.DB.WithContext(r.Context()).Create(&cluster).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewCluster(cluster))
}

func (h *ClusterHandler) List(w http.ResponseWriter, r *http.Request) {
	query := h.DB.WithContext(r.Context()).Order("id ASC")
	if project := scopeFilter(r); project != 0 {
		query = query.Where("project_id = ?", project)
	}
	var clusters []models.K8sCluster
	if err := query.Find(&clusters).Error; err != nil {
		response.Fail(w, err)
		return
	}
	out := make([]clusterView, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, viewCluster(c))
	}
	response.JSON(w, http.StatusOK, out)
}

func (h *ClusterHandler) load(r *http.Request, id uint) (*models.K8sCluster, error) {
	var cluster models.K8sCluster
	err := h.DB.WithContext(r.Context()).First(&cluster, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, notFound("k8s cluster", id)
	case err != nil:
		return nil, err
	case !inScope(r, cluster.ProjectID):
		return nil, notFound("k8s cluster", id)
	}
	return &cluster, nil
}

func (h *ClusterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cluster, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewCluster(*cluster))
}

func (h *ClusterHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req clusterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cluster, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if req.ProjectID != 0 && req.ProjectID != cluster.ProjectID {
		response.Fail(w, apperrors.Validation("project_id", "project_id cannot be changed"))
		return
	}
	if err := h.apply(req, cluster); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.DB.WithContext(r.Context()).Save(cluster).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewCluster(*cluster))
}

func (h *ClusterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cluster, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	n, err := platformsReferencing(h.DB, r, h.Registry, "k8s_cluster_id", id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if n > 0 {
		response.Fail(w, apperrors.Validation("id", fmt.Sprintf("k8s cluster is used by %d platform(s)", n)))
		return
	}
	if err := h.DB.WithContext(r.Context()).Delete(cluster).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "k8s cluster deleted"})
}

// TestConnection builds a client from the stored credentials and runs a discovery request.
func (h *ClusterHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cluster, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}

	result := map[string]any{"cluster_id": cluster.ID, "reachable": false}
	raw, err := h.Resolver.ClusterKubeconfig(cluster)
	if err != nil {
		response.Fail(w, err)
		return
	}
	client, err := h.Connect(raw)
	if err != nil {
		response.Fail(w, err)
		return
	}
	version, err := client.Probe(r.Context())
	if err != nil {
		result["message"] = err.Error()
		response.JSON(w, http.StatusOK, result)
		return
	}
	result["reachable"] = true
	result["version"] = version
	result["message"] = "connection established"
	response.JSON(w, http.StatusOK, result)
}
