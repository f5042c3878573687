package handlers

import (
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
	"platformd/backend/internal/validation"
)

type ProjectHandler struct {
	DB       *gorm.DB
	Registry *platform.Registry
}

func NewProjectHandler(db *gorm.DB, registry *platform.Registry) *ProjectHandler {
	return &ProjectHandler{DB: db, Registry: registry}
}

type projectRequest struct {
	Name                 *string `json:"name"`
	K8sNamespace         *string `json:"k8s_namespace"`
	K8sClusterType       *string `json:"k8s_cluster_type"`
	K8sClusterKubeconfig *string `json:"k8s_cluster_kubeconfig"`
}

func (req projectRequest) apply(project *models.Project) {
	if req.Name != nil {
		project.Name = strings.TrimSpace(*req.Name)
	}
	if req.K8sNamespace != nil {
		project.K8sNamespace = *req.K8sNamespace
	}
	if req.K8sClusterType != nil {
		project.K8sClusterType = strings.TrimSpace(*req.K8sClusterType)
	}
	if req.K8sClusterKubeconfig != nil {
		project.K8sClusterKubeconfig = req.K8sClusterKubeconfig
		if strings.TrimSpace(*req.K8sClusterKubeconfig) == "" {
			project.K8sClusterKubeconfig = nil
		}
	}
}

func (h *ProjectHandler) check(project *models.Project) error {
	project.NormalizeNamespace()
	if err := validation.Struct(project); err != nil {
		return err
	}
	if project.K8sClusterKubeconfig != nil {
		if err := k8s.CheckKubeconfig([]byte(*project.K8sClusterKubeconfig)); err != nil {
			return err
		}
	}
	var count int64
	if err := h.DB.Model(&models.Project{}).Where("name = ? AND id <> ?", project.Name, project.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return apperrors.Validation("name", "project name already exists")
	}
	return nil
}

func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var project models.Project
	req.apply(&project)
	if err := h.check(&project); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.DB.WithContext(r.Context()).Create(&project).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	skip := max(parseIntWithDefault(r.URL.Query().Get("skip"), 0), 0)
	limit := parseIntWithDefault(r.URL.Query().Get("limit"), 100)
	if limit < 1 {
		limit = 100
	}

	var projects []models.Project
	if err := h.DB.WithContext(r.Context()).Order("id ASC").Offset(skip).Limit(limit).Find(&projects).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) load(r *http.Request, id uint) (*models.Project, error) {
	var project models.Project
	if err := h.DB.WithContext(r.Context()).First(&project, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("project", id)
		}
		return nil, err
	}
	return &project, nil
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	project, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, project)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req projectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	project, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	req.apply(project)
	if err := h.check(project); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.DB.WithContext(r.Context()).Save(project).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, project)
}

// Delete refuses to drop a project that still owns platforms.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	project, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	n, err := platformsReferencing(h.DB, r, h.Registry, "project_id", id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if n > 0 {
		response.Fail(w, apperrors.Validation("id", fmt.Sprintf("project still has %d platform(s)", n)))
		return
	}

	err = h.DB.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&models.K8sCluster{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.S3Storage{}).Error; err != nil {
			return err
		}
		return tx.Delete(project).Error
	})
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "project deleted"})
}
