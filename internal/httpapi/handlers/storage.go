package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/security"
	"platformd/backend/internal/validation"
)

// StorageHandler manages the S3 object stores platforms use for backups.
type StorageHandler struct {
	DB       *gorm.DB
	Codec    *security.Codec
	Registry *platform.Registry
}

func NewStorageHandler(db *gorm.DB, codec *security.Codec, registry *platform.Registry) *StorageHandler {
	return &StorageHandler{DB: db, Codec: codec, Registry: registry}
}

type storageRequest struct {
	ProjectID uint    `json:"project_id"`
	Name      *string `json:"name"`
	Endpoint  *string `json:"endpoint"`
	Bucket    *string `json:"bucket"`
	Region    *string `json:"region"`
	AccessKey *string `json:"access_key"`
	SecretKey *string `json:"secret_key"`
}

type storageView struct {
	models.S3Storage
	HasSecretKey bool `json:"has_secret_key"`
}

func viewStorage(s models.S3Storage) storageView {
	return storageView{S3Storage: s, HasSecretKey: s.SecretKeyEnc != ""}
}

func (h *StorageHandler) apply(req storageRequest, storage *models.S3Storage) error {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&storage.Name, req.Name)
	set(&storage.Endpoint, req.Endpoint)
	set(&storage.Bucket, req.Bucket)
	set(&storage.Region, req.Region)
	set(&storage.AccessKey, req.AccessKey)
	if req.SecretKey != nil {
		enc, err := h.Codec.EncryptOptional(*req.SecretKey)
		if err != nil {
			return err
		}
		storage.SecretKeyEnc = enc
	}
	if err := validation.Struct(storage); err != nil {
		return err
	}
	if storage.SecretKeyEnc == "" {
		return apperrors.Validation("secret_key", "secret_key is required")
	}
	return nil
}

func (h *StorageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req storageRequest
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

	storage := models.S3Storage{ProjectID: projectID}
	if err := h.apply(req, &storage); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.DB.WithContext(r.Context()).Create(&storage).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewStorage(storage))
}

func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	query := h.DB.WithContext(r.Context()).Order("id ASC")
	if project := scopeFilter(r); project != 0 {
		query = query.Where("project_id = ?", project)
	}
	var items []models.S3Storage
	if err := query.Find(&items).Error; err != nil {
		response.Fail(w, err)
		return
	}
	out := make([]storageView, 0, len(items))
	for _, item := range items {
		out = append(out, viewStorage(item))
	}
	response.JSON(w, http.StatusOK, out)
}

func (h *StorageHandler) load(r *http.Request, id uint) (*models.S3Storage, error) {
	var storage models.S3Storage
	err := h.DB.WithContext(r.Context()).First(&storage, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, notFound("s3 storage", id)
	case err != nil:
		return nil, err
	case !inScope(r, storage.ProjectID):
		return nil, notFound("s3 storage", id)
	}
	return &storage, nil
}

func (h *StorageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	storage, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewStorage(*storage))
}

func (h *StorageHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req storageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	storage, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if req.ProjectID != 0 && req.ProjectID != storage.ProjectID {
		response.Fail(w, apperrors.Validation("project_id", "project_id cannot be changed"))
		return
	}
	if err := h.apply(req, storage); err != nil {
		response.Fail(w, err)
		return
	}
	if err := h.DB.WithContext(r.Context()).Save(storage).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, viewStorage(*storage))
}

func (h *StorageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	storage, err := h.load(r, id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	n, err := platformsReferencing(h.DB, r, h.Registry, "s3_storage_id", id)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if n > 0 {
		response.Fail(w, apperrors.Validation("id", fmt.Sprintf("s3 storage is used by %d platform(s)", n)))
		return
	}
	if err := h.DB.WithContext(r.Context()).Delete(storage).Error; err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"message": "s3 storage deleted"})
}
