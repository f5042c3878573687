package handlers

import (
	"net/http"

	"gorm.io/gorm"

	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/platform"
)

type SystemHandler struct {
	DB       *gorm.DB
	Registry *platform.Registry
}

func NewSystemHandler(db *gorm.DB, registry *platform.Registry) *SystemHandler {
	return &SystemHandler{DB: db, Registry: registry}
}

func (h *SystemHandler) Root(w http.ResponseWriter, r *http.Request) {
	kinds := []string{}
	for _, kind := range h.Registry.Kinds() {
		kinds = append(kinds, kind.Name())
	}
	response.JSON(w, http.StatusOK, map[string]any{"message": "platformd lifecycle controller", "kinds": kinds})
}

func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
