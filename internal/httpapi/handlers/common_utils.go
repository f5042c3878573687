package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/httpapi/middleware"
	"platformd/backend/internal/httpapi/response"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
)

func parsePathUint(raw string) (uint, error) {
	parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}

func parseIntWithDefault(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

// pathID reads the {id} URL parameter, writing a 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := parsePathUint(chi.URLParam(r, "id"))
	if err != nil || id == 0 {
		response.Error(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := response.DecodeJSON(r, dst); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// scopedProject fills an unset project id from X-Project-Id and rejects a body that names a
// different project than the header.
func scopedProject(r *http.Request, bodyProjectID uint) (uint, error) {
	header := middleware.ProjectID(r)
	switch {
	case header == 0:
		if bodyProjectID == 0 {
			return 0, apperrors.Validation("project_id", "project_id is required")
		}
		return bodyProjectID, nil
	case bodyProjectID == 0 || bodyProjectID == header:
		return header, nil
	default:
		return 0, &apperrors.ValidationError{
			Items: []apperrors.FieldError{{
				Loc:  []string{"body", "project_id"},
				Msg:  "project_id does not match the X-Project-Id project",
				Type: "value_error.project",
			}},
			Cause: apperrors.ErrCrossProjectReference,
		}
	}
}

// inScope reports whether a record of projectID is visible under the request's X-Project-Id.
func inScope(r *http.Request, projectID uint) bool {
	header := middleware.ProjectID(r)
	return header == 0 || header == projectID
}

// scopeFilter is the project list endpoints filter on: X-Project-Id, else ?project_id=.
func scopeFilter(r *http.Request) uint {
	if id := middleware.ProjectID(r); id != 0 {
		return id
	}
	id, _ := parsePathUint(r.URL.Query().Get("project_id"))
	return id
}

func requireProject(db *gorm.DB, r *http.Request, id uint) error {
	var project models.Project
	err := database.Conn(r.Context(), db).Select("id").First(&project, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Validation("project_id", "project does not exist")
	}
	return err
}

// platformsReferencing counts platforms of any kind whose column equals id.
func platformsReferencing(db *gorm.DB, r *http.Request, registry *platform.Registry, column string, id uint) (int, error) {
	total := 0
	conn := database.Conn(r.Context(), db)
	for _, kind := range registry.Kinds() {
		if !conn.Migrator().HasColumn(kind.New(), column) {
			continue
		}
		rows, err := kind.Find(database.Conn(r.Context(), db).Where(column+" = ?", id))
		if err != nil {
			return 0, err
		}
		total += len(rows)
	}
	return total, nil
}

func notFound(what string, id uint) error {
	return apperrors.WithDetail(apperrors.ErrResourceNotFound, "%s %d not found", what, id)
}
