package platform

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"k8s.io/apimachinery/pkg/api/resource"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/database"
	"platformd/backend/internal/models"
	"platformd/backend/internal/validation"
)

// Validate fills blank resource fields with their defaults, then checks field formats, request/limit ordering and that every referenced record lives in
// the platform's own project.
func Validate(ctx context.Context, db *gorm.DB, kind Kind, p models.Platform) error {
	p.Common().ApplyDefaults()
	if err := validation.Struct(p); err != nil {
		return err
	}
	if items := checkResources(p.Common()); len(items) > 0 {
		return &apperrors.ValidationError{Items: items}
	}

	base := p.Common()
	conn := database.Conn(ctx, db)
	var projects int64
	if err := conn.Model(&models.Project{}).Where("id = ?", base.ProjectID).Count(&projects).Error; err != nil {
		return err
	}
	if projects == 0 {
		return apperrors.Validation("project_id", fmt.Sprintf("project %d does not exist", base.ProjectID))
	}

	refs := append([]Reference{{Field: "k8s_cluster_id", Table: models.K8sCluster{}.TableName(), ID: base.K8sClusterID}}, kind.References(p)...)
	for _, ref := range refs {
		if ref.ID == nil {
			continue
		}
		var row struct{ ProjectID uint }
		res := conn.Table(ref.Table).Select("project_id").Where("id = ?", *ref.ID).Limit(1).Scan(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.Validation(ref.Field, fmt.Sprintf("record %d does not exist", *ref.ID))
		}
		if row.ProjectID != base.ProjectID {
			return &apperrors.ValidationError{
				Items: []apperrors.FieldError{{
					Loc:  []string{"body", ref.Field},
					Msg:  "referenced record belongs to another project",
					Type: "value_error.project",
				}},
				Cause: apperrors.ErrCrossProjectReference,
			}
		}
	}
	return nil
}

func checkResources(base *models.PlatformBase) []apperrors.FieldError {
	var items []apperrors.FieldError
	pairs := []struct{ reqField, limField, req, lim string }{
		{"cpu_request", "cpu_limit", base.CPURequest, base.CPULimit},
		{"mem_request", "mem_limit", base.MemRequest, base.MemLimit},
	}
	for _, pair := range pairs {
		req, err1 := resource.ParseQuantity(pair.req)
		lim, err2 := resource.ParseQuantity(pair.lim)
		if err1 != nil || err2 != nil {
			continue
		}
		if req.Cmp(lim) > 0 {
			items = append(items, apperrors.FieldError{
				Loc:  []string{"body", pair.reqField},
				Msg:  fmt.Sprintf("must be less than or equal to %s", pair.limField),
				Type: "value_error.resources",
			})
		}
	}
	return items
}
