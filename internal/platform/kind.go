package platform

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"platformd/backend/internal/k8s"
	"platformd/backend/internal/models"
	"platformd/backend/internal/security"
)

// Kind describes one platform type: its tables, its template directory (named after the kind)
// and how its observed state is read back from the cluster.
type Kind interface {
	Name() string
	StateTable() string
	// Models returns the gorm models to migrate for this kind.
	Models() []any
	New() models.Platform
	Find(db *gorm.DB) ([]models.Platform, error)
	// References lists the project-scoped records the platform points at, beyond its cluster.
	References(p models.Platform) []Reference
	// RelatedVariables loads and decrypts referenced secret-bearing records for the template bag.
	RelatedVariables(ctx context.Context, db *gorm.DB, codec *security.Codec, p models.Platform) (map[string]any, error)
	BuildState(ctx context.Context, obs Observation, p models.Platform) (*models.PlatformState, error)
}

type Reference struct {
	Field string
	Table string
	ID    *uint
}

// Observation is what a poller needs to inspect one platform.
type Observation struct {
	Cluster   k8s.Cluster
	Namespace string
	Codec     *security.Codec
	Healthy   PhaseMatcher
	Now       time.Time
}

// PhaseMatcher is an allow-list of operator phases treated as healthy. Matching is a
// case-insensitive substring test so that minor wording changes across operator releases
// keep matching.
type PhaseMatcher []string

func (m PhaseMatcher) Healthy(phase string) bool {
	phase = strings.ToLower(strings.TrimSpace(phase))
	if phase == "" {
		return false
	}
	for _, allowed := range m {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed != "" && strings.Contains(phase, allowed) {
			return true
		}
	}
	return false
}

// FindAll loads every row of T as platforms.
func FindAll[T any, PT interface {
	*T
	models.Platform
}](db *gorm.DB) ([]models.Platform, error) {
	var rows []T
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Platform, len(rows))
	for i := range rows {
		out[i] = PT(&rows[i])
	}
	return out, nil
}
