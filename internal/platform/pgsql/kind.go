// Package pgsql implements the PostgreSQL platform kind on top of the CloudNativePG operator.
package pgsql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"platformd/backend/internal/apperrors"
	"platformd/backend/internal/models"
	"platformd/backend/internal/platform"
	"platformd/backend/internal/security"
)

const (
	KindName = "pgsql"

	clusterAPIVersion = "postgresql.cnpg.io/v1"
	clusterKind       = "Cluster"
)

type Kind struct{}

func New() *Kind { return &Kind{} }

func (*Kind) Name() string { return KindName }

func (*Kind) StateTable() string { return models.PgSqlPlatformState{}.TableName() }

func (*Kind) Models() []any {
	return []any{&models.PgSqlPlatform{}, &models.PgSqlPlatformState{}}
}

func (*Kind) New() models.Platform { return &models.PgSqlPlatform{} }

func (*Kind) Find(db *gorm.DB) ([]models.Platform, error) {
	return platform.FindAll[models.PgSqlPlatform](db)
}

func (*Kind) References(p models.Platform) []platform.Reference {
	pg := p.(*models.PgSqlPlatform)
	return []platform.Reference{{Field: "s3_storage_id", Table: models.S3Storage{}.TableName(), ID: pg.S3StorageID}}
}

// RelatedVariables flattens the backup object store, secret key decrypted, under the s3_ prefix.
func (*Kind) RelatedVariables(ctx context.Context, db *gorm.DB, codec *security.Codec, p models.Platform) (map[string]any, error) {
	pg := p.(*models.PgSqlPlatform)
	vars := map[string]any{}
	if pg.S3StorageID == nil {
		return vars, nil
	}

	var storage models.S3Storage
	if err := db.WithContext(ctx).First(&storage, *pg.S3StorageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: s3 storage %d", apperrors.ErrResourceNotFound, *pg.S3StorageID)
		}
		return nil, err
	}
	secretKey, err := codec.Decrypt(storage.SecretKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("s3 storage %q: %w", storage.Name, err)
	}
	vars["s3_name"] = storage.Name
	vars["s3_endpoint"] = storage.Endpoint
	vars["s3_bucket"] = storage.Bucket
	vars["s3_region"] = storage.Region
	vars["s3_access_key"] = storage.AccessKey
	vars["s3_secret_key"] = secretKey
	return vars, nil
}
