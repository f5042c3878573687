package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ClusterTypeInCluster = "in-cluster"
	ClusterTypeRemote    = "remote"

	AuthTypeKubeconfig = "kubeconfig"
	AuthTypeToken      = "token"
)

// Base carries the identity and timestamps every record shares.
type Base struct {
	ID        uint      `gorm:"primaryKey;column:id" json:"id"`
	UUID      string    `gorm:"column:uuid;type:varchar(36);uniqueIndex;not null" json:"uuid"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.UUID == "" {
		b.UUID = uuid.NewString()
	}
	return nil
}

// Project maps to mw_project.
type Project struct {
	Base
	Name                 string  `gorm:"column:name;type:varchar(63);uniqueIndex;not null" json:"name" validate:"required,max=63,dns1123"`
	K8sNamespace         string  `gorm:"column:k8s_namespace;not null" json:"k8s_namespace"`
	K8sClusterType       string  `gorm:"column:k8s_cluster_type;not null;default:remote" json:"k8s_cluster_type" validate:"omitempty,oneof=in-cluster remote"`
	K8sClusterKubeconfig *string `gorm:"column:k8s_cluster_kubeconfig;type:text" json:"k8s_cluster_kubeconfig,omitempty"`
}

func (Project) TableName() string {
	return "mw_project"
}

// NormalizeNamespace applies the namespace rules: blank falls back to the project name and trailing
// hyphens are dropped.
func (p *Project) NormalizeNamespace() {
	ns := strings.TrimSpace(p.K8sNamespace)
	if ns == "" {
		ns = p.Name
	}
	p.K8sNamespace = strings.TrimRight(ns, "-")
	if p.K8sClusterType == "" {
		p.K8sClusterType = ClusterTypeRemote
	}
}

// K8sCluster maps to mw_k8s_cluster. Credentials are stored through the secret codec.
type K8sCluster struct {
	Base
	ProjectID     uint    `gorm:"column:project_id;index;not null" json:"project_id"`
	Name          string  `gorm:"column:name;not null" json:"name" validate:"required,max=128"`
	Endpoint      string  `gorm:"column:endpoint" json:"endpoint"`
	AuthType      string  `gorm:"column:auth_type;not null;default:kubeconfig" json:"auth_type" validate:"omitempty,oneof=kubeconfig token"`
	KubeconfigEnc string  `gorm:"column:kubeconfig;type:text" json:"-"`
	TokenEnc      string  `gorm:"column:token;type:text" json:"-"`
	CACert        *string `gorm:"column:ca_cert;type:text" json:"ca_cert,omitempty"`
	IsActive      bool    `gorm:"column:is_active;default:true" json:"is_active"`
}

func (K8sCluster) TableName() string {
	return "mw_k8s_cluster"
}

// S3Storage maps to mw_s3_storage, the object store credentials used for database backups.
type S3Storage struct {
	Base
	ProjectID    uint   `gorm:"column:project_id;index;not null" json:"project_id"`
	Name         string `gorm:"column:name;not null" json:"name" validate:"required,max=128"`
	Endpoint     string `gorm:"column:endpoint;not null" json:"endpoint" validate:"required,url"`
	Bucket       string `gorm:"column:bucket;not null" json:"bucket" validate:"required"`
	Region       string `gorm:"column:region" json:"region"`
	AccessKey    string `gorm:"column:access_key;not null" json:"access_key" validate:"required"`
	SecretKeyEnc string `gorm:"column:secret_key;type:text;not null" json:"-"`
}

func (S3Storage) TableName() string {
	return "mw_s3_storage"
}
