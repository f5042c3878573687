package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusUnknown  = "unknown"
	StatusPending  = "pending"
	StatusOnline   = "online"
	StatusDegraded = "degraded"
	StatusError    = "error"
	StatusOffline  = "offline"
)

// Platform is implemented by every concrete platform model through the embedded PlatformBase.
type Platform interface {
	Common() *PlatformBase
}

// PlatformBase holds the columns shared by all platform tables.
type PlatformBase struct {
	Base
	Name         string `gorm:"column:name;type:varchar(63);not null;index" json:"name" validate:"required,max=63,dns1123"`
	Title        string `gorm:"column:title" json:"title"`
	ProjectID    uint   `gorm:"column:project_id;not null;index" json:"project_id"`
	K8sClusterID *uint  `gorm:"column:k8s_cluster_id;index" json:"k8s_cluster_id,omitempty"`
	CPURequest   string `gorm:"column:cpu_request;not null;default:100m" json:"cpu_request" validate:"omitempty,quantity"`
	CPULimit     string `gorm:"column:cpu_limit;not null;default:1" json:"cpu_limit" validate:"omitempty,quantity"`
	MemRequest   string `gorm:"column:mem_request;not null;default:256Mi" json:"mem_request" validate:"omitempty,quantity"`
	MemLimit     string `gorm:"column:mem_limit;not null;default:1Gi" json:"mem_limit" validate:"omitempty,quantity"`
}

func (p *PlatformBase) Common() *PlatformBase { return p }

const (
	DefaultCPURequest = "100m"
	DefaultCPULimit   = "1"
	DefaultMemRequest = "256Mi"
	DefaultMemLimit   = "1Gi"
)

// ApplyDefaults fills blank resource fields with the column defaults so the values checked are
// the values stored.
func (p *PlatformBase) ApplyDefaults() {
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&p.CPURequest, DefaultCPURequest)
	fill(&p.CPULimit, DefaultCPULimit)
	fill(&p.MemRequest, DefaultMemRequest)
	fill(&p.MemLimit, DefaultMemLimit)
}

type NodePort struct {
	Port     int32 `json:"port"`
	NodePort int32 `json:"node_port"`
}

type ClusterNode struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
}

// PlatformState is the observed state of one platform. Each kind stores it in its own
// mw_<kind>_platform_state table keyed by platform_id.
type PlatformState struct {
	PlatformID    uint           `gorm:"column:platform_id;primaryKey;autoIncrement:false" json:"platform_id"`
	UUID          string         `gorm:"column:uuid;type:varchar(36);not null" json:"uuid"`
	Status        string         `gorm:"column:status;not null;default:unknown" json:"status"`
	Active        bool           `gorm:"column:active;not null;default:false" json:"active"`
	Message       string         `gorm:"column:message;type:text" json:"message"`
	LastHeartbeat *time.Time     `gorm:"column:last_heartbeat" json:"last_heartbeat"`
	NodePorts     []NodePort     `gorm:"column:node_ports;type:text;serializer:json" json:"node_ports"`
	ClusterNodes  []ClusterNode  `gorm:"column:cluster_nodes;type:text;serializer:json" json:"cluster_nodes"`
	DBUser        *string        `gorm:"column:db_user" json:"db_user"`
	DBName        *string        `gorm:"column:db_name" json:"db_name"`
	DBCACrt       *string        `gorm:"column:db_ca_crt;type:text" json:"db_ca_crt"`
	DBPass        *string        `gorm:"column:db_pass;type:text" json:"db_pass"`
	ExtraData     map[string]any `gorm:"column:extra_data;type:text;serializer:json" json:"extra_data"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (s *PlatformState) BeforeCreate(tx *gorm.DB) error {
	if s.UUID == "" {
		s.UUID = uuid.NewString()
	}
	return nil
}

// NewPlatformState returns the state a platform has before anything was deployed.
func NewPlatformState(platformID uint) *PlatformState {
	return &PlatformState{
		PlatformID:   platformID,
		Status:       StatusUnknown,
		NodePorts:    []NodePort{},
		ClusterNodes: []ClusterNode{},
		ExtraData:    map[string]any{},
	}
}

// Decommissioned resets everything observed from the cluster.
func (s *PlatformState) Decommissioned() {
	s.Status = StatusOffline
	s.Active = false
	s.Message = "Decommissioned"
	s.NodePorts = []NodePort{}
	s.ClusterNodes = []ClusterNode{}
	s.ExtraData = map[string]any{}
	s.DBUser = nil
	s.DBName = nil
	s.DBCACrt = nil
	s.DBPass = nil
}

// PgSqlPlatform maps to mw_pgsql_platform.
type PgSqlPlatform struct {
	PlatformBase
	Instances     int    `gorm:"column:instances;not null;default:1" json:"instances" validate:"omitempty,min=1,max=16"`
	StorageSize   string `gorm:"column:storage_size;not null;default:1Gi" json:"storage_size" validate:"omitempty,quantity"`
	PgVersion     string `gorm:"column:pg_version;not null;default:16" json:"pg_version" validate:"omitempty,numeric"`
	S3StorageID   *uint  `gorm:"column:s3_storage_id;index" json:"s3_storage_id,omitempty"`
	BackupEnabled bool   `gorm:"column:backup_enabled;not null;default:false" json:"backup_enabled"`
}

func (PgSqlPlatform) TableName() string {
	return "mw_pgsql_platform"
}

// PgSqlPlatformState is only used to migrate mw_pgsql_platform_state with its foreign key;
// rows are read and written as PlatformState.
type PgSqlPlatformState struct {
	PlatformState
	Platform *PgSqlPlatform `gorm:"foreignKey:PlatformID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (PgSqlPlatformState) TableName() string {
	return "mw_pgsql_platform_state"
}
