// Package database holds the persisted shapes the gateway lifecycle core
// reads and writes, and the repositories that mediate access to them.
package database

import (
	"time"

	"gorm.io/gorm"
)

// BackendType enumerates the cloud backends a project may provision
// gateways on. DSTACK is the managed-default backend: its gateways are
// not user-deletable and not user-retargetable (spec.md §4.F).
type BackendType string

const (
	BackendAWS        BackendType = "aws"
	BackendGCP        BackendType = "gcp"
	BackendAzure      BackendType = "azure"
	BackendKubernetes BackendType = "kubernetes"
	BackendVastAI     BackendType = "vastai"
	BackendTensorDock BackendType = "tensordock"
	BackendCudo       BackendType = "cudo"
	BackendDataCrunch BackendType = "datacrunch"
	BackendRunPod     BackendType = "runpod"
	BackendDstack     BackendType = "dstack"
)

// BackendsWithPrivateGatewaySupport lists the backends that may host a
// gateway with public_ip=false (spec.md §3, BACKENDS_WITH_PRIVATE_GATEWAY_SUPPORT).
var BackendsWithPrivateGatewaySupport = []BackendType{
	BackendKubernetes,
	BackendVastAI,
	BackendDataCrunch,
}

func SupportsPrivateGateway(b BackendType) bool {
	for _, supported := range BackendsWithPrivateGatewaySupport {
		if supported == b {
			return true
		}
	}
	return false
}

// GatewayStatus is the monotonic gateway state machine (spec.md §9):
// once FAILED, no transition back without explicit user action.
type GatewayStatus string

const (
	GatewayStatusSubmitted    GatewayStatus = "submitted"
	GatewayStatusProvisioning GatewayStatus = "provisioning"
	GatewayStatusRunning      GatewayStatus = "running"
	GatewayStatusFailed       GatewayStatus = "failed"
)

// Project is the external tenancy boundary gateways and runs belong to.
// Auth/authz and the rest of project lifecycle are out of scope; only
// the fields the gateway core reads or mutates are modeled here.
type Project struct {
	ID               string  `gorm:"type:text;primaryKey" json:"id"`
	Name             string  `gorm:"type:text;not null;uniqueIndex:idx_project_name" json:"name"`
	DefaultGatewayID *string `gorm:"type:text" json:"default_gateway_id,omitempty"`
	SSHPrivateKey    string  `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

// Backend is a configured cloud backend for a project.
type Backend struct {
	ID        string      `gorm:"type:text;primaryKey" json:"id"`
	ProjectID string      `gorm:"type:text;not null;index" json:"project_id"`
	Type      BackendType `gorm:"type:text;not null" json:"type"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"created_at"`
}

func (Backend) TableName() string { return "backends" }

// GatewayCompute is the VM underlying a gateway: IP, keys, backend handle.
// deleted ⇒ ¬active, and once deleted it is never reactivated (spec.md §3).
type GatewayCompute struct {
	ID            string `gorm:"type:text;primaryKey" json:"id"`
	InstanceID    string `gorm:"type:text;not null" json:"instance_id"`
	IPAddress     string `gorm:"type:text;not null" json:"ip_address"`
	Region        string `gorm:"type:text" json:"region"`
	SSHPrivateKey string `gorm:"type:text;not null" json:"-"`
	SSHPublicKey  string `gorm:"type:text;not null" json:"ssh_public_key"`
	Active        bool   `gorm:"not null;default:true" json:"active"`
	Deleted       bool   `gorm:"not null;default:false" json:"deleted"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"updated_at"`
}

func (GatewayCompute) TableName() string { return "gateway_computes" }

// Gateway is the persisted reverse-proxy VM record. configuration holds
// the serialized GatewayConfiguration value object (spec.md §3/§6).
type Gateway struct {
	ID               string  `gorm:"type:text;primaryKey" json:"id"`
	ProjectID        string  `gorm:"type:text;not null;uniqueIndex:idx_gateway_project_name" json:"project_id"`
	Name             string  `gorm:"type:text;not null;uniqueIndex:idx_gateway_project_name" json:"name"`
	Region           string  `gorm:"type:text" json:"region"`
	WildcardDomain   *string `gorm:"type:text" json:"wildcard_domain,omitempty"`
	BackendID        string  `gorm:"type:text;not null" json:"backend_id"`
	Configuration    string  `gorm:"type:text" json:"-"`
	Status           GatewayStatus `gorm:"type:text;not null" json:"status"`
	StatusMessage    *string `gorm:"type:text" json:"status_message,omitempty"`
	LastProcessedAt  time.Time `gorm:"type:timestamptz;not null" json:"last_processed_at"`
	GatewayComputeID *string `gorm:"type:text" json:"gateway_compute_id,omitempty"`

	CreatedAt time.Time      `gorm:"type:timestamptz;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Gateway) TableName() string { return "gateways" }

// Run is a user workload that may be exposed through a gateway service.
// RunSpec/ServiceSpec are opaque JSON blobs; only the fields the gateway
// core parses out of them are modeled by the value objects in this
// package's configuration.go.
type Run struct {
	ID          string  `gorm:"type:text;primaryKey" json:"id"`
	ProjectID   string  `gorm:"type:text;not null;index" json:"project_id"`
	RunName     string  `gorm:"type:text;not null" json:"run_name"`
	RunSpec     string  `gorm:"type:text;not null" json:"-"`
	GatewayID   *string `gorm:"type:text" json:"gateway_id,omitempty"`
	ServiceSpec *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now()" json:"updated_at"`
}

func (Run) TableName() string { return "runs" }
