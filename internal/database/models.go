package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Supported remote database types, named after the engine's DB_TYPE values.
const (
	DBTypePostgres = "postgresdb"
	DBTypeMySQL    = "mysqldb"
)

// Instance is one remote automation-engine deployment reachable over SSH.
type Instance struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	URL         string    `json:"url"`
	SSHHost     string    `gorm:"not null" json:"ssh_host"`
	SSHPort     int       `gorm:"not null;default:22" json:"ssh_port"`
	SSHUser     string    `gorm:"not null" json:"ssh_user"`
	SSHKeyPath  string    `gorm:"not null" json:"ssh_key_path"`
	DBType      string    `gorm:"not null;default:postgresdb" json:"db_type"`
	DBHost      string    `gorm:"not null;default:127.0.0.1" json:"db_host"` // as seen from the SSH host
	DBPort      int       `gorm:"not null;default:5432" json:"db_port"`
	DBName      string    `gorm:"not null" json:"db_name"`
	DBUser      string    `gorm:"not null" json:"db_user"`
	DBPassword  string    `json:"-"` // Fernet-encrypted
	TablePrefix string    `gorm:"not null;default:''" json:"table_prefix"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	// Declared for the ON DELETE CASCADE constraints only; never loaded.
	Executions []Execution `gorm:"foreignKey:InstanceID;constraint:OnDelete:CASCADE" json:"-"`
	Sync       *SyncStatus `gorm:"foreignKey:InstanceID;constraint:OnDelete:CASCADE" json:"-"`
}

// BeforeCreate assigns a UUID when the caller did not pick an ID.
func (i *Instance) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// ApplyDefaults fills connection fields left empty by the caller.
func (i *Instance) ApplyDefaults() {
	if i.SSHPort == 0 {
		i.SSHPort = 22
	}
	if i.DBType == "" {
		i.DBType = DBTypePostgres
	}
	if i.DBHost == "" {
		i.DBHost = "127.0.0.1"
	}
	if i.DBPort == 0 {
		if i.DBType == DBTypeMySQL {
			i.DBPort = 3306
		} else {
			i.DBPort = 5432
		}
	}
}

// Execution is a cached copy of one remote workflow execution, unique per
// (InstanceID, ExecutionID).
type Execution struct {
	ID              uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	InstanceID      string         `gorm:"size:36;not null;uniqueIndex:idx_instance_execution,priority:1;index:idx_instance_created,priority:1" json:"instance_id"`
	ExecutionID     string         `gorm:"not null;uniqueIndex:idx_instance_execution,priority:2" json:"execution_id"`
	WorkflowID      string         `gorm:"index" json:"workflow_id"`
	WorkflowName    string         `json:"workflow_name"`
	Status          string         `gorm:"not null;index" json:"status"`
	Finished        bool           `gorm:"not null;default:false" json:"finished"`
	Mode            string         `json:"mode"`
	StartedAt       *time.Time     `json:"started_at"`
	StoppedAt       *time.Time     `json:"stopped_at"`
	DurationMs      *int64         `json:"duration_ms"`
	NodeCount       int            `gorm:"not null;default:0" json:"node_count"`
	ErrorMessage    string         `gorm:"type:text" json:"error_message"`
	ExecutionData   datatypes.JSON `json:"execution_data,omitempty"`
	WorkflowData    datatypes.JSON `json:"workflow_data,omitempty"`
	RemoteCreatedAt time.Time      `gorm:"not null;index:idx_instance_created,priority:2" json:"remote_created_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"cached_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncStatus records the outcome of the latest sync attempt for an instance.
// LastSyncedAt only moves on success and doubles as the incremental cursor.
type SyncStatus struct {
	InstanceID   string     `gorm:"primaryKey;size:36" json:"instance_id"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	LastSuccess  bool       `gorm:"not null;default:false" json:"last_success"`
	LastError    string     `gorm:"type:text" json:"last_error"`
	RecordCount  int        `gorm:"not null;default:0" json:"record_count"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
