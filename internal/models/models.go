package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// BackupRun is one dump or restore of all logical databases
type BackupRun struct {
	BaseModel
	Name       string     `json:"name" gorm:"not null;index"` // dump_YYYYMMDDHHmmss format
	Operation  string     `json:"operation" gorm:"not null"`  // dump or restore
	Directory  string     `json:"directory" gorm:"not null"`
	Status     RunStatus  `json:"status" gorm:"not null"`
	Halted     bool       `json:"halted" gorm:"not null;default:false"` // Restore stopped at a missing archive
	Error      string     `json:"error" gorm:"type:text"`
	StartedAt  time.Time  `json:"started_at" gorm:"not null;index"`
	FinishedAt *time.Time `json:"finished_at"`

	// Relationships
	Databases []DatabaseRun `json:"databases,omitempty" gorm:"foreignKey:RunID"`
}

// Duration returns how long the run took, zero while it is still running
func (r *BackupRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// DatabaseRun is the outcome for one logical database within a run
type DatabaseRun struct {
	BaseModel
	RunID        string     `json:"run_id" gorm:"not null;index"`
	Database     string     `json:"database" gorm:"not null"`      // Logical name, e.g. main or ci
	DatabaseName string     `json:"database_name" gorm:"not null"` // PostgreSQL database name
	Path         string     `json:"path" gorm:"not null"`
	SnapshotID   string     `json:"snapshot_id"`
	Success      bool       `json:"success" gorm:"not null;default:false"`
	Skipped      bool       `json:"skipped" gorm:"not null;default:false"`
	SizeBytes    int64      `json:"size_bytes" gorm:"not null;default:0"`
	Errors       string     `json:"errors" gorm:"type:text"` // Non-ignorable restore stderr, one per line
	StartedAt    *time.Time `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`

	Run BackupRun `json:"-" gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

// ErrorLines splits the recorded errors back into lines
func (d *DatabaseRun) ErrorLines() []string {
	if d.Errors == "" {
		return nil
	}
	return strings.Split(d.Errors, "\n")
}

// GenerateRunName generates a run name with UTC datetime format
// Returns: <operation>_YYYYMMDDHHmmss (e.g., dump_20251017143202)
func GenerateRunName(operation string, t time.Time) string {
	return fmt.Sprintf("%s_%s", operation, t.UTC().Format("20060102150405"))
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&BackupRun{}, &DatabaseRun{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}

// FindByIDWithPreload finds a record by ID with preloading
func FindByIDWithPreload[T any](db *gorm.DB, id string, model *T, preloads ...string) error {
	query := db
	for _, preload := range preloads {
		query = query.Preload(preload)
	}
	return FindByID(query, id, model)
}
