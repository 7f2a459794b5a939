package rdb

import "time"

// DeploymentRecord is the RDB persistence model for domain Deployment.
// Table name: deployments
type DeploymentRecord struct {
	ID          string    `gorm:"primaryKey;type:text;not null"`
	Application string    `gorm:"type:text;not null;index:idx_deployments_target"`
	Environment string    `gorm:"type:text;not null;index:idx_deployments_target"`
	Service     string    `gorm:"type:text;not null;index:idx_deployments_target"`
	Namespace   string    `gorm:"type:text"`
	Operation   string    `gorm:"type:text;not null"`
	Phase       string    `gorm:"type:text"`
	Outcome     string    `gorm:"type:text"`
	Message     string    `gorm:"type:text"`
	Applied     int       `gorm:"not null"`
	Unchanged   int       `gorm:"not null"`
	Pruned      int       `gorm:"not null"`
	Warnings    string    `gorm:"type:text"` // JSON encoded []string
	StartedAt   time.Time `gorm:"not null;index"`
	FinishedAt  time.Time
}

func (DeploymentRecord) TableName() string { return "deployments" }
