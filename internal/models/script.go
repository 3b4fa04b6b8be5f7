package models

import "time"

// Script formats.
const (
	FormatPytest     = "pytest"
	FormatPlaywright = "playwright"
	FormatYAML       = "yaml"
)

// Script is a generated or uploaded test artifact.
type Script struct {
	ID          string `gorm:"primaryKey;size:32"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	Format      string `gorm:"size:16;index"`
	Content     string `gorm:"type:text"`
	SessionID   string `gorm:"size:64;index"`
	Tags        string `gorm:"size:256"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
