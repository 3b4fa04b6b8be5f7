package models

import "time"

// Document is an uploaded requirement file fed to the analyzer.
type Document struct {
	ID          string `gorm:"primaryKey;size:32"`
	Name        string `gorm:"size:256;not null"`
	ContentType string `gorm:"size:128"`
	SizeBytes   int64
	Path        string `gorm:"size:512"`
	SessionID   string `gorm:"size:64;index"`
	CreatedAt   time.Time
}
