package db

import (
	"path/filepath"
	"testing"

	"github.com/mbellotti/testyard/internal/config"
	"github.com/mbellotti/testyard/internal/models"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StorageConfig
		want string
	}{
		{
			name: "no password",
			cfg:  config.StorageConfig{User: "root", Host: "127.0.0.1", Port: 3306, Database: "testyard"},
			want: "root@tcp(127.0.0.1:3306)/testyard?parseTime=true",
		},
		{
			name: "with password",
			cfg:  config.StorageConfig{User: "ci", Password: "hunter2", Host: "10.0.0.5", Port: 3307, Database: "testyard_ci"},
			want: "ci:hunter2@tcp(10.0.0.5:3307)/testyard_ci?parseTime=true",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.StorageConfig{Driver: "postgres"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestConnect_SqliteAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ty.db")
	gdb, err := Connect(config.StorageConfig{Driver: "sqlite", Path: path})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// All tables usable after migration.
	script := models.Script{ID: "scr-00000001", Name: "login", Format: models.FormatPytest}
	if err := gdb.Create(&script).Error; err != nil {
		t.Fatalf("create script: %v", err)
	}

	var got models.Script
	if err := gdb.First(&got, "id = ?", "scr-00000001").Error; err != nil {
		t.Fatalf("read script back: %v", err)
	}
	if got.Name != "login" {
		t.Errorf("Name = %q, want login", got.Name)
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 4 {
		t.Errorf("len(AllModels()) = %d, want 4", got)
	}
}
