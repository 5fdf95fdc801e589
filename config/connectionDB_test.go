package config

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

type ledgerRow struct {
	ID   uint
	Name string
}

func TestGormLoggerSkipsRecordNotFound(t *testing.T) {
	log, hook := test.NewNullLogger()
	db, err := ConnectDatabase(DatabaseConfig{
		Driver: "sqlite",
		URL:    filepath.Join(t.TempDir(), "logger.db"),
	}, log)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&ledgerRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var row ledgerRow
	if err := db.Where("name = ?", "missing").First(&row).Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if entries := hook.AllEntries(); len(entries) != 0 {
		t.Fatalf("expected no log entries for a missing row, got %d: %s", len(entries), entries[0].Message)
	}

	if err := db.Exec("SELECT * FROM table_that_does_not_exist").Error; err == nil {
		t.Fatal("expected query error")
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected the failed query to be logged")
	}
	if entry.Level != logrus.WarnLevel || entry.Data["component"] != "gorm" {
		t.Fatalf("unexpected entry %v %v", entry.Level, entry.Data)
	}
}
