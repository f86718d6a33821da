package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_SQLiteDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freshkeeper.db")
	sqlDB, err := Open("sqlite://" + path)
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if sqlDB.DriverName() != "sqlite3" {
		t.Errorf("DriverName() = %s, want sqlite3", sqlDB.DriverName())
	}

	// The daemon writes while the CLI reads the same file, so WAL journaling
	// and a busy timeout must be on by default.
	var journalMode string
	if err := sqlDB.Get(&journalMode, "PRAGMA journal_mode"); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v, want nil", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}

	var busyTimeout int
	if err := sqlDB.Get(&busyTimeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatalf("PRAGMA busy_timeout error = %v, want nil", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("busy_timeout = %d, want 5000", busyTimeout)
	}
}

func TestOpen_SQLiteParamOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freshkeeper.db")
	sqlDB, err := Open("sqlite://" + path + "?_busy_timeout=250")
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	var busyTimeout int
	if err := sqlDB.Get(&busyTimeout, "PRAGMA busy_timeout"); err != nil {
		t.Fatalf("PRAGMA busy_timeout error = %v, want nil", err)
	}
	if busyTimeout != 250 {
		t.Errorf("busy_timeout = %d, want caller-supplied 250", busyTimeout)
	}
}

func TestOpen_Invalid(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"unsupported scheme", "mysql://root@localhost/freshkeeper"},
		{"unparseable url", "://nope"},
		{"sqlite without path", "sqlite://"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.url); err == nil {
				t.Errorf("Open(%q) error = nil, want error", tt.url)
			}
		})
	}
}
