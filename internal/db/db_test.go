package db

import (
	"testing"

	"github.com/IqraKhanZ/ChatNest/internal/models"
)

func TestConnect_UnsupportedDriver(t *testing.T) {
	if _, err := Connect("oracle", "whatever"); err == nil {
		t.Error("Connect() should reject an unknown driver")
	}
}

func TestConnectAndMigrate_SQLite(t *testing.T) {
	gdb, err := Connect("sqlite", "file:db_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := Migrate(gdb); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	p := models.Profile{Email: "a@example.com", Username: "alice", PasswordHash: "x"}
	if err := gdb.Create(&p).Error; err != nil {
		t.Fatalf("create profile: %v", err)
	}
	if p.ID == "" {
		t.Error("profile ID should be assigned on create")
	}

	m := models.Message{RoomID: "room-1", AuthorID: &p.ID, Content: "hi"}
	if err := gdb.Create(&m).Error; err != nil {
		t.Fatalf("create message: %v", err)
	}
	if len(m.ID) != 26 {
		t.Errorf("message ID = %q, want a 26-char ULID", m.ID)
	}
}
