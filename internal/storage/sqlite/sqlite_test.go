package sqlite

import (
	"testing"
	"time"
)

func TestRosterCache(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer db.Close()

	err = db.SaveRoster("1-9@chat", []RosterEntry{
		{UserID: 20, Subscription: "both"},
		{UserID: 10, Subscription: "none", Ask: "subscribe"},
	})
	if err != nil {
		t.Fatalf("SaveRoster returned error: %v", err)
	}

	entries, err := db.GetRoster("1-9@chat")
	if err != nil {
		t.Fatalf("GetRoster returned error: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != 10 || entries[0].Ask != "subscribe" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if err := db.SaveRoster("1-9@chat", []RosterEntry{{UserID: 30, Subscription: "to"}}); err != nil {
		t.Fatalf("SaveRoster returned error: %v", err)
	}
	entries, _ = db.GetRoster("1-9@chat")
	if len(entries) != 1 || entries[0].UserID != 30 {
		t.Fatalf("expected roster to be replaced, got %+v", entries)
	}

	other, _ := db.GetRoster("2-9@chat")
	if len(other) != 0 {
		t.Fatalf("expected no entries for another account")
	}

	if err := db.DeleteRoster("1-9@chat"); err != nil {
		t.Fatalf("DeleteRoster returned error: %v", err)
	}
	entries, _ = db.GetRoster("1-9@chat")
	if len(entries) != 0 {
		t.Fatalf("expected empty roster after delete")
	}
}

func TestSessionCache(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer db.Close()

	missing, err := db.GetSession("app")
	if err != nil || missing != nil {
		t.Fatalf("expected no session, got %+v (%v)", missing, err)
	}

	created := time.Unix(1700000000, 0)
	if err := db.SaveSession(Session{Account: "app", Token: "tok", UserID: 5, CreatedAt: created}); err != nil {
		t.Fatalf("SaveSession returned error: %v", err)
	}
	s, err := db.GetSession("app")
	if err != nil || s == nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if s.Token != "tok" || s.UserID != 5 || !s.CreatedAt.Equal(created) {
		t.Fatalf("unexpected session %+v", s)
	}

	_ = db.DeleteSession("app")
	if s, _ := db.GetSession("app"); s != nil {
		t.Fatalf("expected session to be deleted")
	}
}

func TestAppState(t *testing.T) {
	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer db.Close()

	if v, err := db.GetAppState("last_room"); err != nil || v != "" {
		t.Fatalf("expected empty state, got %q (%v)", v, err)
	}
	_ = db.SetAppState("last_room", "1_a@muc")
	if v, _ := db.GetAppState("last_room"); v != "1_a@muc" {
		t.Fatalf("expected stored value, got %q", v)
	}
}
