package chat

import (
	"testing"

	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/database"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/jobqueue"
)

func newTestStore(t *testing.T) (*Store, *contact.Store) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	contacts := contact.NewStore(db.DB)
	s := NewStore(db.DB, contacts, jobqueue.New(), events.New(), nil)
	return s, contacts
}

func TestCreateOrLookupSingleChatIsIdempotent(t *testing.T) {
	s, contacts := newTestStore(t)

	c, err := contacts.CreateOrUpdate("alice@example.com", "Alice")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}

	id1, blocked, err := s.CreateOrLookupSingleChat(c.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if id1 <= 9 {
		t.Fatalf("expected user chat id > 9, got %d", id1)
	}
	if blocked != Unblocked {
		t.Fatalf("expected unblocked, got %v", blocked)
	}

	id2, _, err := s.CreateOrLookupSingleChat(c.ID)
	if err != nil {
		t.Fatalf("lookup chat: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected idempotent lookup, got %d then %d", id1, id2)
	}

	loaded, err := s.Load(id1)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != "Alice" {
		t.Fatalf("expected name Alice, got %q", loaded.Name)
	}

	ids, err := s.GetContacts(id1)
	if err != nil {
		t.Fatalf("get contacts: %v", err)
	}
	if len(ids) != 1 || ids[0] != c.ID {
		t.Fatalf("expected membership [%d], got %v", c.ID, ids)
	}
}

func TestSelfTalkSubtitle(t *testing.T) {
	s, contacts := newTestStore(t)

	self, err := contacts.CreateOrUpdate("me@example.com", "")
	if err != nil {
		t.Fatalf("create self contact: %v", err)
	}
	if err := contacts.SetVerified(self.ID, false); err != nil {
		t.Fatalf("set verified: %v", err)
	}
	_, err = s.db.Exec(`UPDATE contacts SET is_self = 1 WHERE id = ?`, self.ID)
	if err != nil {
		t.Fatalf("mark self: %v", err)
	}
	self, err = contacts.Get(self.ID)
	if err != nil {
		t.Fatalf("reload self: %v", err)
	}

	id, _, err := s.CreateOrLookupSingleChat(self.ID)
	if err != nil {
		t.Fatalf("create self chat: %v", err)
	}

	c, err := s.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.IsSelfTalk() {
		t.Fatal("expected self-talk marker set")
	}

	subtitle, err := s.GetSubtitle(c)
	if err != nil {
		t.Fatalf("get subtitle: %v", err)
	}
	if subtitle != "Messages I sent to myself" {
		t.Fatalf("got %q", subtitle)
	}
}

func TestGetColorIsDeterministic(t *testing.T) {
	s, contacts := newTestStore(t)

	c, err := contacts.CreateOrUpdate("bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	id, _, err := s.CreateOrLookupSingleChat(c.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	chat, err := s.Load(id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	color1, err := s.GetColor(chat)
	if err != nil {
		t.Fatalf("get color: %v", err)
	}
	color2, err := s.GetColor(chat)
	if err != nil {
		t.Fatalf("get color again: %v", err)
	}
	if color1 != color2 {
		t.Fatalf("expected deterministic color, got %x then %x", color1, color2)
	}
}

func TestArchiveMarksFreshMessagesNoticed(t *testing.T) {
	s, contacts := newTestStore(t)

	c, err := contacts.CreateOrUpdate("carol@example.com", "Carol")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	id, _, err := s.CreateOrLookupSingleChat(c.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if _, err := s.db.Exec(`INSERT INTO msgs (chat_id, state) VALUES (?, 'in-fresh')`, id); err != nil {
		t.Fatalf("insert message: %v", err)
	}

	if err := s.Archive(id, true); err != nil {
		t.Fatalf("archive: %v", err)
	}

	var state string
	if err := s.db.QueryRow(`SELECT state FROM msgs WHERE chat_id = ?`, id).Scan(&state); err != nil {
		t.Fatalf("query state: %v", err)
	}
	if state != "in-noticed" {
		t.Fatalf("expected in-noticed, got %q", state)
	}
}

func TestDeleteCascadesAndEnqueuesHousekeeping(t *testing.T) {
	s, contacts := newTestStore(t)

	c, err := contacts.CreateOrUpdate("dave@example.com", "Dave")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	id, _, err := s.CreateOrLookupSingleChat(c.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if err := s.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	loaded, err := s.Load(id)
	if err != nil {
		t.Fatalf("load after delete: %v", err)
	}
	if loaded != nil {
		t.Fatalf("expected chat gone, got %+v", loaded)
	}
	if s.jobs.Len() != 1 {
		t.Fatalf("expected one housekeeping job queued, got %d", s.jobs.Len())
	}
}
