package message

import (
	"testing"

	"github.com/mtlchat/corechat/internal/appstate"
	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/chat"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/database"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/jobqueue"
	"github.com/mtlchat/corechat/internal/params"
)

type testEnv struct {
	db       *database.DB
	chats    *chat.Store
	contacts *contact.Store
	msgs     *Store
	cfg      *config.Store
	prep     *Preparer
	selfID   int64
	peerID   int64
}

func newTestEnv(t *testing.T) *testEnv {
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
	chats := chat.NewStore(db.DB, contacts, jobqueue.New(), events.New(), nil)
	msgs := NewStore(db.DB)
	cfg := config.NewStore(db.DB)
	if err := cfg.Set(config.KeyConfiguredAddr, "me@example.com"); err != nil {
		t.Fatalf("set addr: %v", err)
	}

	self, err := contacts.CreateOrUpdate("me@example.com", "")
	if err != nil {
		t.Fatalf("create self: %v", err)
	}
	if _, err := db.Exec(`UPDATE contacts SET is_self = 1 WHERE id = ?`, self.ID); err != nil {
		t.Fatalf("mark self: %v", err)
	}

	peer, err := contacts.CreateOrUpdate("peer@example.com", "Peer")
	if err != nil {
		t.Fatalf("create peer: %v", err)
	}

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new blobstore: %v", err)
	}
	clock := appstate.NewSmearedClock(nil)
	bus := events.New()

	prep := NewPreparer(msgs, chats, contacts, cfg, blobs, clock, bus, self.ID)

	return &testEnv{db: db, chats: chats, contacts: contacts, msgs: msgs, cfg: cfg, prep: prep, selfID: self.ID, peerID: peer.ID}
}

func TestPrepareRejectsReservedChatID(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.prep.Prepare(1, &Message{Type: TypeText, Text: "hi"}, false)
	if err == nil {
		t.Fatal("expected error for reserved chat id")
	}
}

func TestPrepareAssignsServerMessageIDAndThreading(t *testing.T) {
	env := newTestEnv(t)
	chatID, _, err := env.chats.CreateOrLookupSingleChat(env.peerID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	id1, err := env.prep.Prepare(chatID, &Message{Type: TypeText, Text: "hello"}, false)
	if err != nil {
		t.Fatalf("prepare first: %v", err)
	}
	m1, err := env.msgs.Get(id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m1.Rfc724Mid == "" || m1.State != StateOutPreparing {
		t.Fatalf("unexpected message: %+v", m1)
	}
	if m1.ChatID != chatID {
		t.Fatalf("expected chat id set, got %d", m1.ChatID)
	}

	// Simulate an incoming reply from the peer so threading has a parent.
	_, err = env.db.Exec(`INSERT INTO msgs (chat_id, from_id, timestamp, rfc724_mid, state) VALUES (?, ?, ?, ?, 'in-fresh')`,
		chatID, env.peerID, m1.Timestamp+1, "incoming@example.com")
	if err != nil {
		t.Fatalf("insert incoming: %v", err)
	}

	id2, err := env.prep.Prepare(chatID, &Message{Type: TypeText, Text: "reply"}, false)
	if err != nil {
		t.Fatalf("prepare second: %v", err)
	}
	m2, err := env.msgs.Get(id2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m2.InReplyTo != "incoming@example.com" {
		t.Fatalf("expected threading to peer message, got %q", m2.InReplyTo)
	}
	if m2.Timestamp <= m1.Timestamp {
		t.Fatalf("expected strictly increasing timestamps, got %d then %d", m1.Timestamp, m2.Timestamp)
	}
}

func TestPrepareRequiresAttachmentForImageType(t *testing.T) {
	env := newTestEnv(t)
	chatID, _, err := env.chats.CreateOrLookupSingleChat(env.peerID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	_, err = env.prep.Prepare(chatID, &Message{Type: TypeImage}, false)
	if err == nil {
		t.Fatal("expected error for missing attachment")
	}
}

func TestPrepareRejectsSendToGroupWithoutSelf(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.db.Exec(`INSERT INTO chats (type, name, grpid, param) VALUES (?, 'Group', 'g1', '')`, chat.TypeGroup)
	if err != nil {
		t.Fatalf("insert group: %v", err)
	}
	groupID, _ := res.LastInsertId()
	if _, err := env.db.Exec(`INSERT INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, groupID, env.peerID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	_, err = env.prep.Prepare(groupID, &Message{Type: TypeText, Text: "hi"}, false)
	if err == nil {
		t.Fatal("expected precondition error for self not in group")
	}
}

func TestGuaranteeE2EERequiresPeerstate(t *testing.T) {
	env := newTestEnv(t)
	chatID, _, err := env.chats.CreateOrLookupSingleChat(env.peerID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	id, err := env.prep.Prepare(chatID, &Message{Type: TypeText, Text: "hi"}, false)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	m, err := env.msgs.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Param.GetBool(params.GuaranteeE2EE) {
		t.Fatal("expected guarantee-e2ee false without peerstate")
	}

	if err := env.contacts.SetPeerstate(env.peerID, true, true); err != nil {
		t.Fatalf("set peerstate: %v", err)
	}
	id2, err := env.prep.Prepare(chatID, &Message{Type: TypeText, Text: "hi again"}, false)
	if err != nil {
		t.Fatalf("prepare 2: %v", err)
	}
	m2, err := env.msgs.Get(id2)
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if !m2.Param.GetBool(params.GuaranteeE2EE) {
		t.Fatal("expected guarantee-e2ee true with mutual peerstate")
	}
}
