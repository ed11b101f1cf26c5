package send

import (
	"strconv"
	"testing"

	"github.com/mtlchat/corechat/internal/appstate"
	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/chat"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/database"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/jobqueue"
	"github.com/mtlchat/corechat/internal/message"
	"github.com/mtlchat/corechat/internal/params"
)

type testEnv struct {
	db       *database.DB
	chats    *chat.Store
	contacts *contact.Store
	msgs     *message.Store
	jobs     *jobqueue.Queue
	dispatch *Dispatcher
	selfID   int64
	peerID   int64
	chatID   int64
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
	jobs := jobqueue.New()
	bus := events.New()
	chats := chat.NewStore(db.DB, contacts, jobs, bus, nil)
	msgs := message.NewStore(db.DB)
	cfg := config.NewStore(db.DB)
	if err := cfg.Set(config.KeyConfiguredAddr, "me@example.com"); err != nil {
		t.Fatalf("set addr: %v", err)
	}

	self, err := contacts.CreateOrUpdate("me@example.com", "")
	if err != nil {
		t.Fatalf("create self: %v", err)
	}
	peer, err := contacts.CreateOrUpdate("peer@example.com", "Peer")
	if err != nil {
		t.Fatalf("create peer: %v", err)
	}
	chatID, _, err := chats.CreateOrLookupSingleChat(peer.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new blobstore: %v", err)
	}
	clock := appstate.NewSmearedClock(nil)
	prep := message.NewPreparer(msgs, chats, contacts, cfg, blobs, clock, bus, self.ID)
	dispatch := NewDispatcher(prep, msgs, jobs, bus, self.ID)

	return &testEnv{db: db, chats: chats, contacts: contacts, msgs: msgs, jobs: jobs, dispatch: dispatch, selfID: self.ID, peerID: peer.ID, chatID: chatID}
}

func TestSendFromScratchEnqueuesJob(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.dispatch.Send(env.chatID, &message.Message{Type: message.TypeText, Text: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	m, err := env.msgs.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.State != message.StateOutPending {
		t.Fatalf("expected out-pending, got %s", m.State)
	}
	if env.jobs.Len() != 1 {
		t.Fatalf("expected one queued job, got %d", env.jobs.Len())
	}
}

func TestSendPromotesAlreadyPreparedMessage(t *testing.T) {
	env := newTestEnv(t)
	prep := env.dispatch.prep

	id, err := prep.Prepare(env.chatID, &message.Message{Type: message.TypeText, Text: "draft-like"}, false)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	m, err := env.msgs.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.State != message.StateOutPreparing {
		t.Fatalf("expected out-preparing, got %s", m.State)
	}

	sentID, err := env.dispatch.Send(env.chatID, m)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sentID != id {
		t.Fatalf("expected same message id promoted, got %d want %d", sentID, id)
	}
	m2, err := env.msgs.Get(id)
	if err != nil {
		t.Fatalf("get 2: %v", err)
	}
	if m2.State != message.StateOutPending {
		t.Fatalf("expected out-pending after promotion, got %s", m2.State)
	}
}

func TestSendRejectsChatIDMismatchForPreparedMessage(t *testing.T) {
	env := newTestEnv(t)
	prep := env.dispatch.prep

	other, err := env.contacts.CreateOrUpdate("other@example.com", "Other")
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	otherChat, _, err := env.chats.CreateOrLookupSingleChat(other.ID)
	if err != nil {
		t.Fatalf("create other chat: %v", err)
	}

	id, err := prep.Prepare(env.chatID, &message.Message{Type: message.TypeText, Text: "hi"}, false)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	m, err := env.msgs.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if _, err := env.dispatch.Send(otherChat, m); err == nil {
		t.Fatal("expected chat id mismatch error")
	}
}

func TestForwardFanOutSendsEachOriginalAndClearsTag(t *testing.T) {
	env := newTestEnv(t)

	id1, err := env.dispatch.Send(env.chatID, &message.Message{Type: message.TypeText, Text: "first"})
	if err != nil {
		t.Fatalf("send 1: %v", err)
	}
	id2, err := env.dispatch.Send(env.chatID, &message.Message{Type: message.TypeText, Text: "second"})
	if err != nil {
		t.Fatalf("send 2: %v", err)
	}

	fwdParam := make(params.Map)
	fwdParam.Set(params.ForwardedOriginals, forwardList(id1, id2))
	triggerID, err := env.dispatch.Send(env.chatID, &message.Message{Type: message.TypeText, Text: "fwd", Param: fwdParam})
	if err != nil {
		t.Fatalf("send forward: %v", err)
	}

	trigger, err := env.msgs.Get(triggerID)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if _, ok := trigger.Param.Get(params.ForwardedOriginals); ok {
		t.Fatal("expected forwarded-originals tag cleared")
	}

	// Two sent (first, second) + one forward trigger + two fan-out sends.
	all, err := env.msgs.ListByChat(env.chatID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 messages in chat after fan-out, got %d", len(all))
	}
}

func forwardList(ids ...int64) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += " "
		}
		out += strconv.FormatInt(id, 10)
	}
	return out
}
