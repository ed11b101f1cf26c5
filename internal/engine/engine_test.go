package engine

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	e, err := Open(filepath.Join(root, "corechat.db"), filepath.Join(root, "blobs"))
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestOpenAssemblesEveryComponentUnconfigured(t *testing.T) {
	e := newTestEngine(t)

	if e.SelfAddr() != "" || e.SelfContactID() != 0 {
		t.Fatalf("expected a fresh engine to be unconfigured")
	}
	for name, v := range map[string]any{
		"Chats": e.Chats, "Drafts": e.Drafts, "Messages": e.Messages,
		"Preparer": e.Preparer, "Send": e.Send, "Groups": e.Groups,
		"Location": e.Location, "Imex": e.Imex, "Jobs": e.Jobs, "Contacts": e.Contacts,
	} {
		if v == nil {
			t.Fatalf("expected %s to be wired by Open", name)
		}
	}
}

func TestConfigureSetsSelfContactAndRewiresComponents(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Configure("alice@example.com"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if e.SelfAddr() != "alice@example.com" {
		t.Fatalf("expected self addr to be set, got %q", e.SelfAddr())
	}
	if e.SelfContactID() == 0 {
		t.Fatalf("expected a non-zero self contact id")
	}

	self, err := e.Contacts.Get(e.SelfContactID())
	if err != nil {
		t.Fatalf("get self contact: %v", err)
	}
	if self == nil || !self.IsSelf || self.Addr != "alice@example.com" {
		t.Fatalf("expected self contact row to be marked is_self, got %+v", self)
	}
}

func TestConfigureRefusesWhenAlreadyConfigured(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Configure("alice@example.com"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := e.Configure("bob@example.com"); err == nil {
		t.Fatalf("expected a second Configure call to fail")
	}
	if e.SelfAddr() != "alice@example.com" {
		t.Fatalf("expected self addr to remain unchanged after refused reconfigure")
	}
}

func TestConfiguredGroupsRejectAddContactOnSingleChat(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Configure("alice@example.com"); err != nil {
		t.Fatalf("configure: %v", err)
	}

	contact, err := e.Contacts.CreateOrUpdate("bob@example.com", "Bob")
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	chatID, _, err := e.Chats.CreateOrLookupSingleChat(contact.ID)
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if err := e.Groups.AddContact(chatID, contact.ID); err == nil {
		t.Fatalf("expected AddContact on a single chat (not a group) to fail")
	}
}

func TestStartAndStopDriveBackgroundLoopsWithoutPanicking(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()
	e.Stop()
}
