// Package engine wires every chat-engine component into a single
// process-facing façade: configuration and storage, the Chat/Draft
// stores, the Message Preparer, the Send Dispatcher, the Group
// Protocol, the Location Engine, and Import/Export. It replaces the
// teacher's Wails-bound app.App as the top-level entry point, minus any
// UI binding — this specification mandates no UI (§1 Non-goals) and no
// transport (SMTP/IMAP is an external collaborator this engine never
// drives directly).
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mtlchat/corechat/internal/appstate"
	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/chat"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/database"
	"github.com/mtlchat/corechat/internal/draft"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/group"
	"github.com/mtlchat/corechat/internal/imex"
	"github.com/mtlchat/corechat/internal/jobqueue"
	"github.com/mtlchat/corechat/internal/location"
	"github.com/mtlchat/corechat/internal/message"
	"github.com/mtlchat/corechat/internal/send"
	"github.com/mtlchat/corechat/internal/stock"
)

// locationCheckInterval is how often the Location Engine polls for
// periodic sends and window expiry, per spec.md §4.6.
const locationCheckInterval = 60 * time.Second

// Engine is the assembled core: every §4 module, constructed against a
// shared database, blob directory, and event bus.
type Engine struct {
	DB       *database.DB
	Config   *config.Store
	Blobs    *blobstore.Store
	Events   *events.Bus
	Ongoing  *appstate.Ongoing
	Jobs     *jobqueue.Queue
	Contacts *contact.Store

	Chats    *chat.Store
	Drafts   *draft.Store
	Messages *message.Store
	Preparer *message.Preparer
	Send     *send.Dispatcher
	Groups   *group.Protocol
	Location *location.Engine
	Imex     *imex.Manager

	selfAddr      string
	selfContactID int64
}

// Open creates or opens the database at dbPath, runs migrations, and
// assembles every component. The account may not be configured yet; call
// Configure once the user's address is known (first run) or it is
// recovered from a restored backup.
func Open(dbPath, blobDir string) (*Engine, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	blobs, err := blobstore.New(blobDir)
	if err != nil {
		db.Close()
		return nil, err
	}

	bus := events.New()
	cfg := config.NewStore(db.DB)
	appStore := appstate.NewStore(db.DB)
	clock := appstate.NewSmearedClock(appStore)
	ongoing := appstate.NewOngoing()
	jobs := jobqueue.New()
	contacts := contact.NewStore(db.DB)
	tr := stock.DefaultTranslator{}

	chats := chat.NewStore(db.DB, contacts, jobs, bus, tr)
	msgs := message.NewStore(db.DB)
	drafts := draft.NewStore(msgs, blobs, bus)
	locs := location.NewStore(db.DB)
	keys := imex.NewManager(db, blobs, cfg, bus, ongoing)

	e := &Engine{
		DB:       db,
		Config:   cfg,
		Blobs:    blobs,
		Events:   bus,
		Ongoing:  ongoing,
		Jobs:     jobs,
		Contacts: contacts,
		Chats:    chats,
		Drafts:   drafts,
		Messages: msgs,
		Imex:     keys,
	}

	var selfContactID int64
	addr, err := cfg.ConfiguredAddr()
	if err != nil {
		db.Close()
		return nil, err
	}
	if addr != "" {
		self, err := contacts.EnsureSelfContact(addr)
		if err != nil {
			db.Close()
			return nil, err
		}
		e.selfAddr = addr
		selfContactID = self.ID
		e.selfContactID = selfContactID
	}

	e.Preparer = message.NewPreparer(msgs, chats, contacts, cfg, blobs, clock, bus, selfContactID)
	e.Send = send.NewDispatcher(e.Preparer, msgs, jobs, bus, selfContactID)
	e.Groups = group.NewProtocol(chats, contacts, msgs, e.Send, bus, tr, selfContactID)
	e.Location = location.NewEngine(chats, locs, msgs, cfg, e.Send, bus, tr, locationCheckInterval)

	return e, nil
}

// Configure sets the account's own address for the first time, creating
// its self contact row and wiring every selfContactID-scoped component
// to it. It is an error to call this once the account is already
// configured — use a fresh Engine instance after importing a backup
// instead.
func (e *Engine) Configure(addr string) error {
	configured, err := e.Config.IsConfigured()
	if err != nil {
		return err
	}
	if configured {
		return fmt.Errorf("%w: account is already configured", corerr.ErrPrecondition)
	}

	self, err := e.Contacts.EnsureSelfContact(addr)
	if err != nil {
		return err
	}
	if err := e.Config.Set(config.KeyConfiguredAddr, addr); err != nil {
		return err
	}

	e.selfAddr = addr
	e.selfContactID = self.ID

	clock := appstate.NewSmearedClock(appstate.NewStore(e.DB.DB))
	e.Preparer = message.NewPreparer(e.Messages, e.Chats, e.Contacts, e.Config, e.Blobs, clock, e.Events, self.ID)
	e.Send = send.NewDispatcher(e.Preparer, e.Messages, e.Jobs, e.Events, self.ID)
	e.Groups = group.NewProtocol(e.Chats, e.Contacts, e.Messages, e.Send, e.Events, stock.DefaultTranslator{}, self.ID)
	e.Location = location.NewEngine(e.Chats, location.NewStore(e.DB.DB), e.Messages, e.Config, e.Send, e.Events, stock.DefaultTranslator{}, locationCheckInterval)

	return nil
}

// SelfAddr returns the account's own configured address, or "" if not
// yet configured.
func (e *Engine) SelfAddr() string {
	return e.selfAddr
}

// SelfContactID returns the account's own contact id, or 0 if not yet
// configured.
func (e *Engine) SelfContactID() int64 {
	return e.selfContactID
}

// Start begins the Engine's background loops: periodic WAL checkpoints,
// the job queue dispatch loop, and the Location Engine's send/end-check
// ticker. Stop (or cancelling ctx) tears all three down together.
func (e *Engine) Start(ctx context.Context) {
	go e.DB.StartCheckpointRoutine(ctx)
	e.Jobs.Start(ctx)
	e.Location.StartLoop(ctx)
}

// Stop halts every background loop and closes the database.
func (e *Engine) Stop() {
	e.Location.StopLoop()
	e.Jobs.Stop()
	e.DB.Close()
}
