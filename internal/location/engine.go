package location

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/chat"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/message"
	"github.com/mtlchat/corechat/internal/params"
	"github.com/mtlchat/corechat/internal/stock"
)

// emitTolerance is the periodic emit job's minimum gap between two
// emissions for the same chat. spec.md §9 open question (c) resolves
// the source's inconsistent 58s/60s literals as a 60s period with this
// 58s tolerance.
const emitTolerance = 58 * time.Second

// Sender hands a prepared message to the send pipeline, the same
// contract internal/group declares — the Location Engine's periodic
// emit creates hidden location-only messages through the identical
// pipeline user-authored and group-system messages use.
type Sender interface {
	Send(chatID int64, msg *message.Message) (int64, error)
}

// Engine implements the Location Engine (spec.md §4.6).
type Engine struct {
	chats  *chat.Store
	locs   *Store
	msgs   *message.Store
	cfg    *config.Store
	sender Sender
	events *events.Bus
	tr     stock.Translator

	checkInterval time.Duration
	log           zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.Mutex
}

// NewEngine creates a Location Engine. checkInterval governs how often
// the background loop checks for pending emits/end-checks. A chat is
// emitted for at most once per emitTolerance, so with an interval just
// above emitTolerance (the engine's 60s) it can emit on every tick.
func NewEngine(chats *chat.Store, locs *Store, msgs *message.Store, cfg *config.Store, sender Sender, bus *events.Bus, tr stock.Translator, checkInterval time.Duration) *Engine {
	if tr == nil {
		tr = stock.DefaultTranslator{}
	}
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	return &Engine{
		chats:         chats,
		locs:          locs,
		msgs:          msgs,
		cfg:           cfg,
		sender:        sender,
		events:        bus,
		tr:            tr,
		checkInterval: checkInterval,
		log:           logging.WithComponent("location-engine"),
	}
}

// StartLoop begins the background tick loop that drives periodic emit
// and end-check. Safe to call once; a second call while already running
// is a no-op.
func (e *Engine) StartLoop(ctx context.Context) {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()

	if e.running {
		e.log.Warn().Msg("location engine already running")
		return
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	e.wg.Add(1)
	go e.run()

	e.log.Info().Msg("location engine started")
}

// StopLoop halts the background tick loop and waits for it to exit.
func (e *Engine) StopLoop() {
	e.runningMu.Lock()
	defer e.runningMu.Unlock()

	if !e.running {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.running = false

	e.log.Info().Msg("location engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := e.maybeSendLocations(); err != nil {
				e.log.Error().Err(err).Msg("periodic location emit failed")
			}
			if err := e.checkEnded(); err != nil {
				e.log.Error().Err(err).Msg("location end-check failed")
			}
		case <-e.ctx.Done():
			return
		}
	}
}

// Start begins location streaming for chatID. seconds<=0 is equivalent
// to Stop. Starting an already-streaming chat does not duplicate the
// "streaming enabled" status message.
func (e *Engine) Start(chatID int64, seconds int) error {
	if seconds <= 0 {
		return e.Stop(chatID)
	}

	c, err := e.chats.Load(chatID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: chat %d", corerr.ErrNotFound, chatID)
	}

	now := time.Now().Unix()
	wasStreaming := c.LocationsSendUntil > now
	until := now + int64(seconds)

	if err := e.chats.SetLocationWindow(chatID, now, until); err != nil {
		return err
	}

	if !wasStreaming {
		msg := &message.Message{
			Type:   message.TypeText,
			Text:   e.tr.Translate(stock.MsgLocationEnabled),
			Hidden: true,
			Param:  make(params.Map),
		}
		if _, err := e.sender.Send(chatID, msg); err != nil {
			return err
		}
	}
	if e.events != nil {
		e.events.EmitChatModified(chatID)
	}
	return nil
}

// Stop disables location streaming for chatID. Transitioning from
// streaming to not-streaming appends a local-only device message; it is
// never transmitted.
func (e *Engine) Stop(chatID int64) error {
	c, err := e.chats.Load(chatID)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: chat %d", corerr.ErrNotFound, chatID)
	}

	wasStreaming := c.LocationsSendUntil > time.Now().Unix()
	if err := e.chats.SetLocationWindow(chatID, 0, 0); err != nil {
		return err
	}
	if wasStreaming {
		if err := e.appendDeviceMessage(chatID, stock.MsgLocationDisabled); err != nil {
			return err
		}
	}
	if e.events != nil {
		e.events.EmitChatModified(chatID)
	}
	return nil
}

// IsStreaming reports whether chatID is currently streaming, or whether
// any chat is when chatID is 0.
func (e *Engine) IsStreaming(chatID int64) (bool, error) {
	now := time.Now().Unix()
	if chatID == 0 {
		chats, err := e.chats.StreamingChats(now)
		if err != nil {
			return false, err
		}
		return len(chats) > 0, nil
	}
	c, err := e.chats.Load(chatID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}
	return c.LocationsSendUntil > now, nil
}

// SetPosition inserts a new streaming location row for every currently
// streaming chat, timestamped now. Returns true iff at least one row was
// inserted, the signal callers use to decide whether to keep polling GPS.
func (e *Engine) SetPosition(lat, lon, accuracy float64) (bool, error) {
	now := time.Now().Unix()
	chats, err := e.chats.StreamingChats(now)
	if err != nil {
		return false, err
	}

	inserted := false
	for _, c := range chats {
		if _, err := e.locs.InsertStreaming(c.ID, 0, lat, lon, accuracy, now); err != nil {
			return inserted, err
		}
		inserted = true
	}
	return inserted, nil
}

// SaveLocations bulk-persists locations received from contactID in
// chatID, deduplicating on (timestamp, from-id). Returns the newest
// inserted row's id.
func (e *Engine) SaveLocations(chatID, contactID int64, locs []Location, independent bool) (int64, error) {
	return e.locs.SaveIncoming(chatID, contactID, locs, independent)
}

// GetLocationKML renders the outbound KML document for chatID: every
// eligible position at or after the chat's streaming start and newer
// than its last-sent pointer, at most one per distinct timestamp.
// Advances the chat's last-sent pointer to the newest emitted timestamp;
// empty when there is nothing to emit.
func (e *Engine) GetLocationKML(chatID int64) (string, error) {
	c, err := e.chats.Load(chatID)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("%w: chat %d", corerr.ErrNotFound, chatID)
	}

	lower := c.LocationsSendBegin
	if c.LocationsLastSent >= lower {
		lower = c.LocationsLastSent + 1
	}
	locs, err := e.locs.ListForKML(chatID, lower, math.MaxInt64)
	if err != nil {
		return "", err
	}
	if len(locs) == 0 {
		return "", nil
	}

	addr, err := e.cfg.ConfiguredAddr()
	if err != nil {
		return "", err
	}
	doc := SerializeKML(addr, locs)

	newest := locs[len(locs)-1].Timestamp
	if err := e.chats.SetLocationsLastSent(chatID, newest); err != nil {
		return "", err
	}
	return doc, nil
}

// maybeSendLocations drives the periodic emit job (spec.md §4.6): for
// every streaming chat with at least one new position since its
// last-sent pointer, and at least emitTolerance elapsed since then, send
// a hidden location-only message carrying the rendered KML.
func (e *Engine) maybeSendLocations() error {
	now := time.Now().Unix()
	chats, err := e.chats.StreamingChats(now)
	if err != nil {
		return err
	}

	for _, c := range chats {
		if now-c.LocationsLastSent < int64(emitTolerance.Seconds()) {
			continue
		}
		n, err := e.locs.CountSince(c.ID, c.LocationsLastSent)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		kml, err := e.GetLocationKML(c.ID)
		if err != nil {
			return err
		}
		if kml == "" {
			continue
		}

		msg := &message.Message{
			Type:   message.TypeLocationOnly,
			Hidden: true,
			Text:   kml,
			Param:  make(params.Map),
		}
		if _, err := e.sender.Send(c.ID, msg); err != nil {
			return err
		}
	}
	return nil
}

// checkEnded drives the end-check job: every chat whose streaming window
// has elapsed gets both window fields zeroed and a local "streaming
// disabled" device message, mirroring an explicit Stop.
func (e *Engine) checkEnded() error {
	now := time.Now().Unix()
	chats, err := e.chats.ChatsNeedingEndCheck(now)
	if err != nil {
		return err
	}

	for _, c := range chats {
		if err := e.chats.SetLocationWindow(c.ID, 0, 0); err != nil {
			return err
		}
		if err := e.appendDeviceMessage(c.ID, stock.MsgLocationDisabled); err != nil {
			return err
		}
		if e.events != nil {
			e.events.EmitChatModified(c.ID)
		}
	}
	return nil
}

// appendDeviceMessage inserts a local-only, non-transmitted status
// message directly into the message store: it never enters the send
// pipeline, per spec.md §4.6's "local-only, not transmitted" device
// messages.
func (e *Engine) appendDeviceMessage(chatID int64, kind stock.ID) error {
	msg := &message.Message{
		Timestamp: time.Now().Unix(),
		Type:      message.TypeText,
		State:     message.StateOutDelivered,
		Text:      e.tr.Translate(kind),
		Hidden:    true,
		Param:     make(params.Map),
	}
	if _, err := e.msgs.Insert(msg); err != nil {
		return err
	}
	return e.msgs.SetChatID(msg.ID, chatID)
}
