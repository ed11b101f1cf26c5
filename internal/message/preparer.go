package message

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/mtlchat/corechat/internal/appstate"
	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/chat"
	"github.com/mtlchat/corechat/internal/config"
	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/params"
)

// Preparer implements the Message Preparer (spec.md §4.3): validates
// outgoing messages, allocates message ids and server message ids,
// derives threading headers, decides E2EE eligibility, and hands off a
// persisted out-preparing (or out-pending, for a direct send) row.
type Preparer struct {
	store    *Store
	chats    *chat.Store
	contacts *contact.Store
	cfg      *config.Store
	blobs    *blobstore.Store
	clock    *appstate.SmearedClock
	events   *events.Bus

	selfContactID int64
}

// NewPreparer creates a Message Preparer.
func NewPreparer(store *Store, chats *chat.Store, contacts *contact.Store, cfg *config.Store,
	blobs *blobstore.Store, clock *appstate.SmearedClock, bus *events.Bus, selfContactID int64) *Preparer {
	return &Preparer{
		store:         store,
		chats:         chats,
		contacts:      contacts,
		cfg:           cfg,
		blobs:         blobs,
		clock:         clock,
		events:        bus,
		selfContactID: selfContactID,
	}
}

// attachmentTypes are the message types that require an attachment path.
var attachmentTypes = map[Type]bool{
	TypeImage: true, TypeGif: true, TypeAudio: true, TypeVoice: true, TypeVideo: true, TypeFile: true,
}

// Prepare validates msg, allocates it a message id and server message id,
// and persists it in state out-preparing. send (internal/send) later
// promotes it to out-pending, or callers may pass directToSend=true to
// do both in one step.
func (p *Preparer) Prepare(chatID int64, msg *Message, directToSend bool) (int64, error) {
	return p.prepare(chatID, msg, directToSend, 0)
}

func (p *Preparer) prepare(chatID int64, msg *Message, directToSend bool, timestamp int64) (int64, error) {
	if chatID <= 9 {
		return 0, fmt.Errorf("%w: chat id %d is reserved", corerr.ErrBadArgument, chatID)
	}
	if msg == nil {
		return 0, fmt.Errorf("%w: nil message", corerr.ErrBadArgument)
	}
	if !isSupportedType(msg.Type) {
		return 0, fmt.Errorf("%w: unsupported message type %q", corerr.ErrBadArgument, msg.Type)
	}

	c, err := p.chats.Load(chatID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, fmt.Errorf("%w: chat %d", corerr.ErrNotFound, chatID)
	}

	memberIDs, err := p.chats.GetContacts(chatID)
	if err != nil {
		return 0, err
	}
	if (c.Type == chat.TypeGroup || c.Type == chat.TypeVerifiedGroup) && !containsID(memberIDs, p.selfContactID) {
		return 0, fmt.Errorf("%w: self not in group chat %d", corerr.ErrPrecondition, chatID)
	}

	if err := p.handleAttachment(msg); err != nil {
		return 0, err
	}
	if err := p.handleIndependentLocation(msg, chatID); err != nil {
		return 0, err
	}

	if err := p.chats.Archive(chatID, false); err != nil {
		return 0, err
	}

	msg.FromID = p.selfContactID
	if timestamp != 0 {
		msg.Timestamp = timestamp
	} else {
		msg.Timestamp = p.clock.Next()
	}
	msg.Rfc724Mid, err = p.allocateServerMessageID(c)
	if err != nil {
		return 0, err
	}

	if err := p.applyThreading(msg, c); err != nil {
		return 0, err
	}

	guarantee, err := p.decideGuaranteeE2EE(c, memberIDs)
	if err != nil {
		return 0, err
	}
	msg.Param.SetBool(params.GuaranteeE2EE, guarantee)

	if directToSend {
		msg.State = StateOutPending
	} else {
		msg.State = StateOutPreparing
	}

	id, err := p.store.Insert(msg)
	if err != nil {
		return 0, err
	}
	if err := p.store.SetChatID(id, chatID); err != nil {
		return 0, err
	}
	msg.ChatID = chatID

	if p.events != nil {
		p.events.EmitMsgsChanged(chatID, id)
	}
	return id, nil
}

// PrepareBatch allocates N sequential smeared timestamps up front and
// prepares each message in order — the forward-batch case spec.md §4.3
// calls out explicitly.
func (p *Preparer) PrepareBatch(chatID int64, msgs []*Message, directToSend bool) ([]int64, error) {
	stamps := p.clock.NextN(len(msgs))
	ids := make([]int64, 0, len(msgs))
	for i, m := range msgs {
		id, err := p.prepare(chatID, m, directToSend, stamps[i])
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Preparer) handleAttachment(msg *Message) error {
	if !attachmentTypes[msg.Type] {
		return nil
	}
	path, ok := msg.Param.Get(params.AttachmentPath)
	if !ok || path == "" {
		return fmt.Errorf("%w: attachment required for type %q", corerr.ErrBadArgument, msg.Type)
	}

	if !p.blobs.IsInStore(path) {
		name, err := p.blobs.CopyIn(path)
		if err != nil {
			return fmt.Errorf("%w: %v", corerr.ErrIO, err)
		}
		path = p.blobs.Path(name)
		msg.Param.Set(params.AttachmentPath, path)
	}

	if _, ok := msg.Param.Get(params.AttachmentMime); !ok {
		guessed := mime.TypeByExtension(filepath.Ext(path))
		if guessed != "" {
			msg.Param.Set(params.AttachmentMime, guessed)
		}
	}

	if msg.Type == TypeFile || msg.Type == TypeImage {
		if upgraded, ok := upgradeTypeBySuffix(path); ok {
			msg.Type = upgraded
		}
	}
	return nil
}

// upgradeTypeBySuffix upgrades a generic file/image type based on its
// filename suffix, e.g. a ".gif" image becomes a gif message, per
// spec.md §4.3.
func upgradeTypeBySuffix(path string) (Type, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gif":
		return TypeGif, true
	default:
		return "", false
	}
}

func (p *Preparer) handleIndependentLocation(msg *Message, chatID int64) error {
	_, hasLat := msg.Param.Get(params.SetLatitude)
	_, hasLon := msg.Param.Get(params.SetLongitude)
	if !hasLat || !hasLon {
		return nil
	}
	lat, _ := msg.Param.GetFloat(params.SetLatitude)
	lon, _ := msg.Param.GetFloat(params.SetLongitude)

	locID, err := p.insertIndependentLocation(chatID, msg.FromID, lat, lon)
	if err != nil {
		return err
	}
	msg.LocationID = locID
	return nil
}

func (p *Preparer) insertIndependentLocation(chatID, fromID int64, lat, lon float64) (int64, error) {
	res, err := p.store.db.Exec(`
		INSERT INTO locations (timestamp, from_id, chat_id, latitude, longitude, independent)
		VALUES (?, ?, ?, ?, ?, 1)`, time.Now().Unix(), fromID, chatID, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	return res.LastInsertId()
}

// allocateServerMessageID synthesises a globally unique server message
// id: "Gs<groupid>.<token>@<domain>" for groups, "Mr.<token>@<domain>"
// otherwise, per spec.md §4.3 and §6.
func (p *Preparer) allocateServerMessageID(c *chat.Chat) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}

	addr, err := p.cfg.ConfiguredAddr()
	if err != nil {
		return "", err
	}
	domain := addr
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		domain = addr[i+1:]
	}
	if domain == "" {
		domain = "localhost"
	}

	if c.Type == chat.TypeGroup || c.Type == chat.TypeVerifiedGroup {
		return fmt.Sprintf("Gs%s.%s@%s", c.GrpID, token, domain), nil
	}
	return fmt.Sprintf("Mr.%s@%s", token, domain), nil
}

// randomToken returns a 128-bit cryptographically random hex token, the
// collision-resistance bar spec.md §4.3 sets.
func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// applyThreading derives in-reply-to/references per spec.md §4.3. Self-talk
// chats never thread.
func (p *Preparer) applyThreading(msg *Message, c *chat.Chat) error {
	if c.IsSelfTalk() {
		return nil
	}

	parent, err := p.store.LastNonSelfAuthor(c.ID, p.selfContactID)
	if err != nil {
		return err
	}
	if parent == nil {
		parent, err = p.store.OldestBySelf(c.ID, p.selfContactID)
		if err != nil {
			return err
		}
	}
	if parent == nil {
		return nil
	}

	msg.InReplyTo = parent.Rfc724Mid

	refs := parent.MimeReferences
	first := parent.Rfc724Mid
	if refs != "" {
		if idx := strings.IndexByte(refs, ' '); idx >= 0 {
			first = refs[:idx]
		} else {
			first = refs
		}
	}
	if first == parent.Rfc724Mid {
		msg.MimeReferences = parent.Rfc724Mid
	} else {
		msg.MimeReferences = first + " " + parent.Rfc724Mid
	}
	return nil
}

// decideGuaranteeE2EE computes the guarantee-e2ee bit per spec.md §4.3:
// encryption globally enabled, every peer has a known peerstate, and
// either every peerstate prefers mutual encryption or the chat's last
// visible message was already guaranteed.
func (p *Preparer) decideGuaranteeE2EE(c *chat.Chat, memberIDs []int64) (bool, error) {
	enabled, err := p.cfg.E2EEEnabled()
	if err != nil {
		return false, err
	}
	if !enabled {
		return false, nil
	}

	allMutual := true
	for _, id := range memberIDs {
		if id == p.selfContactID {
			continue
		}
		peer, err := p.contacts.Get(id)
		if err != nil {
			return false, err
		}
		if peer == nil || !peer.HasPeerstate {
			return false, nil
		}
		if !peer.PreferEncryptMutual {
			allMutual = false
		}
	}

	if allMutual {
		return true, nil
	}

	last, err := p.store.LastVisible(c.ID)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}
	return last.Param.GetBool(params.GuaranteeE2EE), nil
}

func isSupportedType(t Type) bool {
	switch t {
	case TypeText, TypeImage, TypeGif, TypeAudio, TypeVoice, TypeVideo, TypeFile, TypeLocationOnly:
		return true
	default:
		return false
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
