package chat

import (
	"crypto/sha1"
	"database/sql"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/jobqueue"
	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/params"
	"github.com/mtlchat/corechat/internal/stock"
)

// palette is the fixed set of colours get-color hashes into, grounded on
// deltachat-core-rust's dc_str_to_color palette-indexing scheme
// (original_source/dc_chat.rs calls dc_str_to_color but the palette
// itself sits in a helper file outside the retrieved set; this is a
// standard 18-entry "avatar colour" palette of the same shape).
var palette = []uint32{
	0xe56555, 0xf28c48, 0xf2b84b, 0xa8cf45,
	0x4caf78, 0x45b8ac, 0x4a90d9, 0x6a5acd,
	0x9b59b6, 0xd94d8c, 0xc0392b, 0xe67e22,
	0xf1c40f, 0x2ecc71, 0x1abc9c, 0x3498db,
	0x8e44ad, 0xe84393,
}

// Store provides Chat Store persistence operations.
type Store struct {
	db       *sql.DB
	contacts *contact.Store
	jobs     *jobqueue.Queue
	events   *events.Bus
	tr       stock.Translator
	log      zerolog.Logger
}

// NewStore creates a new chat store.
func NewStore(db *sql.DB, contacts *contact.Store, jobs *jobqueue.Queue, bus *events.Bus, tr stock.Translator) *Store {
	if tr == nil {
		tr = stock.DefaultTranslator{}
	}
	return &Store{
		db:       db,
		contacts: contacts,
		jobs:     jobs,
		events:   bus,
		tr:       tr,
		log:      logging.WithComponent("chat-store"),
	}
}

// CreateOrLookupSingleChat returns the single chat with the given peer
// contact, creating it if necessary, per spec.md §4.1.
func (s *Store) CreateOrLookupSingleChat(contactID int64) (chatID int64, blocked Blocked, err error) {
	row := s.db.QueryRow(`
		SELECT c.id, c.blocked
		FROM chats c
		JOIN chats_contacts cc ON cc.chat_id = c.id
		WHERE c.type = ? AND c.id > ? AND cc.contact_id = ?
		LIMIT 1`, TypeSingle, firstUserChatID-1, contactID)

	var id int64
	var b int
	err = row.Scan(&id, &b)
	if err == nil {
		return id, Blocked(b), nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, fmt.Errorf("failed to look up single chat: %w", err)
	}

	peer, err := s.contacts.Get(contactID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up contact: %w", err)
	}
	if peer == nil {
		return 0, 0, fmt.Errorf("chat: contact %d not found", contactID)
	}

	name := peer.NameOrAddr()
	p := make(params.Map)
	if peer.IsSelf {
		p.SetBool(params.SelfTalk, true)
	}

	res, err := s.db.Exec(`
		INSERT INTO chats (type, name, grpid, param, archived, blocked, created_at)
		VALUES (?, ?, ?, ?, 0, 0, ?)`,
		TypeSingle, name, peer.Addr, p.String(), time.Now())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create chat: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read new chat id: %w", err)
	}

	if _, err := s.db.Exec(`INSERT INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, id, contactID); err != nil {
		return 0, 0, fmt.Errorf("failed to add chat membership: %w", err)
	}

	s.log.Debug().Int64("chat_id", id).Int64("contact_id", contactID).Msg("created single chat")
	return id, Unblocked, nil
}

// Load fetches a chat by id. Reserved ids get their name overridden
// in-memory only, per spec.md §4.1.
func (s *Store) Load(chatID int64) (*Chat, error) {
	row := s.db.QueryRow(`
		SELECT id, type, name, grpid, param, archived, blocked, gossiped_timestamp,
			locations_send_begin, locations_send_until, locations_last_sent, created_at
		FROM chats WHERE id = ?`, chatID)

	c := &Chat{}
	var paramBlob string
	var archived, blocked int
	err := row.Scan(&c.ID, &c.Type, &c.Name, &c.GrpID, &paramBlob, &archived, &blocked,
		&c.GossipedTimestamp, &c.LocationsSendBegin, &c.LocationsSendUntil, &c.LocationsLastSent, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}
	c.Param = params.Parse(paramBlob)
	c.Archived = archived != 0
	c.Blocked = Blocked(blocked)

	s.applyReservedName(c)
	return c, nil
}

func (s *Store) applyReservedName(c *Chat) {
	switch c.ID {
	case DeaddropChatID:
		c.Name = s.tr.Translate(stock.DeadDrop)
	case ArchivedLinkID:
		c.Name = s.tr.Translate(stock.ArchivedChats)
	case StarredChatID:
		c.Name = s.tr.Translate(stock.StarredMsgs)
	default:
		if c.IsSelfTalk() {
			c.Name = s.tr.Translate(stock.SelfMsg)
		}
	}
}

// SetBlocked updates the chat's blocked state.
func (s *Store) SetBlocked(chatID int64, b Blocked) error {
	_, err := s.db.Exec(`UPDATE chats SET blocked = ? WHERE id = ?`, b, chatID)
	if err != nil {
		return fmt.Errorf("failed to set blocked state: %w", err)
	}
	return nil
}

// Archive sets or clears the archived flag. Archiving also marks every
// fresh message in the chat as noticed, per spec.md §4.1.
func (s *Store) Archive(chatID int64, archived bool) error {
	_, err := s.db.Exec(`UPDATE chats SET archived = ? WHERE id = ?`, boolToInt(archived), chatID)
	if err != nil {
		return fmt.Errorf("failed to set archived flag: %w", err)
	}
	if archived {
		if _, err := s.db.Exec(`UPDATE msgs SET state = 'in-noticed' WHERE chat_id = ? AND state = 'in-fresh'`, chatID); err != nil {
			return fmt.Errorf("failed to mark fresh messages noticed: %w", err)
		}
	}
	if s.events != nil {
		s.events.EmitChatModified(chatID)
	}
	return nil
}

// UpdateParameters persists a chat's full parameter map.
func (s *Store) UpdateParameters(chatID int64, p params.Map) error {
	_, err := s.db.Exec(`UPDATE chats SET param = ? WHERE id = ?`, p.String(), chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat parameters: %w", err)
	}
	return nil
}

// Delete performs a best-effort cascade over messages, membership, and
// the chat row, then enqueues a housekeeping job. Partial failure at any
// step aborts the cascade without rolling back earlier steps, per
// spec.md §4.1 and §7 — orphans are recoverable by housekeeping.
func (s *Store) Delete(chatID int64) error {
	if _, err := s.db.Exec(`DELETE FROM msgs WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM chats_contacts WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	if _, err := s.db.Exec(`DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if s.jobs != nil {
		s.jobs.Enqueue("housekeeping", chatID)
	}
	if s.events != nil {
		s.events.EmitChatModified(chatID)
	}
	return nil
}

// CreateGroup inserts a new group (or verified-group) chat row and adds
// self as its first member, per spec.md §4.5.
func (s *Store) CreateGroup(typ Type, name, grpid string, p params.Map, selfContactID int64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO chats (type, name, grpid, param, archived, blocked, created_at)
		VALUES (?, ?, ?, ?, 0, 0, ?)`,
		typ, name, grpid, p.String(), time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to create group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new chat id: %w", err)
	}
	if err := s.AddMember(id, selfContactID); err != nil {
		return 0, err
	}
	return id, nil
}

// AddMember adds contactID to chatID's membership, a no-op if already a
// member.
func (s *Store) AddMember(chatID, contactID int64) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO chats_contacts (chat_id, contact_id) VALUES (?, ?)`, chatID, contactID)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// RemoveMember removes contactID from chatID's membership.
func (s *Store) RemoveMember(chatID, contactID int64) error {
	_, err := s.db.Exec(`DELETE FROM chats_contacts WHERE chat_id = ? AND contact_id = ?`, chatID, contactID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	return nil
}

// SetName updates a chat's display name.
func (s *Store) SetName(chatID int64, name string) error {
	_, err := s.db.Exec(`UPDATE chats SET name = ? WHERE id = ?`, name, chatID)
	if err != nil {
		return fmt.Errorf("failed to set chat name: %w", err)
	}
	return nil
}

// SetLocationWindow sets a chat's location-streaming begin/until bounds,
// per spec.md §4.6's start/stop operations.
func (s *Store) SetLocationWindow(chatID int64, begin, until int64) error {
	_, err := s.db.Exec(`UPDATE chats SET locations_send_begin = ?, locations_send_until = ? WHERE id = ?`, begin, until, chatID)
	if err != nil {
		return fmt.Errorf("failed to set location window: %w", err)
	}
	return nil
}

// SetLocationsLastSent records the newest timestamp the KML emitter has
// already sent for a chat.
func (s *Store) SetLocationsLastSent(chatID int64, ts int64) error {
	_, err := s.db.Exec(`UPDATE chats SET locations_last_sent = ? WHERE id = ?`, ts, chatID)
	if err != nil {
		return fmt.Errorf("failed to set locations last-sent: %w", err)
	}
	return nil
}

// StreamingChats returns every chat whose location-streaming window is
// still open at now, the set set-position and the periodic emit job
// operate over.
func (s *Store) StreamingChats(now int64) ([]*Chat, error) {
	rows, err := s.db.Query(`
		SELECT id, type, name, grpid, param, archived, blocked, gossiped_timestamp,
			locations_send_begin, locations_send_until, locations_last_sent, created_at
		FROM chats WHERE locations_send_until > ?`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query streaming chats: %w", err)
	}
	defer rows.Close()
	return s.scanChatRows(rows)
}

// ChatsNeedingEndCheck returns every chat whose streaming window has
// closed (send_until <= now) but whose window fields are not already
// both zero, the end-check job's working set per spec.md §4.6.
func (s *Store) ChatsNeedingEndCheck(now int64) ([]*Chat, error) {
	rows, err := s.db.Query(`
		SELECT id, type, name, grpid, param, archived, blocked, gossiped_timestamp,
			locations_send_begin, locations_send_until, locations_last_sent, created_at
		FROM chats WHERE locations_send_until <= ? AND (locations_send_begin != 0 OR locations_send_until != 0)`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query ended chats: %w", err)
	}
	defer rows.Close()
	return s.scanChatRows(rows)
}

func (s *Store) scanChatRows(rows *sql.Rows) ([]*Chat, error) {
	var out []*Chat
	for rows.Next() {
		c := &Chat{}
		var paramBlob string
		var archived, blocked int
		if err := rows.Scan(&c.ID, &c.Type, &c.Name, &c.GrpID, &paramBlob, &archived, &blocked,
			&c.GossipedTimestamp, &c.LocationsSendBegin, &c.LocationsSendUntil, &c.LocationsLastSent, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		c.Param = params.Parse(paramBlob)
		c.Archived = archived != 0
		c.Blocked = Blocked(blocked)
		s.applyReservedName(c)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetContacts returns the contact ids belonging to a chat.
func (s *Store) GetContacts(chatID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT contact_id FROM chats_contacts WHERE chat_id = ?`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat contacts: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of chats.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chats: %w", err)
	}
	return n, nil
}

// GetColor computes a deterministic 24-bit RGB colour for a chat: hashed
// from the peer address for single chats, from the chat name for
// groups, per spec.md §4.1.
func (s *Store) GetColor(c *Chat) (uint32, error) {
	var seed string
	if c.Type == TypeSingle {
		ids, err := s.GetContacts(c.ID)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			peer, err := s.contacts.Get(ids[0])
			if err != nil {
				return 0, err
			}
			if peer != nil {
				seed = peer.Addr
			}
		}
	}
	if seed == "" {
		seed = c.Name
	}
	return strToColor(seed), nil
}

func strToColor(s string) uint32 {
	sum := sha1.Sum([]byte(s))
	idx := int(sum[0]) % len(palette)
	return palette[idx]
}

// GetSubtitle returns the chat's display subtitle, per spec.md §4.1.
func (s *Store) GetSubtitle(c *Chat) (string, error) {
	switch {
	case c.ID == DeaddropChatID:
		return s.tr.Translate(stock.ContactRequests), nil
	case c.IsSelfTalk():
		return s.tr.Translate(stock.SelfTalkSubtitle), nil
	case c.Type == TypeSingle:
		ids, err := s.GetContacts(c.ID)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			return "", nil
		}
		peer, err := s.contacts.Get(ids[0])
		if err != nil {
			return "", err
		}
		if peer == nil {
			return "", nil
		}
		return peer.Addr, nil
	default:
		ids, err := s.GetContacts(c.ID)
		if err != nil {
			return "", err
		}
		return s.tr.Translate(stock.Member, humanize.Comma(int64(len(ids)))), nil
	}
}

// MarkGroupLeft records grpid in the left-groups set, consulted on
// inbound re-invite to ignore them, per spec.md §3 and §4.5.
func (s *Store) MarkGroupLeft(grpid string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO left_groups (grpid) VALUES (?)`, grpid)
	if err != nil {
		return fmt.Errorf("failed to record left group: %w", err)
	}
	return nil
}

// HasLeftGroup reports whether grpid is in the left-groups set.
func (s *Store) HasLeftGroup(grpid string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM left_groups WHERE grpid = ?`, grpid).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query left groups: %w", err)
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
