package message

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/params"
)

// Store provides message persistence operations.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new message store.
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		log: logging.WithComponent("message-store"),
	}
}

// Insert creates a new message row. ChatID may be 0 at this point; the
// Message Preparer's persistence order (§4.3) inserts the row first and
// assigns chat-id afterward.
func (s *Store) Insert(m *Message) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO msgs (chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.FromID, m.ToID, m.Timestamp, m.Rfc724Mid, string(m.Type), string(m.State),
		m.Text, m.Param.String(), boolToInt(m.Hidden), m.InReplyTo, m.MimeReferences, m.LocationID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read new message id: %w", err)
	}
	m.ID = id

	s.log.Debug().Int64("id", id).Str("rfc724_mid", m.Rfc724Mid).Msg("inserted message")
	return id, nil
}

// SetChatID assigns the owning chat of a message row, the final step of
// the Message Preparer's persistence order.
func (s *Store) SetChatID(msgID, chatID int64) error {
	_, err := s.db.Exec(`UPDATE msgs SET chat_id = ? WHERE id = ?`, chatID, msgID)
	if err != nil {
		return fmt.Errorf("failed to set message chat id: %w", err)
	}
	return nil
}

// SetState updates a message's delivery/read state.
func (s *Store) SetState(msgID int64, state State) error {
	_, err := s.db.Exec(`UPDATE msgs SET state = ? WHERE id = ?`, string(state), msgID)
	if err != nil {
		return fmt.Errorf("failed to set message state: %w", err)
	}
	return nil
}

// UpdateParam persists a message's full parameter map.
func (s *Store) UpdateParam(msgID int64, p params.Map) error {
	_, err := s.db.Exec(`UPDATE msgs SET param = ? WHERE id = ?`, p.String(), msgID)
	if err != nil {
		return fmt.Errorf("failed to update message parameters: %w", err)
	}
	return nil
}

// Get fetches a message by id.
func (s *Store) Get(id int64) (*Message, error) {
	return scanOne(s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE id = ?`, id))
}

// GetByRfc724Mid fetches a message by its server message id.
func (s *Store) GetByRfc724Mid(mid string) (*Message, error) {
	return scanOne(s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE rfc724_mid = ?`, mid))
}

// LastNonSelfAuthor returns the most recent message in chatID not
// authored by self (from_id != selfID), for threading's preferred
// parent, per spec.md §4.3.
func (s *Store) LastNonSelfAuthor(chatID, selfID int64) (*Message, error) {
	return scanOne(s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE chat_id = ? AND from_id != ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`, chatID, selfID))
}

// OldestBySelf returns the oldest message in chatID authored by self,
// the threading fallback parent when no peer message exists yet.
func (s *Store) OldestBySelf(chatID, selfID int64) (*Message, error) {
	return scanOne(s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE chat_id = ? AND from_id = ?
		ORDER BY timestamp ASC, id ASC LIMIT 1`, chatID, selfID))
}

// LastVisible returns the most recent non-hidden message in a chat, used
// by the E2EE stickiness rule (§4.3).
func (s *Store) LastVisible(chatID int64) (*Message, error) {
	return scanOne(s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE chat_id = ? AND hidden = 0
		ORDER BY timestamp DESC, id DESC LIMIT 1`, chatID))
}

// ListByChat returns messages in a chat in display order (timestamp,
// id), per the ordering guarantee in spec.md §5.
func (s *Store) ListByChat(chatID int64) ([]*Message, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE chat_id = ? ORDER BY timestamp ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetDraft returns the current out-draft row for a chat, or nil if none
// exists. Spec.md §8's invariant guarantees at most one.
func (s *Store) GetDraft(chatID int64) (*Message, error) {
	return scanOne(s.db.QueryRow(`
		SELECT id, chat_id, from_id, to_id, timestamp, rfc724_mid, type, state,
			txt, param, hidden, in_reply_to, mime_references, location_id
		FROM msgs WHERE chat_id = ? AND state = ?`, chatID, string(StateOutDraft)))
}

// DeleteDraft removes the current draft row for a chat, if any.
func (s *Store) DeleteDraft(chatID int64) error {
	_, err := s.db.Exec(`DELETE FROM msgs WHERE chat_id = ? AND state = ?`, chatID, string(StateOutDraft))
	if err != nil {
		return fmt.Errorf("failed to delete draft: %w", err)
	}
	return nil
}

// Delete removes a single message row.
func (s *Store) Delete(msgID int64) error {
	_, err := s.db.Exec(`DELETE FROM msgs WHERE id = ?`, msgID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func scanOne(row *sql.Row) (*Message, error) {
	m := &Message{}
	var mtype, state, paramBlob string
	var hidden int
	err := row.Scan(&m.ID, &m.ChatID, &m.FromID, &m.ToID, &m.Timestamp, &m.Rfc724Mid,
		&mtype, &state, &m.Text, &paramBlob, &hidden, &m.InReplyTo, &m.MimeReferences, &m.LocationID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Type = Type(mtype)
	m.State = State(state)
	m.Param = params.Parse(paramBlob)
	m.Hidden = hidden != 0
	return m, nil
}

func scanRows(rows *sql.Rows) (*Message, error) {
	m := &Message{}
	var mtype, state, paramBlob string
	var hidden int
	err := rows.Scan(&m.ID, &m.ChatID, &m.FromID, &m.ToID, &m.Timestamp, &m.Rfc724Mid,
		&mtype, &state, &m.Text, &paramBlob, &hidden, &m.InReplyTo, &m.MimeReferences, &m.LocationID)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	m.Type = Type(mtype)
	m.State = State(state)
	m.Param = params.Parse(paramBlob)
	m.Hidden = hidden != 0
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
