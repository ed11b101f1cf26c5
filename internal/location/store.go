package location

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/logging"
)

// Store provides location row persistence.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates a new location store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, log: logging.WithComponent("location-store")}
}

// InsertIndependent inserts one independent location row, attached to a
// single outgoing message by the Message Preparer (§4.3).
func (s *Store) InsertIndependent(chatID, fromID int64, lat, lon float64, timestamp int64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO locations (timestamp, from_id, chat_id, latitude, longitude, independent)
		VALUES (?, ?, ?, ?, ?, 1)`, timestamp, fromID, chatID, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("failed to insert independent location: %w", err)
	}
	return res.LastInsertId()
}

// InsertStreaming inserts one non-independent location row for a
// currently streaming chat, the row set-position(§4.6) produces.
func (s *Store) InsertStreaming(chatID, fromID int64, lat, lon, accuracy float64, timestamp int64) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO locations (timestamp, from_id, chat_id, latitude, longitude, accuracy, independent)
		VALUES (?, ?, ?, ?, ?, ?, 0)`, timestamp, fromID, chatID, lat, lon, accuracy)
	if err != nil {
		return 0, fmt.Errorf("failed to insert streaming location: %w", err)
	}
	return res.LastInsertId()
}

// SaveIncoming bulk-inserts locations received from a peer, deduplicating
// on (chat-id, timestamp, from-id) per spec.md §9 open question (b) —
// matching the observable "insert unless an exact duplicate exists"
// behaviour rather than the source's syntactically unusual condition.
// Returns the id of the newest inserted row (0 if none were new), used to
// cross-reference the inbound message that carried them.
func (s *Store) SaveIncoming(chatID, fromID int64, locs []Location, independent bool) (int64, error) {
	var newestID int64
	for _, loc := range locs {
		var exists int
		err := s.db.QueryRow(`
			SELECT COUNT(*) FROM locations WHERE chat_id = ? AND timestamp = ? AND from_id = ?`,
			chatID, loc.Timestamp, fromID).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("failed to check duplicate location: %w", err)
		}
		if exists > 0 {
			continue
		}

		res, err := s.db.Exec(`
			INSERT INTO locations (timestamp, from_id, chat_id, latitude, longitude, accuracy, independent)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			loc.Timestamp, fromID, chatID, loc.Latitude, loc.Longitude, loc.Accuracy, boolToInt(independent))
		if err != nil {
			return 0, fmt.Errorf("failed to insert incoming location: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read new location id: %w", err)
		}
		newestID = id
	}
	return newestID, nil
}

// ListForKML returns non-independent locations in chatID with timestamp
// in [lower, upper], at most one per distinct timestamp (the earliest
// row wins ties), in ascending timestamp order — the KML emitter's
// eligible-position rule (§4.6).
func (s *Store) ListForKML(chatID int64, lower, upper int64) ([]*Location, error) {
	rows, err := s.db.Query(`
		SELECT MIN(id), timestamp, from_id, chat_id, latitude, longitude, accuracy, independent
		FROM locations
		WHERE chat_id = ? AND independent = 0 AND timestamp BETWEEN ? AND ?
		GROUP BY timestamp
		ORDER BY timestamp ASC`, chatID, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations for kml: %w", err)
	}
	defer rows.Close()

	var out []*Location
	for rows.Next() {
		l := &Location{}
		var independent int
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.FromID, &l.ChatID, &l.Latitude, &l.Longitude, &l.Accuracy, &independent); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		l.Independent = independent != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// CountSince reports how many non-independent locations exist in chatID
// with timestamp strictly after since — the periodic emit job's "at
// least one new location row since last-sent" gate.
func (s *Store) CountSince(chatID, since int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM locations WHERE chat_id = ? AND independent = 0 AND timestamp > ?`, chatID, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count locations since: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
