package draft

import (
	"fmt"
	"mime"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/blobstore"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/message"
	"github.com/mtlchat/corechat/internal/params"
)

// Store provides draft persistence operations: at most one draft per
// chat, per spec.md §4.2.
type Store struct {
	msgs   *message.Store
	blobs  *blobstore.Store
	events *events.Bus
	log    zerolog.Logger
}

// NewStore creates a new draft store.
func NewStore(msgs *message.Store, blobs *blobstore.Store, bus *events.Bus) *Store {
	return &Store{
		msgs:   msgs,
		blobs:  blobs,
		events: bus,
		log:    logging.WithComponent("draft-store"),
	}
}

// GetDraft returns the current draft for a chat, or nil if none exists.
func (s *Store) GetDraft(chatID int64) (*Draft, error) {
	return s.msgs.GetDraft(chatID)
}

// SetDraft replaces the chat's draft with d, or deletes the existing
// draft when d is nil. Setting a new draft deletes the previous row and
// then inserts the new one; the two steps are separate statements, not
// one transaction, so a failed insert leaves the chat with no draft. For
// text messages, empty text clears rather than saves.
func (s *Store) SetDraft(chatID int64, d *Draft) error {
	if chatID <= 9 {
		return fmt.Errorf("%w: chat id %d is reserved", corerr.ErrBadArgument, chatID)
	}

	if d == nil || (d.Type == message.TypeText && d.Text == "") {
		if err := s.msgs.DeleteDraft(chatID); err != nil {
			return err
		}
		s.emitChanged(chatID)
		return nil
	}

	if err := s.relocateAttachment(d); err != nil {
		return err
	}

	if err := s.msgs.DeleteDraft(chatID); err != nil {
		return err
	}

	d.ChatID = chatID
	d.State = message.StateOutDraft
	d.Hidden = false

	id, err := s.msgs.Insert(d)
	if err != nil {
		return err
	}
	if err := s.msgs.SetChatID(id, chatID); err != nil {
		return err
	}

	s.emitChanged(chatID)
	return nil
}

func (s *Store) emitChanged(chatID int64) {
	if s.events != nil {
		s.events.EmitChatModified(chatID)
	}
}

// relocateAttachment enforces spec.md §4.2's attachment rule: a path
// outside the blob directory is rejected for an in-progress draft;
// otherwise the file is copied into the blob directory and the path
// rewritten before persistence.
func (s *Store) relocateAttachment(d *Draft) error {
	path, ok := d.Param.Get(params.AttachmentPath)
	if !ok || path == "" {
		return nil
	}

	if s.blobs.IsInStore(path) {
		return nil
	}
	if d.State == message.StateOutPreparing {
		return fmt.Errorf("%w: attachment %q of an in-progress draft is outside the blob directory", corerr.ErrBadArgument, path)
	}

	name, err := s.blobs.CopyIn(path)
	if err != nil {
		return fmt.Errorf("%w: %v", corerr.ErrIO, err)
	}
	newPath := s.blobs.Path(name)
	d.Param.Set(params.AttachmentPath, newPath)

	if _, ok := d.Param.Get(params.AttachmentMime); !ok {
		if guessed := mime.TypeByExtension(filepath.Ext(newPath)); guessed != "" {
			d.Param.Set(params.AttachmentMime, guessed)
		}
	}
	return nil
}
