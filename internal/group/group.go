// Package group implements the Group Protocol (spec.md §4.5): group
// creation, membership changes, renaming, re-imaging, verified-group
// enforcement, and the unpromoted→promoted transition that suppresses
// status messages for groups that have not yet sent anything. Grounded
// on the teacher's internal/chat (this module) store conventions and on
// original_source/dc_chat.rs's dc_create_group_chat / dc_add_contact_to_chat
// / dc_set_chat_name family for the promoted/unpromoted gating logic.
package group

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/chat"
	"github.com/mtlchat/corechat/internal/contact"
	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/message"
	"github.com/mtlchat/corechat/internal/params"
	"github.com/mtlchat/corechat/internal/stock"
)

// Sender hands a prepared message to the send pipeline (internal/send),
// promoting it from out-preparing to out-pending and enqueueing the
// transport job. Declared here rather than imported to keep the
// dependency direction leaf-ward: the Send Dispatcher depends on
// internal/group's output, not the other way around.
type Sender interface {
	Send(chatID int64, msg *message.Message) (int64, error)
}

// Protocol implements the Group Protocol operations.
type Protocol struct {
	chats    *chat.Store
	contacts *contact.Store
	msgs     *message.Store
	sender   Sender
	events   *events.Bus
	tr       stock.Translator

	selfContactID int64
	log           zerolog.Logger
}

// NewProtocol creates a Group Protocol instance.
func NewProtocol(chats *chat.Store, contacts *contact.Store, msgs *message.Store, sender Sender, bus *events.Bus, tr stock.Translator, selfContactID int64) *Protocol {
	if tr == nil {
		tr = stock.DefaultTranslator{}
	}
	return &Protocol{
		chats:         chats,
		contacts:      contacts,
		msgs:          msgs,
		sender:        sender,
		events:        bus,
		tr:            tr,
		selfContactID: selfContactID,
		log:           logging.WithComponent("group-protocol"),
	}
}

// CreateGroup creates a new unpromoted group (or verified-group) chat
// with self as its only member and a draft greeting inserted, per
// spec.md §4.5's table ("none (draft greeting inserted)").
func (p *Protocol) CreateGroup(name string, verified bool) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: group name must not be empty", corerr.ErrBadArgument)
	}

	typ := chat.TypeGroup
	if verified {
		typ = chat.TypeVerifiedGroup
	}

	grpid := uuid.NewString()
	param := make(params.Map)
	param.SetBool(params.GroupUnpromoted, true)

	chatID, err := p.chats.CreateGroup(typ, name, grpid, param, p.selfContactID)
	if err != nil {
		return 0, err
	}

	greeting := &message.Message{
		ChatID: chatID,
		Type:   message.TypeText,
		State:  message.StateOutDraft,
		Text:   p.tr.Translate(stock.NewGroupDraft, name),
		Param:  make(params.Map),
	}
	id, err := p.msgs.Insert(greeting)
	if err != nil {
		return 0, err
	}
	if err := p.msgs.SetChatID(id, chatID); err != nil {
		return 0, err
	}

	if p.events != nil {
		p.events.EmitChatModified(chatID)
	}
	return chatID, nil
}

// AddContact adds contactID to chatID's membership. Verified groups
// reject members who are not bidirectionally verified, per spec.md
// §4.5.
func (p *Protocol) AddContact(chatID, contactID int64) error {
	c, err := p.requireGroup(chatID)
	if err != nil {
		return err
	}
	if err := p.requireSelfMember(c); err != nil {
		return err
	}

	if c.Type == chat.TypeVerifiedGroup {
		peer, err := p.contacts.Get(contactID)
		if err != nil {
			return err
		}
		if peer == nil || !peer.Verified {
			return fmt.Errorf("%w: contact %d is not verified for a verified group", corerr.ErrPrecondition, contactID)
		}
	}

	if err := p.chats.AddMember(chatID, contactID); err != nil {
		return err
	}

	peer, err := p.contacts.Get(contactID)
	if err != nil {
		return err
	}
	arg := strconv.FormatInt(contactID, 10)
	if peer != nil {
		arg = peer.NameOrAddr()
	}
	return p.emitSystemMessage(c, stock.MsgAddMember, arg)
}

// RemoveContact removes contactID from chatID's membership. Removing
// self records chatID's group id in the left-groups set, per spec.md
// §4.5 and §9 open question (d) — the left-groups row survives chat
// deletion intentionally.
func (p *Protocol) RemoveContact(chatID, contactID int64) error {
	c, err := p.requireGroup(chatID)
	if err != nil {
		return err
	}
	if err := p.requireSelfMember(c); err != nil {
		return err
	}

	peer, err := p.contacts.Get(contactID)
	if err != nil {
		return err
	}
	arg := strconv.FormatInt(contactID, 10)
	if peer != nil {
		arg = peer.NameOrAddr()
	}

	if err := p.chats.RemoveMember(chatID, contactID); err != nil {
		return err
	}

	if contactID == p.selfContactID {
		if err := p.chats.MarkGroupLeft(c.GrpID); err != nil {
			return err
		}
		return p.emitSystemMessage(c, stock.MsgGroupLeft)
	}
	return p.emitSystemMessage(c, stock.MsgDelMember, arg)
}

// SetName renames a group chat. No-op (and no system message) when the
// new name equals the current one.
func (p *Protocol) SetName(chatID int64, newName string) error {
	if newName == "" {
		return fmt.Errorf("%w: group name must not be empty", corerr.ErrBadArgument)
	}
	c, err := p.requireGroup(chatID)
	if err != nil {
		return err
	}
	if err := p.requireSelfMember(c); err != nil {
		return err
	}
	if c.Name == newName {
		return nil
	}
	oldName := c.Name

	if err := p.chats.SetName(chatID, newName); err != nil {
		return err
	}
	return p.emitSystemMessage(c, stock.MsgGrpName, oldName, newName)
}

// SetProfileImage sets or clears a group's profile image path.
func (p *Protocol) SetProfileImage(chatID int64, path string) error {
	c, err := p.requireGroup(chatID)
	if err != nil {
		return err
	}
	if err := p.requireSelfMember(c); err != nil {
		return err
	}

	c.Param.Set(params.GroupProfileImage, path)
	if err := p.chats.UpdateParameters(chatID, c.Param); err != nil {
		return err
	}

	if path == "" {
		return p.emitSystemMessage(c, stock.MsgGrpImgDeleted)
	}
	return p.emitSystemMessage(c, stock.MsgGrpImgChanged)
}

func (p *Protocol) requireGroup(chatID int64) (*chat.Chat, error) {
	c, err := p.chats.Load(chatID)
	if err != nil {
		return nil, err
	}
	if c == nil || (c.Type != chat.TypeGroup && c.Type != chat.TypeVerifiedGroup) {
		return nil, fmt.Errorf("%w: chat %d is not a group", corerr.ErrBadArgument, chatID)
	}
	return c, nil
}

// requireSelfMember enforces spec.md §4.5's general precondition: self
// must be present in a promoted group. Unpromoted groups are exempt —
// nothing has been shared with peers yet, so there is nothing to leak.
func (p *Protocol) requireSelfMember(c *chat.Chat) error {
	if c.IsUnpromotedGroup() {
		return nil
	}
	ids, err := p.chats.GetContacts(c.ID)
	if err != nil {
		return err
	}
	if !containsID(ids, p.selfContactID) {
		if p.events != nil {
			p.events.EmitErrorSelfNotInGroup(c.ID)
		}
		return fmt.Errorf("%w: self not in group %d", corerr.ErrPrecondition, c.ID)
	}
	return nil
}

// emitSystemMessage implements the unpromoted→promoted gate shared by
// every mutating operation: a promoted group gets a hidden status
// message sent through the normal pipeline; an unpromoted group just
// has its unpromoted flag cleared, per spec.md §4.5.
func (p *Protocol) emitSystemMessage(c *chat.Chat, kind stock.ID, args ...string) error {
	if c.IsUnpromotedGroup() {
		c.Param.SetBool(params.GroupUnpromoted, false)
		return p.chats.UpdateParameters(c.ID, c.Param)
	}

	msg := &message.Message{
		Type:   message.TypeText,
		Text:   p.tr.Translate(kind, args...),
		Hidden: true,
		Param:  make(params.Map),
	}
	msg.Param.Set(params.SystemMessageKind, strconv.Itoa(int(kind)))
	if len(args) > 0 {
		msg.Param.Set(params.SystemMessageArg1, args[0])
	}

	if _, err := p.sender.Send(c.ID, msg); err != nil {
		return err
	}
	if p.events != nil {
		p.events.EmitChatModified(c.ID)
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
