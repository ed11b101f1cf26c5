// Package chat implements the Chat Store: persistent CRUD over chats,
// chat-contact membership, and chat parameters (spec.md §4.1), grounded
// on the teacher's internal/draft store conventions (scan helpers,
// zerolog component logger, uuid-free integer ids matching the
// teacher's account/folder id style).
package chat

import (
	"time"

	"github.com/mtlchat/corechat/internal/params"
)

// Reserved chat ids. Ids 1..9 are reserved; user chats start at 10.
const (
	DeaddropChatID  int64 = 1
	TrashChatID     int64 = 2
	OutgoingChatID  int64 = 3
	StarredChatID   int64 = 5
	ArchivedLinkID  int64 = 6
	firstUserChatID int64 = 10
)

// Type is the chat kind.
type Type int

const (
	TypeSingle Type = iota + 1
	TypeGroup
	TypeVerifiedGroup
)

// Blocked is the chat's block state.
type Blocked int

const (
	Unblocked Blocked = iota
	ManuallyBlocked
	Deaddrop
)

// Chat is one row of the Chat Store.
type Chat struct {
	ID                 int64
	Type               Type
	Name               string
	GrpID              string
	Param              params.Map
	Archived           bool
	Blocked            Blocked
	GossipedTimestamp  int64
	LocationsSendBegin int64
	LocationsSendUntil int64
	LocationsLastSent  int64
	CreatedAt          time.Time
}

// IsReserved reports whether id is one of the reserved system chat ids
// (1..9) rather than a user-created chat.
func IsReserved(id int64) bool {
	return id > 0 && id < firstUserChatID
}

// IsSelfTalk reports whether this chat is the user's self-chat, per the
// self-talk marker in its parameter map.
func (c *Chat) IsSelfTalk() bool {
	return c.Param.GetBool(params.SelfTalk)
}

// IsUnpromotedGroup reports whether this group chat has not yet sent any
// outgoing system message (spec.md §4.5).
func (c *Chat) IsUnpromotedGroup() bool {
	return c.Param.GetBool(params.GroupUnpromoted)
}

// IsStreaming reports whether location streaming is currently active for
// this chat, relative to now.
func (c *Chat) IsStreaming(now time.Time) bool {
	return c.LocationsSendUntil > now.Unix()
}
