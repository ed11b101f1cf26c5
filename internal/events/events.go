// Package events is the host-facing notification bus every chat-engine
// component emits onto, grounded on the teacher's internal/sync.Scheduler
// callback-registration pattern (NewMailCallback, SyncCompletedCallback):
// a host (UI, CLI, test) registers one handler per event kind it cares
// about, and emitters never know who, if anyone, is listening.
package events

// Kind identifies one event type. Values mirror the core-to-host event
// surface spec.md §1 and §8 enumerate.
type Kind int

const (
	// MsgsChanged fires when a message is added, its state changes, or it
	// is deleted. ChatID and MsgID identify what changed; MsgID is 0 when
	// the change is not about one particular message.
	MsgsChanged Kind = iota + 1

	// IncomingMsg fires when a new message lands in a chat the user has
	// not archived or blocked.
	IncomingMsg

	// ChatModified fires when a chat's name, profile image, membership,
	// or archived/blocked state changes.
	ChatModified

	// LocationChanged fires when a contact's (or the user's own) most
	// recent location changes.
	LocationChanged

	// ImexProgress reports import/export progress, permille in [0, 1000].
	ImexProgress

	// ImexFileWritten fires once per file the export writes, carrying its
	// absolute path.
	ImexFileWritten

	// ErrorSelfNotInGroup fires when an operation is attempted on a group
	// the user has already left.
	ErrorSelfNotInGroup
)

// Event is one notification. Which fields are populated depends on Kind;
// unused fields are left at their zero value.
type Event struct {
	Kind    Kind
	ChatID  int64
	MsgID   int64
	ContactID int64
	Permille int
	Path    string
	Err     error
}

// Handler receives emitted events.
type Handler func(Event)

// Bus dispatches events to a single registered handler, matching the
// teacher's one-callback-per-kind convention rather than a general
// pub/sub fan-out — this core expects exactly one host.
type Bus struct {
	handler Handler
}

// New creates an event bus with no handler registered; Emit is then a
// no-op until SetHandler is called.
func New() *Bus {
	return &Bus{}
}

// SetHandler installs the handler that receives every subsequently
// emitted event. Passing nil detaches the current handler.
func (b *Bus) SetHandler(h Handler) {
	b.handler = h
}

// Emit delivers ev to the registered handler, if any.
func (b *Bus) Emit(ev Event) {
	if b.handler != nil {
		b.handler(ev)
	}
}

// EmitMsgsChanged is a convenience wrapper for the most frequently
// emitted event.
func (b *Bus) EmitMsgsChanged(chatID, msgID int64) {
	b.Emit(Event{Kind: MsgsChanged, ChatID: chatID, MsgID: msgID})
}

// EmitChatModified is a convenience wrapper for chat-metadata changes.
func (b *Bus) EmitChatModified(chatID int64) {
	b.Emit(Event{Kind: ChatModified, ChatID: chatID})
}

// EmitLocationChanged is a convenience wrapper for location updates.
func (b *Bus) EmitLocationChanged(contactID int64) {
	b.Emit(Event{Kind: LocationChanged, ContactID: contactID})
}

// EmitImexProgress is a convenience wrapper for import/export progress,
// rescaled to [0, 1000] per spec.md §4.7.
func (b *Bus) EmitImexProgress(permille int) {
	b.Emit(Event{Kind: ImexProgress, Permille: permille})
}

// EmitImexFileWritten is a convenience wrapper fired once per exported
// file.
func (b *Bus) EmitImexFileWritten(path string) {
	b.Emit(Event{Kind: ImexFileWritten, Path: path})
}

// EmitErrorSelfNotInGroup is a convenience wrapper for the left-group
// precondition failure.
func (b *Bus) EmitErrorSelfNotInGroup(chatID int64) {
	b.Emit(Event{Kind: ErrorSelfNotInGroup, ChatID: chatID})
}
