package appstate

import (
	"errors"
	"sync"
)

// ErrAlreadyOngoing is returned by Ongoing.Acquire when another long
// operation (import/export/key-setup) already holds the slot — the
// "precondition: already-ongoing" error kind from spec.md §7.
var ErrAlreadyOngoing = errors.New("appstate: another ongoing operation is already running")

// Ongoing is the single-slot, cooperatively-cancellable guard described in
// spec.md §5 and §9: import, export, and key-transfer all acquire it before
// starting and must poll Cancelled() at least once per file, per message,
// and per sleep interval.
type Ongoing struct {
	mu        sync.Mutex
	held      bool
	kind      string
	cancelled bool
}

// NewOngoing creates an empty (unheld) ongoing-operation slot.
func NewOngoing() *Ongoing {
	return &Ongoing{}
}

// Acquire claims the slot for the named operation kind (e.g.
// "export-backup", "import-backup", "export-self-keys",
// "import-self-keys"). It fails with ErrAlreadyOngoing if the slot is
// already held.
func (o *Ongoing) Acquire(kind string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.held {
		return ErrAlreadyOngoing
	}
	o.held = true
	o.kind = kind
	o.cancelled = false
	return nil
}

// Release frees the slot, whether the operation finished, failed, or was
// cancelled.
func (o *Ongoing) Release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.held = false
	o.kind = ""
	o.cancelled = false
}

// Cancel requests cooperative cancellation of whatever operation currently
// holds the slot. It is a no-op if nothing is running.
func (o *Ongoing) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.held {
		o.cancelled = true
	}
}

// Cancelled reports whether the running operation has been asked to stop.
// Long loops in the import/export and location-KML-emit paths must check
// this at the granularity spec.md §5 requires.
func (o *Ongoing) Cancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// Kind reports the name passed to the current Acquire call, or "" if the
// slot is free.
func (o *Ongoing) Kind() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.kind
}

// Busy reports whether the slot is currently held.
func (o *Ongoing) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held
}
