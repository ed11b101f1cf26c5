// Package send implements the Send Dispatcher (spec.md §4.4): promotes a
// prepared message to out-pending, enqueues the transport job, and
// expands forward batches into one send per original message. Grounded
// on the teacher's internal/sync job-handoff pattern (enqueue-then-emit)
// and on spec.md §9's explicit-worklist note for the forward fan-out.
package send

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mtlchat/corechat/internal/corerr"
	"github.com/mtlchat/corechat/internal/events"
	"github.com/mtlchat/corechat/internal/jobqueue"
	"github.com/mtlchat/corechat/internal/logging"
	"github.com/mtlchat/corechat/internal/message"
	"github.com/mtlchat/corechat/internal/params"
)

// sendMsgJob is the job kind the dispatcher enqueues; the actual
// SMTP/IMAP transport that drains it is an external collaborator
// (spec.md §1).
const sendMsgJob = "send-msg"

// Dispatcher implements send(chat-id, message).
type Dispatcher struct {
	prep   *message.Preparer
	msgs   *message.Store
	jobs   *jobqueue.Queue
	events *events.Bus

	selfContactID int64
	log           zerolog.Logger
}

// NewDispatcher creates a Send Dispatcher.
func NewDispatcher(prep *message.Preparer, msgs *message.Store, jobs *jobqueue.Queue, bus *events.Bus, selfContactID int64) *Dispatcher {
	return &Dispatcher{
		prep:          prep,
		msgs:          msgs,
		jobs:          jobs,
		events:        bus,
		selfContactID: selfContactID,
		log:           logging.WithComponent("send-dispatcher"),
	}
}

// Send transitions msg to out-pending and queues its transport job, per
// spec.md §4.4. If msg is already out-preparing, chatID must match (or
// be 0) and the row is simply promoted; otherwise prepare runs first.
// chatID=0 routes by the message's own chat id, the convention the
// forward fan-out relies on.
func (d *Dispatcher) Send(chatID int64, msg *message.Message) (int64, error) {
	id, effectiveChat, err := d.prepareOrPromote(chatID, msg)
	if err != nil {
		return 0, err
	}

	d.jobs.Enqueue(sendMsgJob, id)

	if d.events != nil {
		d.events.EmitMsgsChanged(effectiveChat, id)
		if _, hasLat := msg.Param.Get(params.SetLatitude); hasLat {
			d.events.EmitLocationChanged(d.selfContactID)
		}
	}

	if err := d.forwardFanOut(id, msg); err != nil {
		return id, err
	}
	return id, nil
}

func (d *Dispatcher) prepareOrPromote(chatID int64, msg *message.Message) (id int64, effectiveChat int64, err error) {
	if msg.ID != 0 && msg.State == message.StateOutPreparing {
		if chatID != 0 && msg.ChatID != 0 && chatID != msg.ChatID {
			return 0, 0, fmt.Errorf("%w: chat id %d does not match prepared message's chat %d", corerr.ErrBadArgument, chatID, msg.ChatID)
		}
		effectiveChat = msg.ChatID
		if effectiveChat == 0 {
			effectiveChat = chatID
		}
		if err := d.msgs.SetState(msg.ID, message.StateOutPending); err != nil {
			return 0, 0, err
		}
		msg.State = message.StateOutPending
		return msg.ID, effectiveChat, nil
	}

	target := chatID
	if target == 0 {
		target = msg.ChatID
	}
	id, err = d.prep.Prepare(target, msg, true)
	if err != nil {
		return 0, 0, err
	}
	return id, msg.ChatID, nil
}

// forwardFanOut expands the forwarded-originals tag into one independent
// send per original message, using an explicit worklist rather than
// recursion into Send, per spec.md §9. A malformed id (one that does not
// resolve to an existing message) silently terminates the remainder of
// the loop — forwarding is best-effort, not transactional.
func (d *Dispatcher) forwardFanOut(triggeringID int64, msg *message.Message) error {
	raw, ok := msg.Param.Get(params.ForwardedOriginals)
	if !ok || raw == "" {
		return nil
	}

	for _, tok := range strings.Fields(raw) {
		origID, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || origID == 0 {
			break
		}
		original, err := d.msgs.Get(origID)
		if err != nil {
			return err
		}
		if original == nil {
			break
		}

		fwd := original.Clone()
		fwd.ID = 0
		fwd.State = ""
		fwd.Param.Delete(params.ForwardedOriginals)
		fwd.Param.Delete(params.GuaranteeE2EE)
		fwd.Param.Delete(params.SystemMessageKind)
		fwd.Param.Delete(params.SystemMessageArg1)

		if _, err := d.Send(0, fwd); err != nil {
			return err
		}
	}

	msg.Param.Delete(params.ForwardedOriginals)
	return d.msgs.UpdateParam(triggeringID, msg.Param)
}
