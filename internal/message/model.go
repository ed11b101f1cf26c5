// Package message implements the Message Preparer: validates outgoing
// messages, allocates message ids and server message ids, derives
// threading headers, and decides E2EE eligibility (spec.md §4.3).
// Grounded on the teacher's internal/message model (struct-per-row,
// JSON-tagged fields) generalized from IMAP envelope fields to the
// chat-engine's message row.
package message

import (
	"github.com/mtlchat/corechat/internal/params"
)

// Type is the message content type.
type Type string

const (
	TypeText         Type = "text"
	TypeImage        Type = "image"
	TypeGif          Type = "gif"
	TypeAudio        Type = "audio"
	TypeVoice        Type = "voice"
	TypeVideo        Type = "video"
	TypeFile         Type = "file"
	TypeLocationOnly Type = "location-only"
)

// State is the message delivery/read state.
type State string

const (
	StateInFresh     State = "in-fresh"
	StateInNoticed   State = "in-noticed"
	StateInSeen      State = "in-seen"
	StateOutPreparing State = "out-preparing"
	StateOutDraft    State = "out-draft"
	StateOutPending  State = "out-pending"
	StateOutDelivered State = "out-delivered"
	StateOutFailed   State = "out-failed"
	StateOutMDNRcvd  State = "out-mdn-rcvd"
)

// Message is one row of the message table.
type Message struct {
	ID             int64
	ChatID         int64
	FromID         int64
	ToID           int64
	Timestamp      int64
	Rfc724Mid      string
	Type           Type
	State          State
	Text           string
	Param          params.Map
	Hidden         bool
	InReplyTo      string
	MimeReferences string
	LocationID     int64
}

// IsOutgoing reports whether this message was authored by self.
func (m *Message) IsOutgoing() bool {
	switch m.State {
	case StateOutPreparing, StateOutDraft, StateOutPending, StateOutDelivered, StateOutFailed, StateOutMDNRcvd:
		return true
	default:
		return false
	}
}

// clone returns a deep copy of m, including an independent parameter
// map — used by the Send Dispatcher's forward fan-out (§4.4), which
// must not mutate the original message's parameters while stripping
// markers from the copy.
func (m *Message) clone() *Message {
	c := *m
	c.Param = m.Param.Clone()
	return &c
}

// Clone is the exported form of clone, used outside this package by the
// Send Dispatcher.
func (m *Message) Clone() *Message {
	return m.clone()
}
