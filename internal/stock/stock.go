// Package stock holds the closed set of stock-string identifiers the
// chat engine substitutes into, grounded on deltachat-core-rust's
// dc_stock.rs. Per spec.md §9's design note, the core depends only on the
// identifier and its positional substitution slots, never on a particular
// wording — the host supplies the actual localized text through a
// Translator.
package stock

import (
	"strconv"
	"strings"
)

// ID identifies one stock string. Values are stable and referenced by
// callers that never see the rendered text directly.
type ID int

const (
	NoMessages ID = iota + 1
	SelfMsg
	Draft
	Member
	DeadDrop
	Image
	Gif
	Video
	Audio
	File
	VoiceMessage
	Location
	EncryptedMsg
	StatusLine
	NewGroupDraft
	MsgGrpName
	MsgGrpImgChanged
	MsgGrpImgDeleted
	MsgAddMember
	MsgDelMember
	MsgGroupLeft
	MsgLocationEnabled
	MsgLocationDisabled
	MsgActionByUser
	MsgActionByMe
	ArchivedChats
	StarredMsgs
	ACSetupMsgSubject
	ACSetupMsgBody
	SelfTalkSubtitle
	CantDecryptMsgBody
	ContactRequests
)

// defaults holds the untranslated fallback text for each ID, carried over
// from dc_stock.rs::default_string almost verbatim — these are the
// strings a DefaultTranslator returns and that a host-supplied
// Translator is expected to override per locale.
var defaults = map[ID]string{
	NoMessages:          "No messages.",
	SelfMsg:             "Me",
	Draft:               "Draft",
	Member:              "%1$s member(s)",
	DeadDrop:            "Contact requests",
	Image:               "Image",
	Gif:                 "GIF",
	Video:               "Video",
	Audio:               "Audio",
	File:                "File",
	VoiceMessage:        "Voice message",
	Location:            "Location",
	EncryptedMsg:        "Encrypted message",
	StatusLine:          "Sent with my chat engine",
	NewGroupDraft:       "Hello, I've just created the group \"%1$s\" for us.",
	MsgGrpName:          "Group name changed from \"%1$s\" to \"%2$s\".",
	MsgGrpImgChanged:    "Group image changed.",
	MsgGrpImgDeleted:    "Group image deleted.",
	MsgAddMember:        "Member %1$s added.",
	MsgDelMember:        "Member %1$s removed.",
	MsgGroupLeft:        "Group left.",
	MsgLocationEnabled:  "Location streaming enabled.",
	MsgLocationDisabled: "Location streaming disabled.",
	MsgActionByUser:     "%1$s by %2$s.",
	MsgActionByMe:       "%1$s by me.",
	ArchivedChats:       "Archived chats",
	StarredMsgs:         "Starred messages",
	ACSetupMsgSubject:   "Autocrypt Setup Message",
	ACSetupMsgBody:      "This is the Autocrypt Setup Message used to transfer your key between clients.\n\nTo decrypt and use your key, open the message in an Autocrypt-compliant client and enter the setup code presented on the generating device.",
	SelfTalkSubtitle:    "Messages I sent to myself",
	CantDecryptMsgBody:  "This message was encrypted for another setup.",
	ContactRequests:     "Contact requests",
}

// Translator renders a stock string, optionally substituting positional
// arguments ($1, $2, ...) into it. A host UI implements this to supply
// localized text; DefaultTranslator is used when none is configured.
type Translator interface {
	Translate(id ID, args ...string) string
}

// DefaultTranslator returns the untranslated English defaults, suitable
// for standalone operation and tests.
type DefaultTranslator struct{}

// Translate implements Translator using the built-in defaults table.
func (DefaultTranslator) Translate(id ID, args ...string) string {
	text, ok := defaults[id]
	if !ok {
		return ""
	}
	return substitute(text, args...)
}

func substitute(text string, args ...string) string {
	for i, a := range args {
		placeholder := "%" + strconv.Itoa(i+1) + "$s"
		text = strings.ReplaceAll(text, placeholder, a)
	}
	return text
}
