// Package params implements the typed parameter map spec.md §9 calls for:
// "packed parameter strings should be represented as a typed map whose
// keys form a closed enum... parsing happens at load, serialising at
// store; no string-scanning is exposed." Chats, messages, and drafts all
// persist one packed parameter blob and share this representation,
// grounded on the teacher's convention of storing small structured
// extras as a single TEXT column (internal/draft's JSON-string lists)
// generalized into a closed key space instead of free-form JSON.
package params

import (
	"sort"
	"strconv"
	"strings"
)

// Key is one recognised parameter tag. The set is closed — every tag
// spec.md §3 lists has a constant here; unrecognised tags found while
// parsing a stored blob are preserved but not exposed through typed
// accessors.
type Key string

const (
	AttachmentPath      Key = "attachment-path"
	AttachmentMime      Key = "attachment-mime"
	ForwardedOriginals  Key = "forwarded-originals"
	GuaranteeE2EE       Key = "guarantee-e2ee"
	SetupMessage        Key = "setup-message"
	GroupUnpromoted     Key = "group-unpromoted"
	GroupProfileImage   Key = "group-profile-image-path"
	SelfTalk            Key = "self-talk"
	SystemMessageKind   Key = "system-message-kind"
	SystemMessageArg1   Key = "system-message-arg1"
	SetLatitude         Key = "set-latitude"
	SetLongitude        Key = "set-longitude"
)

// Map is a packed parameter map. The zero value is an empty map ready
// to use.
type Map map[Key]string

// Parse decodes the on-disk packed form: one "key=value" pair per line,
// keys and values as stored verbatim (values never contain a newline).
func Parse(blob string) Map {
	m := make(Map)
	if blob == "" {
		return m
	}
	for _, line := range strings.Split(blob, "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		m[Key(key)] = value
	}
	return m
}

// String serialises the map back to its packed on-disk form, with keys
// sorted for a stable, diffable representation.
func (m Map) String() string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m[Key(k)])
		b.WriteByte('\n')
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Get returns the raw string value for key, and whether it was present.
func (m Map) Get(key Key) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Set stores a string value, or removes the key when value is empty.
func (m Map) Set(key Key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

// GetBool returns the boolean value for key ("1" is true, anything else
// including absence is false).
func (m Map) GetBool(key Key) bool {
	return m[key] == "1"
}

// SetBool stores a boolean value, removing the key when false.
func (m Map) SetBool(key Key, value bool) {
	if !value {
		delete(m, key)
		return
	}
	m[key] = "1"
}

// GetFloat returns the float64 value for key, or (0, false) if absent or
// unparsable.
func (m Map) GetFloat(key Key) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// SetFloat stores a float64 value.
func (m Map) SetFloat(key Key, value float64) {
	m[key] = strconv.FormatFloat(value, 'f', -1, 64)
}

// Delete removes a key entirely.
func (m Map) Delete(key Key) {
	delete(m, key)
}

// Clone returns an independent copy, used by the forward fan-out (§4.4)
// before it strips markers from a deep-copied original.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
