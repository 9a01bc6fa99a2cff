package chat

import (
	"encoding/json"

	"talkroom_server/internal/cache"
)

// Frame type names carried on the wire.
const (
	TypeMessage   = "message"
	TypeFile      = "file"
	TypeInvite    = "invite"
	TypeTerminate = "terminate"
	TypeLookup    = "lookup"
	TypePatch     = "patch"
	TypePing      = "ping"
)

// ReceiveForm is every inbound frame: a type tag plus a type-specific
// data object.
type ReceiveForm struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SendForm is every outbound frame.
type SendForm struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MessageData carries a text message.
type MessageData struct {
	Contents string `json:"text"`
}

// FileUpload is one attachment body, base64 encoded.
type FileUpload struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"content"`
}

// FileData carries an attachment frame.
type FileData struct {
	Contents string       `json:"contents"`
	Files    []FileUpload `json:"files"`
}

// InviteData names the profiles to pull into the room.
type InviteData struct {
	TargetProfileIDs []int64 `json:"target_user_profile_ids"`
}

// LookupData pages backwards through history. Both fields are
// required; a frame missing either is dropped.
type LookupData struct {
	Offset *int64 `json:"offset"`
	Limit  *int64 `json:"limit"`
}

// PatchData applies one set of field updates to a batch of history
// entries, addressed by their stable redis ids. Only "contents" and
// "is_active" are patchable.
type PatchData struct {
	RedisIDs []string `json:"history_redis_ids"`
	Contents *string  `json:"contents"`
	IsActive *bool    `json:"is_active"`
}

// MessageReply multicasts a stored history entry.
type MessageReply struct {
	History cache.HistoryEntry `json:"history"`
}

// InviteReply multicasts the invite notice plus the joined members.
type InviteReply struct {
	History      cache.HistoryEntry `json:"history"`
	UserProfiles []cache.RoomMember `json:"user_profiles"`
}

// TerminateReply multicasts the leave notice.
type TerminateReply struct {
	History       cache.HistoryEntry `json:"history"`
	UserProfileID int64              `json:"user_profile_id"`
}

// LookupReply answers a history page.
type LookupReply struct {
	Histories  []cache.HistoryEntry `json:"histories"`
	NextOffset int64                `json:"next_offset"`
}

// PatchReply multicasts the patched entries.
type PatchReply struct {
	Histories []cache.HistoryEntry `json:"histories"`
}

// PingReply answers a keepalive.
type PingReply struct {
	Pong bool `json:"pong"`
}
