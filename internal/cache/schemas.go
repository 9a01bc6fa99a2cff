package cache

import (
	"encoding/json"
	"strconv"

	"talkroom_server/pkg/errorx"
)

// ImageFile is a stored profile image reference inside a cache entry.
// URL is filled at read time so signatures never go stale in the cache.
type ImageFile struct {
	Uid       string `json:"uid"`
	Type      string `json:"type"`
	IsDefault bool   `json:"is_default"`
	Bucket    string `json:"bucket"`
	Filepath  string `json:"filepath"`
	URL       string `json:"url,omitempty"`
}

// HistoryFile is a stored attachment reference inside a history entry.
type HistoryFile struct {
	Uid         string `json:"uid"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Bucket      string `json:"bucket"`
	Filepath    string `json:"filepath"`
	Order       int    `json:"order"`
	URL         string `json:"url,omitempty"`
}

// RoomMember is one member entry inside a viewer's member set.
type RoomMember struct {
	ID         int64       `json:"id"`
	IdentityID string      `json:"identity_id"`
	Nickname   string      `json:"nickname"`
	Files      []ImageFile `json:"files"`
}

// HistoryEntry is one chat history entry in a room's sorted set. ID is
// nil until the row exists in the relational store; RedisID is the
// stable identity across both layers.
type HistoryEntry struct {
	ID            *int64        `json:"id"`
	RedisID       string        `json:"redis_id"`
	UserProfileID int64         `json:"user_profile_id"`
	Contents      *string       `json:"contents"`
	Type          string        `json:"type"`
	Files         []HistoryFile `json:"files"`
	ReadUserIDs   []int64       `json:"read_user_ids"`
	Timestamp     float64       `json:"timestamp"`
	Date          string        `json:"date"`
	IsActive      bool          `json:"is_active"`
}

// RoomItem is one entry in a profile's room index.
type RoomItem struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	UnreadMsgCnt int64   `json:"unread_msg_cnt"`
	Timestamp    float64 `json:"timestamp"`
}

// Following is one relationship entry in a profile's followings set.
type Following struct {
	ID          int64       `json:"id"`
	IdentityID  string      `json:"identity_id"`
	Nickname    string      `json:"nickname"`
	Type        int8        `json:"type"`
	Favorites   bool        `json:"favorites"`
	IsHidden    bool        `json:"is_hidden"`
	IsForbidden bool        `json:"is_forbidden"`
	Files       []ImageFile `json:"files"`
}

// RoomInfo is the room snapshot held in the room info hash.
type RoomInfo struct {
	ID                  int64                 `json:"id"`
	Type                int8                  `json:"type"`
	UserProfileIDs      []int64               `json:"user_profile_ids"`
	UserProfileFiles    map[int64][]ImageFile `json:"user_profile_files"`
	ConnectedProfileIDs []int64               `json:"connected_profile_ids"`
}

// HasMember reports whether a profile belongs to the room snapshot.
func (ri *RoomInfo) HasMember(profileID int64) bool {
	for _, id := range ri.UserProfileIDs {
		if id == profileID {
			return true
		}
	}
	return false
}

// IsConnected reports whether a profile currently holds a live session.
func (ri *RoomInfo) IsConnected(profileID int64) bool {
	for _, id := range ri.ConnectedProfileIDs {
		if id == profileID {
			return true
		}
	}
	return false
}

// Marshal encodes any cache entry for storage as a collection member.
func Marshal(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", errorx.Wrap(err, errorx.CodeInternalServerError, "encode cache entry")
	}
	return string(raw), nil
}

// Unmarshal decodes a stored collection member.
func Unmarshal(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errorx.Wrap(err, errorx.CodeInternalServerError, "decode cache entry")
	}
	return nil
}

func (ri *RoomInfo) toFields() (map[string]string, error) {
	ids, err := json.Marshal(ri.UserProfileIDs)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "encode room info")
	}
	files, err := json.Marshal(ri.UserProfileFiles)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "encode room info")
	}
	connected, err := json.Marshal(ri.ConnectedProfileIDs)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "encode room info")
	}
	return map[string]string{
		"id":                    strconv.FormatInt(ri.ID, 10),
		"type":                  strconv.FormatInt(int64(ri.Type), 10),
		"user_profile_ids":      string(ids),
		"user_profile_files":    string(files),
		"connected_profile_ids": string(connected),
	}, nil
}

func roomInfoFromFields(fields map[string]string) (*RoomInfo, error) {
	info := &RoomInfo{
		UserProfileFiles:    map[int64][]ImageFile{},
		ConnectedProfileIDs: []int64{},
	}
	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "decode room info id")
	}
	info.ID = id
	typ, err := strconv.ParseInt(fields["type"], 10, 8)
	if err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "decode room info type")
	}
	info.Type = int8(typ)
	if err := json.Unmarshal([]byte(fields["user_profile_ids"]), &info.UserProfileIDs); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "decode room info members")
	}
	if raw := fields["user_profile_files"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.UserProfileFiles); err != nil {
			return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "decode room info files")
		}
	}
	if raw := fields["connected_profile_ids"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &info.ConnectedProfileIDs); err != nil {
			return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "decode room info connected")
		}
	}
	return info, nil
}
