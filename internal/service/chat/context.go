package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/storage"

	"github.com/google/uuid"
)

// Deps are the shared collaborators every session and handler uses.
type Deps struct {
	Repos *repository.Repositories
	Coord *cache.Coordinator
	Bus   Bus
	Store *storage.Store
}

// HandlerContext is one frame's view of the session: the shared deps
// plus the session identity and the room snapshot taken at accept time.
type HandlerContext struct {
	*Deps

	RoomID    int64
	ProfileID int64
	// Profile is the sender's own member entry.
	Profile cache.RoomMember
	// Room is the live snapshot; SetConnected refreshes it.
	Room *cache.RoomInfo
}

// Outcome is what one frame produces: frames echoed only to this
// session, frames fanned out to every session of the room, and an
// optional close directive.
type Outcome struct {
	Unicast   []SendForm
	Multicast []SendForm
	Close     *CloseDirective
}

// CloseDirective ends the session with a websocket close code.
type CloseDirective struct {
	Code int
	Text string
}

// Handler processes one inbound frame type.
type Handler interface {
	Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error)
}

// NewRedisID mints the 32-hex stable identity of a history entry.
func NewRedisID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// entryDate is the human-readable date stamp carried by history entries.
func entryDate(t time.Time) string {
	return t.Format("2006-01-02")
}
