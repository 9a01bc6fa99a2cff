package chat

import (
	"context"
	"encoding/json"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/pkg/errorx"
)

// messageHandler stores a text message as a cache-only entry and fans
// it out. The row reaches the relational store later through the
// write-behind syncer once lookup or patch binds an id, or on drain.
type messageHandler struct{}

func newMessageHandler() Handler { return messageHandler{} }

func (messageHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	var form MessageData
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalidJSONFormat, "decode message data")
	}
	if form.Contents == "" {
		return nil, errorx.Newf(errorx.CodeInvalid, "empty message contents")
	}

	now := time.Now()
	contents := form.Contents
	entry := cache.HistoryEntry{
		RedisID:       NewRedisID(),
		UserProfileID: hctx.ProfileID,
		Contents:      &contents,
		Type:          TypeMessage,
		Files:         []cache.HistoryFile{},
		ReadUserIDs:   readersOf(hctx.Room, hctx.ProfileID),
		Timestamp:     cache.UnixSeconds(now),
		Date:          entryDate(now),
		IsActive:      true,
	}
	if err := storeEntry(ctx, hctx, entry); err != nil {
		return nil, err
	}
	bumpRoomIndexes(ctx, hctx, entry.Timestamp)

	signed := hctx.Coord.SignHistories([]cache.HistoryEntry{entry})
	return &Outcome{
		Multicast: []SendForm{{Type: TypeMessage, Data: MessageReply{History: signed[0]}}},
	}, nil
}
