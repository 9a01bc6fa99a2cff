package chat

import (
	"context"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/model"

	"go.uber.org/zap"
)

// readersOf seeds a new entry's read set: every member with a live
// session has seen the entry the moment it lands.
func readersOf(room *cache.RoomInfo, senderProfileID int64) []int64 {
	readers := make([]int64, 0, len(room.ConnectedProfileIDs)+1)
	seen := map[int64]bool{}
	for _, id := range room.ConnectedProfileIDs {
		if room.HasMember(id) && !seen[id] {
			readers = append(readers, id)
			seen[id] = true
		}
	}
	if !seen[senderProfileID] {
		readers = append(readers, senderProfileID)
	}
	return readers
}

// storeEntry writes one new entry into the room history under the
// histories lock, then mirrors dirty state when the entry carries a DB
// id.
func storeEntry(ctx context.Context, hctx *HandlerContext, entry cache.HistoryEntry) error {
	lock, err := hctx.Coord.Lock(ctx, cache.LockKey(cache.RoomHistoriesKey(hctx.RoomID)))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)
	return hctx.Coord.UpdateHistoriesByRoom(ctx, hctx.RoomID, []cache.HistoryEntry{entry}, nil)
}

// bumpRoomIndexes advances every member's room index entry for new
// activity. Members with a live session keep their unread counter; the
// rest grow by one. A failed bump is logged, not fatal: the index
// re-syncs from the store on next read.
func bumpRoomIndexes(ctx context.Context, hctx *HandlerContext, timestamp float64) {
	for _, profileID := range hctx.Room.UserProfileIDs {
		var err error
		if hctx.Room.IsConnected(profileID) {
			err = hctx.Coord.TouchRoomItem(ctx, profileID, hctx.RoomID, timestamp)
		} else {
			err = hctx.Coord.BumpUnread(ctx, profileID, hctx.RoomID, timestamp)
		}
		if err != nil {
			zap.L().Error("room index bump failed",
				zap.Int64("room_id", hctx.RoomID),
				zap.Int64("profile_id", profileID),
				zap.Error(err))
		}
	}
}

// historyEntryOf converts a stored row into its cache representation.
func historyEntryOf(row *model.ChatHistory) cache.HistoryEntry {
	id := int64(row.ID)
	entry := cache.HistoryEntry{
		ID:            &id,
		RedisID:       row.RedisID,
		UserProfileID: int64(row.UserProfileID),
		Contents:      row.Contents,
		Type:          model.HistoryTypeName(row.Type),
		Files:         []cache.HistoryFile{},
		ReadUserIDs:   []int64{},
		Timestamp:     cache.UnixSeconds(row.CreatedAt),
		Date:          entryDate(row.CreatedAt),
		IsActive:      row.IsActive,
	}
	for i := range row.Files {
		f := &row.Files[i]
		if f.Media == nil {
			continue
		}
		entry.Files = append(entry.Files, cache.HistoryFile{
			Uid:         f.Uid,
			Filename:    f.Media.Filename,
			ContentType: f.Media.ContentType,
			Bucket:      f.Media.Bucket,
			Filepath:    f.Media.Filepath,
			Order:       f.Order,
		})
	}
	for i := range row.UserProfileMapping {
		m := &row.UserProfileMapping[i]
		if m.IsRead {
			entry.ReadUserIDs = append(entry.ReadUserIDs, int64(m.UserProfileID))
		}
	}
	return entry
}
