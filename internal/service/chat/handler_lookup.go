package chat

import (
	"context"
	"encoding/json"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/pkg/errorx"

	"go.uber.org/zap"
)

// lookupHandler pages backwards through the room's history: the cache
// serves what it holds, the relational store fills the deficit, and the
// union comes back newest first. Every returned entry is marked read
// for the caller and the room's unread counter resets.
type lookupHandler struct{}

func newLookupHandler() Handler { return lookupHandler{} }

func (lookupHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	var form LookupData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &form); err != nil {
			return nil, errorx.Wrap(err, errorx.CodeInvalidJSONFormat, "decode lookup data")
		}
	}
	if form.Offset == nil || form.Limit == nil {
		zap.L().Warn("lookup without offset or limit",
			zap.Int64("room_id", hctx.RoomID),
			zap.Int64("profile_id", hctx.ProfileID))
		return &Outcome{}, nil
	}
	offset, limit := *form.Offset, *form.Limit
	if offset < 0 || limit <= 0 {
		return nil, errorx.Newf(errorx.CodeInvalid, "bad lookup range offset=%d limit=%d", offset, limit)
	}

	cached, err := hctx.Coord.Histories(ctx, hctx.RoomID, offset, offset+limit-1)
	if err != nil {
		return nil, err
	}

	union := cached
	seen := map[string]bool{}
	for _, e := range cached {
		seen[e.RedisID] = true
	}
	deficit := int(limit) - len(cached)
	if deficit > 0 {
		rows, err := hctx.Repos.History.ListByRoom(hctx.RoomID,
			int(offset)+len(cached), deficit,
			repository.WithFiles(), repository.WithReadMarkers())
		if err != nil {
			return nil, err
		}
		for i := range rows {
			if seen[rows[i].RedisID] {
				continue
			}
			union = append(union, historyEntryOf(&rows[i]))
		}
	}

	if err := markEntriesRead(ctx, hctx, union); err != nil {
		zap.L().Error("read marker update failed",
			zap.Int64("room_id", hctx.RoomID),
			zap.Int64("profile_id", hctx.ProfileID),
			zap.Error(err))
	}
	if err := hctx.Coord.ResetUnread(ctx, hctx.ProfileID, hctx.RoomID); err != nil {
		zap.L().Error("unread reset failed", zap.Int64("profile_id", hctx.ProfileID), zap.Error(err))
	}

	return &Outcome{
		Unicast: []SendForm{{Type: TypeLookup, Data: LookupReply{
			Histories:  hctx.Coord.SignHistories(union),
			NextOffset: offset + int64(len(union)),
		}}},
	}, nil
}

// markEntriesRead records the caller into the read set of every entry
// it was served, in both layers.
func markEntriesRead(ctx context.Context, hctx *HandlerContext, entries []cache.HistoryEntry) error {
	unread := map[string]bool{}
	for _, e := range entries {
		read := false
		for _, id := range e.ReadUserIDs {
			if id == hctx.ProfileID {
				read = true
				break
			}
		}
		if !read {
			unread[e.RedisID] = true
		}
	}
	if len(unread) == 0 {
		return nil
	}

	lock, err := hctx.Coord.Lock(ctx, cache.LockKey(cache.RoomHistoriesKey(hctx.RoomID)))
	if err != nil {
		return err
	}
	raws, cachedEntries, err := hctx.Coord.RawHistories(ctx, hctx.RoomID)
	if err != nil {
		lock.Release(ctx)
		return err
	}
	pipe := hctx.Coord.Cache().Pipeline()
	staged := false
	for i := range cachedEntries {
		if !unread[cachedEntries[i].RedisID] {
			continue
		}
		updated := cachedEntries[i]
		updated.ReadUserIDs = append(append([]int64(nil), updated.ReadUserIDs...), hctx.ProfileID)
		if err := hctx.Coord.ReplaceHistory(ctx, hctx.RoomID, raws[i], updated, pipe); err != nil {
			lock.Release(ctx)
			return err
		}
		staged = true
	}
	if staged {
		if _, err := pipe.Exec(ctx); err != nil {
			lock.Release(ctx)
			return errorx.Wrap(err, errorx.CodeInternalServerError, "flush read marker pipeline")
		}
	}
	lock.Release(ctx)

	redisIDs := make([]string, 0, len(unread))
	for id := range unread {
		redisIDs = append(redisIDs, id)
	}
	rows, err := hctx.Repos.History.FindByRedisIDs(redisIDs, repository.WithReadMarkers())
	if err != nil {
		return err
	}
	var missing []model.ChatHistoryUserAssociation
	var markRead []int64
	for i := range rows {
		found := false
		for j := range rows[i].UserProfileMapping {
			m := &rows[i].UserProfileMapping[j]
			if int64(m.UserProfileID) == hctx.ProfileID {
				found = true
				if !m.IsRead {
					markRead = append(markRead, int64(m.ID))
				}
				break
			}
		}
		if !found {
			missing = append(missing, model.ChatHistoryUserAssociation{
				HistoryID:     rows[i].ID,
				UserProfileID: uint(hctx.ProfileID),
				IsRead:        true,
			})
		}
	}
	if err := hctx.Repos.History.BulkCreateReadMarkers(missing); err != nil {
		return err
	}
	return hctx.Repos.History.MarkRead(markRead)
}
