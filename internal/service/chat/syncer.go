package chat

import (
	"context"
	"fmt"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/pkg/errorx"

	"go.uber.org/zap"
)

// Syncer is the write-behind bridge from cache to the relational store.
// Two phases per cycle: bind cache-only entries to fresh rows, then
// drain the dirty mirror into row updates. Either layer may lag but the
// stable redis id keeps them reconcilable.
type Syncer struct {
	coord    *cache.Coordinator
	repos    *repository.Repositories
	interval time.Duration
}

// NewSyncer builds the syncer.
func NewSyncer(coord *cache.Coordinator, repos *repository.Repositories, interval time.Duration) *Syncer {
	return &Syncer{coord: coord, repos: repos, interval: interval}
}

// Run drains on a ticker until the context ends.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				zap.L().Error("history sync cycle failed", zap.Error(err))
			}
		}
	}
}

// Sync runs one full cycle over every cached room.
func (s *Syncer) Sync(ctx context.Context) error {
	keys, err := s.coord.Cache().ScanKeys(ctx, "room:*:chat_histories")
	if err != nil {
		return err
	}
	for _, key := range keys {
		var roomID int64
		if _, err := fmt.Sscanf(key, "room:%d:chat_histories", &roomID); err != nil {
			continue
		}
		if err := s.BindRoom(ctx, roomID); err != nil {
			zap.L().Error("history bind failed", zap.Int64("room_id", roomID), zap.Error(err))
		}
	}
	return s.DrainDirty(ctx)
}

// FlushRoom persists a single room's cache-only entries and drains the
// dirty mirror, used before the room's cache views are dropped.
func (s *Syncer) FlushRoom(ctx context.Context, roomID int64) error {
	if err := s.BindRoom(ctx, roomID); err != nil {
		return err
	}
	return s.DrainDirty(ctx)
}

// BindRoom creates rows for entries that exist only in cache, then
// rewrites them in place carrying the new row id. Bound entries join
// the dirty mirror, so read-set changes since the bind still land.
func (s *Syncer) BindRoom(ctx context.Context, roomID int64) error {
	lock, err := s.coord.Lock(ctx, cache.LockKey(cache.RoomHistoriesKey(roomID)))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	raws, entries, err := s.coord.RawHistories(ctx, roomID)
	if err != nil {
		return err
	}
	pipe := s.coord.Cache().Pipeline()
	staged := false
	for i := range entries {
		if entries[i].ID != nil {
			continue
		}
		entry := entries[i]
		row := model.ChatHistory{
			RedisID:       entry.RedisID,
			RoomID:        uint(roomID),
			UserProfileID: uint(entry.UserProfileID),
			Contents:      entry.Contents,
			Type:          model.HistoryTypeValue(entry.Type),
			IsActive:      entry.IsActive,
		}
		sec := int64(entry.Timestamp)
		row.CreatedAt = time.Unix(sec, int64((entry.Timestamp-float64(sec))*1e9))

		err := s.repos.WithTransaction(func(r *repository.Repositories) error {
			if err := r.History.Create(&row); err != nil {
				return err
			}
			markers := make([]model.ChatHistoryUserAssociation, 0, len(entry.ReadUserIDs))
			for _, pid := range entry.ReadUserIDs {
				markers = append(markers, model.ChatHistoryUserAssociation{
					HistoryID:     row.ID,
					UserProfileID: uint(pid),
					IsRead:        true,
				})
			}
			return r.History.BulkCreateReadMarkers(markers)
		})
		if err != nil {
			return err
		}

		id := int64(row.ID)
		entry.ID = &id
		if err := s.coord.ReplaceHistory(ctx, roomID, raws[i], entry, pipe); err != nil {
			return err
		}
		staged = true
	}
	if !staged {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errorx.Wrapf(err, errorx.CodeInternalServerError, "flush bind pipeline room=%d", roomID)
	}
	return nil
}

// DrainDirty writes every dirty mirror entry back to its row and clears
// the mirror.
func (s *Syncer) DrainDirty(ctx context.Context) error {
	raws, err := s.coord.Cache().ZRange(ctx, cache.DirtyHistoriesKey, 0, -1)
	if err != nil {
		return err
	}
	for _, raw := range raws {
		var entry cache.HistoryEntry
		if err := cache.Unmarshal(raw, &entry); err != nil {
			zap.L().Error("undecodable dirty entry dropped", zap.Error(err))
			_ = s.coord.Cache().ZRem(ctx, cache.DirtyHistoriesKey, raw)
			continue
		}
		values := map[string]any{"is_active": entry.IsActive}
		if entry.Contents != nil {
			values["contents"] = *entry.Contents
		}
		if err := s.repos.History.UpdateByRedisIDs([]string{entry.RedisID}, values); err != nil {
			return err
		}
		if err := s.syncReadMarkers(&entry); err != nil {
			return err
		}
		if err := s.coord.Cache().ZRem(ctx, cache.DirtyHistoriesKey, raw); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) syncReadMarkers(entry *cache.HistoryEntry) error {
	rows, err := s.repos.History.FindByRedisIDs([]string{entry.RedisID}, repository.WithReadMarkers())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	row := &rows[0]
	existing := map[int64]*model.ChatHistoryUserAssociation{}
	for i := range row.UserProfileMapping {
		existing[int64(row.UserProfileMapping[i].UserProfileID)] = &row.UserProfileMapping[i]
	}
	var missing []model.ChatHistoryUserAssociation
	var markRead []int64
	for _, pid := range entry.ReadUserIDs {
		marker, ok := existing[pid]
		if !ok {
			missing = append(missing, model.ChatHistoryUserAssociation{
				HistoryID:     row.ID,
				UserProfileID: uint(pid),
				IsRead:        true,
			})
			continue
		}
		if !marker.IsRead {
			markRead = append(markRead, int64(marker.ID))
		}
	}
	if err := s.repos.History.BulkCreateReadMarkers(missing); err != nil {
		return err
	}
	return s.repos.History.MarkRead(markRead)
}
