package chat

import (
	"context"
	"encoding/json"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/pkg/errorx"
)

// patchHandler applies one set of field updates to a batch of entries
// addressed by redis id: cache entries are replaced in place under the
// histories lock, the relational rows update in the same frame, and the
// patched entries fan out so every session converges.
type patchHandler struct{}

func newPatchHandler() Handler { return patchHandler{} }

func (patchHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	var form PatchData
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalidJSONFormat, "decode patch data")
	}
	if len(form.RedisIDs) == 0 || (form.Contents == nil && form.IsActive == nil) {
		return nil, errorx.Newf(errorx.CodeInvalid, "patch without targets or values")
	}
	newContents := form.Contents
	newActive := form.IsActive

	targets := map[string]bool{}
	for _, id := range form.RedisIDs {
		targets[id] = true
	}

	lock, err := hctx.Coord.Lock(ctx, cache.LockKey(cache.RoomHistoriesKey(hctx.RoomID)))
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	raws, entries, err := hctx.Coord.RawHistories(ctx, hctx.RoomID)
	if err != nil {
		return nil, err
	}
	pipe := hctx.Coord.Cache().Pipeline()
	var patched []cache.HistoryEntry
	patchedIDs := map[string]bool{}
	for i := range entries {
		if !targets[entries[i].RedisID] {
			continue
		}
		updated := entries[i]
		updated.Files = append([]cache.HistoryFile(nil), updated.Files...)
		updated.ReadUserIDs = append([]int64(nil), updated.ReadUserIDs...)
		if newContents != nil {
			c := *newContents
			updated.Contents = &c
		}
		if newActive != nil {
			updated.IsActive = *newActive
		}
		if err := hctx.Coord.ReplaceHistory(ctx, hctx.RoomID, raws[i], updated, pipe); err != nil {
			return nil, err
		}
		patched = append(patched, updated)
		patchedIDs[updated.RedisID] = true
	}
	if len(patched) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, errorx.Wrap(err, errorx.CodeInternalServerError, "flush patch pipeline")
		}
	}

	columns := map[string]any{}
	if newContents != nil {
		columns["contents"] = *newContents
	}
	if newActive != nil {
		columns["is_active"] = *newActive
	}
	if err := hctx.Repos.History.UpdateByRedisIDs(form.RedisIDs, columns); err != nil {
		return nil, err
	}

	// Targets no longer cached were still updated above; re-read their
	// rows so the reply carries every requested entry.
	missing := make([]string, 0, len(form.RedisIDs))
	for _, id := range form.RedisIDs {
		if !patchedIDs[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		rows, err := hctx.Repos.History.FindByRedisIDs(missing,
			repository.WithFiles(), repository.WithReadMarkers())
		if err != nil {
			return nil, err
		}
		for i := range rows {
			patched = append(patched, historyEntryOf(&rows[i]))
		}
	}

	return &Outcome{
		Multicast: []SendForm{{Type: TypePatch, Data: PatchReply{
			Histories: hctx.Coord.SignHistories(patched),
		}}},
	}, nil
}
