package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/pkg/errorx"

	"go.uber.org/zap"
)

// inviteHandler pulls profiles into the room. Every target is probed
// against the profile store before anything mutates; a dead or unknown
// target fails the whole frame. Member views are reconciled per viewer:
// existing members see only the additions, the additions see everyone
// on their next read.
type inviteHandler struct{}

func newInviteHandler() Handler { return inviteHandler{} }

func (inviteHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	var form InviteData
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalidJSONFormat, "decode invite data")
	}
	if len(form.TargetProfileIDs) == 0 {
		return nil, errorx.Newf(errorx.CodeInvalid, "invite without targets")
	}

	profiles, err := hctx.Repos.UserProfile.FindActiveByIDs(form.TargetProfileIDs,
		repository.WithImages(), repository.WithFollowers())
	if err != nil {
		return nil, err
	}
	if len(profiles) != len(form.TargetProfileIDs) {
		return nil, errorx.Newf(errorx.CodeNotFound, "invite target missing or inactive")
	}

	lock, err := hctx.Coord.Lock(ctx, cache.RoomInfoLock)
	if err != nil {
		return nil, err
	}
	info, err := hctx.Coord.RoomInfo(ctx, hctx.RoomID, cache.GetOptions{Sync: true, Required: true})
	if err != nil {
		lock.Release(ctx)
		return nil, err
	}

	var joining []*model.UserProfile
	for i := range profiles {
		if !info.HasMember(int64(profiles[i].ID)) {
			joining = append(joining, &profiles[i])
		}
	}
	if len(joining) == 0 {
		lock.Release(ctx)
		return &Outcome{}, nil
	}

	existing := append([]int64(nil), info.UserProfileIDs...)

	assocs := make([]model.ChatRoomUserAssociation, 0, len(joining))
	for _, p := range joining {
		assocs = append(assocs, model.ChatRoomUserAssociation{
			RoomID:        uint(hctx.RoomID),
			UserProfileID: p.ID,
		})
	}
	if err := hctx.Repos.Membership.BulkCreate(assocs); err != nil {
		lock.Release(ctx)
		return nil, err
	}

	for _, p := range joining {
		info.UserProfileIDs = append(info.UserProfileIDs, int64(p.ID))
		for j := range p.Images {
			img := &p.Images[j]
			if !img.IsDefault || img.Media == nil {
				continue
			}
			info.UserProfileFiles[int64(p.ID)] = append(info.UserProfileFiles[int64(p.ID)], cache.ImageFile{
				Uid:       img.Uid,
				IsDefault: true,
				Bucket:    img.Media.Bucket,
				Filepath:  img.Media.Filepath,
			})
		}
	}
	if err := hctx.Coord.SaveRoomInfo(ctx, info); err != nil {
		lock.Release(ctx)
		return nil, err
	}
	lock.Release(ctx)
	hctx.Room = info

	// Existing members' cached views gain only the additions. A warm
	// view whose cardinality disagrees with the membership rebuilds in
	// full from the store; cold views rebuild on their next read-through.
	for _, viewerID := range existing {
		if err := reconcileMemberView(ctx, hctx, viewerID, len(existing), joining); err != nil {
			zap.L().Error("member view reconcile failed",
				zap.Int64("room_id", hctx.RoomID),
				zap.Int64("viewer_id", viewerID),
				zap.Error(err))
		}
	}

	// New members start with a zeroed unread counter.
	now := time.Now()
	for _, p := range joining {
		if err := hctx.Coord.UpsertRoomItem(ctx, int64(p.ID), cache.RoomItem{
			ID:        hctx.RoomID,
			Timestamp: cache.UnixSeconds(now),
		}); err != nil {
			zap.L().Error("room index seed failed",
				zap.Int64("room_id", hctx.RoomID),
				zap.Int64("profile_id", int64(p.ID)),
				zap.Error(err))
		}
	}

	targetNames := make([]string, 0, len(joining))
	joined := make([]cache.RoomMember, 0, len(joining))
	for _, p := range joining {
		entry := memberEntryFor(p, hctx.ProfileID)
		targetNames = append(targetNames, entry.Nickname)
		joined = append(joined, entry)
	}
	contents := fmt.Sprintf("%s님이 %s님을 초대했습니다.",
		hctx.Profile.Nickname, strings.Join(targetNames, "님과 "))
	notice := cache.HistoryEntry{
		RedisID:       NewRedisID(),
		UserProfileID: hctx.ProfileID,
		Contents:      &contents,
		Type:          "notice",
		Files:         []cache.HistoryFile{},
		ReadUserIDs:   readersOf(info, hctx.ProfileID),
		Timestamp:     cache.UnixSeconds(now),
		Date:          entryDate(now),
		IsActive:      true,
	}
	if err := storeEntry(ctx, hctx, notice); err != nil {
		return nil, err
	}
	bumpRoomIndexes(ctx, hctx, notice.Timestamp)

	signedJoined := make([]cache.RoomMember, len(joined))
	copy(signedJoined, joined)
	for i := range signedJoined {
		signedJoined[i].Files = signFiles(hctx, signedJoined[i].Files)
	}
	return &Outcome{
		Multicast: []SendForm{{Type: TypeInvite, Data: InviteReply{
			History:      notice,
			UserProfiles: signedJoined,
		}}},
	}, nil
}

// reconcileMemberView updates one existing member's cached view under
// its lock. wantBefore is the membership count the view should have
// held before the invite; any other warm cardinality means the view
// drifted and is rebuilt from the store.
func reconcileMemberView(ctx context.Context, hctx *HandlerContext, viewerID int64, wantBefore int, joining []*model.UserProfile) error {
	key := cache.RoomMembersKey(hctx.RoomID, viewerID)
	lock, err := hctx.Coord.Lock(ctx, cache.LockKey(key))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	count, err := hctx.Coord.Cache().SCard(ctx, key)
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	if int(count) != wantBefore {
		members, err := hctx.Coord.MemberEntriesFromDB(hctx.RoomID, viewerID)
		if err != nil {
			return err
		}
		if err := hctx.Coord.DeleteMembers(ctx, hctx.RoomID, viewerID); err != nil {
			return err
		}
		return hctx.Coord.AddMembers(ctx, hctx.RoomID, viewerID, members)
	}
	additions := make([]cache.RoomMember, 0, len(joining))
	for _, p := range joining {
		additions = append(additions, memberEntryFor(p, viewerID))
	}
	return hctx.Coord.AddMembers(ctx, hctx.RoomID, viewerID, additions)
}

// memberEntryFor builds one viewer's entry for a profile loaded with
// images and followers.
func memberEntryFor(profile *model.UserProfile, viewerProfileID int64) cache.RoomMember {
	m := cache.RoomMember{
		ID:         int64(profile.ID),
		IdentityID: profile.IdentityID,
		Nickname:   profile.NicknameFor(viewerProfileID),
		Files:      []cache.ImageFile{},
	}
	for i := range profile.Images {
		img := &profile.Images[i]
		if !img.IsDefault || img.Media == nil {
			continue
		}
		m.Files = append(m.Files, cache.ImageFile{
			Uid:       img.Uid,
			IsDefault: true,
			Bucket:    img.Media.Bucket,
			Filepath:  img.Media.Filepath,
		})
	}
	return m
}

func signFiles(hctx *HandlerContext, files []cache.ImageFile) []cache.ImageFile {
	for i := range files {
		files[i].URL = hctx.Store.SignedURL(files[i].Bucket, files[i].Filepath)
	}
	return files
}
