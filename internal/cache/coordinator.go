package cache

import (
	"context"
	"sort"
	"strings"
	"time"

	redisdao "talkroom_server/internal/dao/redis"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/pkg/errorx"

	"github.com/redis/go-redis/v9"
)

// URLSigner issues time-limited download URLs for stored objects.
type URLSigner interface {
	SignedURL(bucket, fpath string) string
}

// GetOptions tunes a coordinator read.
//
//	Sync:     on miss, load the view from the relational store and cache it.
//	Lock:     hold the view's named lock across the read (and sync).
//	Required: a miss after any sync is a not-found error instead of empty.
type GetOptions struct {
	Sync     bool
	Lock     bool
	Required bool
}

// Coordinator mediates every cache view: read-through loads, the
// compound updates handlers perform, and the dirty-history mirror the
// write-behind syncer drains.
type Coordinator struct {
	cache  *redisdao.Cache
	repos  *repository.Repositories
	signer URLSigner
}

// NewCoordinator wires the coordinator.
func NewCoordinator(c *redisdao.Cache, repos *repository.Repositories, signer URLSigner) *Coordinator {
	return &Coordinator{cache: c, repos: repos, signer: signer}
}

// Cache exposes the raw adapter for staged pipeline writes.
func (co *Coordinator) Cache() *redisdao.Cache { return co.cache }

// Lock acquires the named lock guarding a cache key.
func (co *Coordinator) Lock(ctx context.Context, key string) (*redisdao.Lock, error) {
	return co.cache.AcquireLock(ctx, key)
}

// UnixSeconds is the cache timestamp representation of a time.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// ==================== Room info ====================

// RoomInfo reads the room snapshot hash.
func (co *Coordinator) RoomInfo(ctx context.Context, roomID int64, opt GetOptions) (*RoomInfo, error) {
	if opt.Lock {
		lock, err := co.cache.AcquireLock(ctx, RoomInfoLock)
		if err != nil {
			return nil, err
		}
		defer lock.Release(ctx)
	}
	fields, err := co.cache.HGetAll(ctx, RoomInfoKey(roomID))
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		return roomInfoFromFields(fields)
	}
	if opt.Sync {
		info, err := co.roomInfoFromDB(roomID)
		if err != nil {
			if errorx.IsNotFound(err) && !opt.Required {
				return nil, nil
			}
			return nil, err
		}
		if err := co.SaveRoomInfo(ctx, info); err != nil {
			return nil, err
		}
		return info, nil
	}
	if opt.Required {
		return nil, errorx.Newf(errorx.CodeNotFound, "room %d not cached", roomID)
	}
	return nil, nil
}

// SaveRoomInfo writes the snapshot hash back.
func (co *Coordinator) SaveRoomInfo(ctx context.Context, info *RoomInfo) error {
	fields, err := info.toFields()
	if err != nil {
		return err
	}
	return co.cache.HSet(ctx, RoomInfoKey(info.ID), fields)
}

// DeleteRoomInfo drops the snapshot, used when the last member leaves.
func (co *Coordinator) DeleteRoomInfo(ctx context.Context, roomID int64) error {
	return co.cache.Delete(ctx, RoomInfoKey(roomID))
}

// SetConnected flips a profile's live-session mark in the room snapshot,
// under the room info lock. Returns the updated snapshot.
func (co *Coordinator) SetConnected(ctx context.Context, roomID, profileID int64, connected bool) (*RoomInfo, error) {
	lock, err := co.cache.AcquireLock(ctx, RoomInfoLock)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	info, err := co.RoomInfo(ctx, roomID, GetOptions{Sync: true, Required: true})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(info.ConnectedProfileIDs)+1)
	for _, id := range info.ConnectedProfileIDs {
		if id != profileID {
			ids = append(ids, id)
		}
	}
	if connected {
		ids = append(ids, profileID)
	}
	info.ConnectedProfileIDs = ids
	if err := co.SaveRoomInfo(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (co *Coordinator) roomInfoFromDB(roomID int64) (*RoomInfo, error) {
	room, err := co.repos.Room.FindByID(roomID)
	if err != nil {
		return nil, err
	}
	assocs, err := co.repos.Membership.FindByRoomID(roomID)
	if err != nil {
		return nil, err
	}
	if len(assocs) == 0 {
		return nil, errorx.Newf(errorx.CodeNotFound, "room %d has no members", roomID)
	}
	ids := make([]int64, 0, len(assocs))
	for _, a := range assocs {
		ids = append(ids, int64(a.UserProfileID))
	}
	images, err := co.repos.Media.FindImagesByProfileIDs(ids, true)
	if err != nil {
		return nil, err
	}
	files := map[int64][]ImageFile{}
	for _, img := range images {
		ref, ok := imageFileOf(&img)
		if !ok {
			continue
		}
		files[int64(img.UserProfileID)] = append(files[int64(img.UserProfileID)], ref)
	}
	return &RoomInfo{
		ID:                  roomID,
		Type:                room.Type,
		UserProfileIDs:      ids,
		UserProfileFiles:    files,
		ConnectedProfileIDs: []int64{},
	}, nil
}

// ==================== Member views ====================

// Members reads a viewer's member set for a room.
func (co *Coordinator) Members(ctx context.Context, roomID, viewerProfileID int64, opt GetOptions) ([]RoomMember, error) {
	key := RoomMembersKey(roomID, viewerProfileID)
	if opt.Lock {
		lock, err := co.cache.AcquireLock(ctx, LockKey(key))
		if err != nil {
			return nil, err
		}
		defer lock.Release(ctx)
	}
	raws, err := co.cache.SMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 && opt.Sync {
		members, err := co.MemberEntriesFromDB(roomID, viewerProfileID)
		if err != nil {
			return nil, err
		}
		if err := co.AddMembers(ctx, roomID, viewerProfileID, members); err != nil {
			return nil, err
		}
		return co.signMembers(members), nil
	}
	if len(raws) == 0 && opt.Required {
		return nil, errorx.Newf(errorx.CodeNotFound, "room %d members not cached for profile %d", roomID, viewerProfileID)
	}
	members := make([]RoomMember, 0, len(raws))
	for _, raw := range raws {
		var m RoomMember
		if err := Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return co.signMembers(members), nil
}

// AddMembers inserts entries into a viewer's member set.
func (co *Coordinator) AddMembers(ctx context.Context, roomID, viewerProfileID int64, members []RoomMember) error {
	if len(members) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(members))
	for i := range members {
		members[i].Files = stripURLs(members[i].Files)
		raw, err := Marshal(members[i])
		if err != nil {
			return err
		}
		values = append(values, raw)
	}
	return co.cache.SAdd(ctx, RoomMembersKey(roomID, viewerProfileID), values...)
}

// RemoveMember drops one member entry from a viewer's set by profile id.
func (co *Coordinator) RemoveMember(ctx context.Context, roomID, viewerProfileID, memberProfileID int64) error {
	key := RoomMembersKey(roomID, viewerProfileID)
	raws, err := co.cache.SMembers(ctx, key)
	if err != nil {
		return err
	}
	for _, raw := range raws {
		var m RoomMember
		if err := Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.ID == memberProfileID {
			return co.cache.SRem(ctx, key, raw)
		}
	}
	return nil
}

// DeleteMembers drops a viewer's member set entirely.
func (co *Coordinator) DeleteMembers(ctx context.Context, roomID, viewerProfileID int64) error {
	return co.cache.Delete(ctx, RoomMembersKey(roomID, viewerProfileID))
}

// MemberEntriesFromDB builds a viewer's member entries from the
// relational store, applying the viewer's nickname overrides.
func (co *Coordinator) MemberEntriesFromDB(roomID, viewerProfileID int64) ([]RoomMember, error) {
	assocs, err := co.repos.Membership.FindByRoomID(roomID,
		repository.WithProfileImages(), repository.WithProfileFollowers())
	if err != nil {
		return nil, err
	}
	members := make([]RoomMember, 0, len(assocs))
	for i := range assocs {
		profile := assocs[i].UserProfile
		if profile == nil || !profile.IsActive {
			continue
		}
		members = append(members, memberEntryOf(profile, viewerProfileID))
	}
	return members, nil
}

func memberEntryOf(profile *model.UserProfile, viewerProfileID int64) RoomMember {
	m := RoomMember{
		ID:         int64(profile.ID),
		IdentityID: profile.IdentityID,
		Nickname:   profile.NicknameFor(viewerProfileID),
		Files:      []ImageFile{},
	}
	for i := range profile.Images {
		img := &profile.Images[i]
		if !img.IsDefault {
			continue
		}
		if ref, ok := imageFileOf(img); ok {
			m.Files = append(m.Files, ref)
		}
	}
	return m
}

func imageTypeName(t int8) string {
	if t == model.ImageTypeBackground {
		return "background"
	}
	return "profile"
}

func imageFileOf(img *model.UserProfileImage) (ImageFile, bool) {
	if img.Media == nil {
		return ImageFile{}, false
	}
	return ImageFile{
		Uid:       img.Uid,
		Type:      imageTypeName(img.Type),
		IsDefault: img.IsDefault,
		Bucket:    img.Media.Bucket,
		Filepath:  img.Media.Filepath,
	}, true
}

func stripURLs(files []ImageFile) []ImageFile {
	for i := range files {
		files[i].URL = ""
	}
	return files
}

func (co *Coordinator) signMembers(members []RoomMember) []RoomMember {
	for i := range members {
		for j := range members[i].Files {
			f := &members[i].Files[j]
			f.URL = co.signer.SignedURL(f.Bucket, f.Filepath)
		}
	}
	return members
}

// ==================== Room index ====================

// RoomItems reads a profile's room index, newest first.
func (co *Coordinator) RoomItems(ctx context.Context, profileID int64, opt GetOptions) ([]RoomItem, error) {
	key := UserRoomsKey(profileID)
	if opt.Lock {
		lock, err := co.cache.AcquireLock(ctx, LockKey(key))
		if err != nil {
			return nil, err
		}
		defer lock.Release(ctx)
	}
	raws, err := co.cache.ZRevRange(ctx, key, 0, -1)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 && opt.Sync {
		items, err := co.roomItemsFromDB(profileID)
		if err != nil {
			return nil, err
		}
		for i := range items {
			if err := co.writeRoomItem(ctx, profileID, items[i], nil); err != nil {
				return nil, err
			}
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Timestamp > items[j].Timestamp })
		return items, nil
	}
	items := make([]RoomItem, 0, len(raws))
	for _, raw := range raws {
		var item RoomItem
		if err := Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// RoomItemFor finds one room's entry in a profile's index.
func (co *Coordinator) RoomItemFor(ctx context.Context, profileID, roomID int64) (*RoomItem, string, error) {
	raws, err := co.cache.ZRange(ctx, UserRoomsKey(profileID), 0, -1)
	if err != nil {
		return nil, "", err
	}
	for _, raw := range raws {
		var item RoomItem
		if err := Unmarshal(raw, &item); err != nil {
			return nil, "", err
		}
		if item.ID == roomID {
			return &item, raw, nil
		}
	}
	return nil, "", nil
}

func (co *Coordinator) writeRoomItem(ctx context.Context, profileID int64, item RoomItem, pipe redis.Pipeliner) error {
	raw, err := Marshal(item)
	if err != nil {
		return err
	}
	z := redis.Z{Score: item.Timestamp, Member: raw}
	if pipe != nil {
		pipe.ZAdd(ctx, UserRoomsKey(profileID), z)
		return nil
	}
	return co.cache.ZAdd(ctx, UserRoomsKey(profileID), z)
}

// UpsertRoomItem replaces a room's index entry under the index lock.
func (co *Coordinator) UpsertRoomItem(ctx context.Context, profileID int64, item RoomItem) error {
	key := UserRoomsKey(profileID)
	lock, err := co.cache.AcquireLock(ctx, LockKey(key))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	_, oldRaw, err := co.RoomItemFor(ctx, profileID, item.ID)
	if err != nil {
		return err
	}
	if oldRaw != "" {
		if err := co.cache.ZRem(ctx, key, oldRaw); err != nil {
			return err
		}
	}
	return co.writeRoomItem(ctx, profileID, item, nil)
}

// BumpUnread advances a room's entry in a profile's index: timestamp
// moves to the new activity, the unread counter grows by one. Runs under
// the index lock so concurrent bumps never lose increments.
func (co *Coordinator) BumpUnread(ctx context.Context, profileID, roomID int64, timestamp float64) error {
	key := UserRoomsKey(profileID)
	lock, err := co.cache.AcquireLock(ctx, LockKey(key))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	item, oldRaw, err := co.RoomItemFor(ctx, profileID, roomID)
	if err != nil {
		return err
	}
	if item == nil {
		item = &RoomItem{ID: roomID}
	} else if err := co.cache.ZRem(ctx, key, oldRaw); err != nil {
		return err
	}
	item.UnreadMsgCnt++
	item.Timestamp = timestamp
	return co.writeRoomItem(ctx, profileID, *item, nil)
}

// TouchRoomItem moves a room's entry to a new timestamp without
// changing the unread counter, creating the entry when absent.
func (co *Coordinator) TouchRoomItem(ctx context.Context, profileID, roomID int64, timestamp float64) error {
	key := UserRoomsKey(profileID)
	lock, err := co.cache.AcquireLock(ctx, LockKey(key))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	item, oldRaw, err := co.RoomItemFor(ctx, profileID, roomID)
	if err != nil {
		return err
	}
	if item == nil {
		item = &RoomItem{ID: roomID}
	} else if err := co.cache.ZRem(ctx, key, oldRaw); err != nil {
		return err
	}
	item.Timestamp = timestamp
	return co.writeRoomItem(ctx, profileID, *item, nil)
}

// ResetUnread zeroes a room's unread counter for a profile, keeping the
// entry's timestamp.
func (co *Coordinator) ResetUnread(ctx context.Context, profileID, roomID int64) error {
	key := UserRoomsKey(profileID)
	lock, err := co.cache.AcquireLock(ctx, LockKey(key))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	item, oldRaw, err := co.RoomItemFor(ctx, profileID, roomID)
	if err != nil || item == nil {
		return err
	}
	if item.UnreadMsgCnt == 0 {
		return nil
	}
	if err := co.cache.ZRem(ctx, key, oldRaw); err != nil {
		return err
	}
	item.UnreadMsgCnt = 0
	return co.writeRoomItem(ctx, profileID, *item, nil)
}

// RemoveRoomItem drops a room from a profile's index under the lock.
func (co *Coordinator) RemoveRoomItem(ctx context.Context, profileID, roomID int64) error {
	key := UserRoomsKey(profileID)
	lock, err := co.cache.AcquireLock(ctx, LockKey(key))
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	_, raw, err := co.RoomItemFor(ctx, profileID, roomID)
	if err != nil || raw == "" {
		return err
	}
	return co.cache.ZRem(ctx, key, raw)
}

func (co *Coordinator) roomItemsFromDB(profileID int64) ([]RoomItem, error) {
	assocs, err := co.repos.Membership.FindByProfileID(profileID, repository.WithRoom())
	if err != nil {
		return nil, err
	}
	items := make([]RoomItem, 0, len(assocs))
	for i := range assocs {
		a := &assocs[i]
		if a.Room == nil || !a.Room.IsActive {
			continue
		}
		name := a.RoomName
		if name == "" && a.Room.Name != nil {
			name = *a.Room.Name
		}
		items = append(items, RoomItem{
			ID:        int64(a.RoomID),
			Name:      name,
			Timestamp: UnixSeconds(a.Room.UpdatedAt),
		})
	}
	return items, nil
}

// ==================== Histories ====================

// Histories reads a slice of a room's history, newest first, with
// download URLs signed fresh.
func (co *Coordinator) Histories(ctx context.Context, roomID, start, stop int64) ([]HistoryEntry, error) {
	raws, err := co.cache.ZRevRange(ctx, RoomHistoriesKey(roomID), start, stop)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var e HistoryEntry
		if err := Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return co.SignHistories(entries), nil
}

// HistoryCount reports the number of cached entries for a room.
func (co *Coordinator) HistoryCount(ctx context.Context, roomID int64) (int64, error) {
	return co.cache.ZCard(ctx, RoomHistoriesKey(roomID))
}

// SignHistories fills fresh download URLs on attachment refs.
func (co *Coordinator) SignHistories(entries []HistoryEntry) []HistoryEntry {
	for i := range entries {
		for j := range entries[i].Files {
			f := &entries[i].Files[j]
			f.URL = co.signer.SignedURL(f.Bucket, f.Filepath)
		}
	}
	return entries
}

// UpdateHistoriesByRoom stores entries into the room history set and,
// for entries already bound to a DB row, mirrors them into the dirty
// index scored by that row id. Staged onto pipe when given.
func (co *Coordinator) UpdateHistoriesByRoom(ctx context.Context, roomID int64, entries []HistoryEntry, pipe redis.Pipeliner) error {
	if len(entries) == 0 {
		return nil
	}
	owned := pipe == nil
	if owned {
		pipe = co.cache.Pipeline()
	}
	for i := range entries {
		e := entries[i]
		for j := range e.Files {
			e.Files[j].URL = ""
		}
		raw, err := Marshal(e)
		if err != nil {
			return err
		}
		pipe.ZAdd(ctx, RoomHistoriesKey(roomID), redis.Z{Score: e.Timestamp, Member: raw})
		if e.ID != nil {
			pipe.ZAdd(ctx, DirtyHistoriesKey, redis.Z{Score: float64(*e.ID), Member: raw})
		}
	}
	if owned {
		if _, err := pipe.Exec(ctx); err != nil {
			return errorx.Wrapf(err, errorx.CodeInternalServerError, "flush history pipeline room=%d", roomID)
		}
	}
	return nil
}

// ReplaceHistory swaps one history entry in place, staging onto pipe.
// The dirty mirror follows when the entry carries a DB id.
func (co *Coordinator) ReplaceHistory(ctx context.Context, roomID int64, oldRaw string, entry HistoryEntry, pipe redis.Pipeliner) error {
	for j := range entry.Files {
		entry.Files[j].URL = ""
	}
	raw, err := Marshal(entry)
	if err != nil {
		return err
	}
	pipe.ZRem(ctx, RoomHistoriesKey(roomID), oldRaw)
	pipe.ZAdd(ctx, RoomHistoriesKey(roomID), redis.Z{Score: entry.Timestamp, Member: raw})
	if entry.ID != nil {
		pipe.ZRem(ctx, DirtyHistoriesKey, oldRaw)
		pipe.ZAdd(ctx, DirtyHistoriesKey, redis.Z{Score: float64(*entry.ID), Member: raw})
	}
	return nil
}

// RawHistories returns the undecoded members with their raws, oldest
// first, for handlers that must stage exact-member removals.
func (co *Coordinator) RawHistories(ctx context.Context, roomID int64) ([]string, []HistoryEntry, error) {
	raws, err := co.cache.ZRange(ctx, RoomHistoriesKey(roomID), 0, -1)
	if err != nil {
		return nil, nil, err
	}
	entries := make([]HistoryEntry, len(raws))
	for i, raw := range raws {
		if err := Unmarshal(raw, &entries[i]); err != nil {
			return nil, nil, err
		}
	}
	return raws, entries, nil
}

// ==================== Followings ====================

// Followings reads a profile's relationship set.
func (co *Coordinator) Followings(ctx context.Context, profileID int64, opt GetOptions) ([]Following, error) {
	key := FollowingsKey(profileID)
	raws, err := co.cache.SMembers(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 && opt.Sync {
		followings, err := co.followingsFromDB(profileID)
		if err != nil {
			return nil, err
		}
		values := make([]interface{}, 0, len(followings))
		for i := range followings {
			raw, err := Marshal(followings[i])
			if err != nil {
				return nil, err
			}
			values = append(values, raw)
		}
		if err := co.cache.SAdd(ctx, key, values...); err != nil {
			return nil, err
		}
		return co.signFollowings(followings), nil
	}
	followings := make([]Following, 0, len(raws))
	for _, raw := range raws {
		var f Following
		if err := Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		followings = append(followings, f)
	}
	return co.signFollowings(followings), nil
}

// InvalidateFollowings drops the cached set so the next read re-syncs.
func (co *Coordinator) InvalidateFollowings(ctx context.Context, profileID int64) error {
	return co.cache.Delete(ctx, FollowingsKey(profileID))
}

func (co *Coordinator) followingsFromDB(profileID int64) ([]Following, error) {
	rels, err := co.repos.Relationship.FindByMyProfileID(profileID)
	if err != nil {
		return nil, err
	}
	followings := make([]Following, 0, len(rels))
	for i := range rels {
		rel := &rels[i]
		other := rel.OtherProfile
		if other == nil || !other.IsActive {
			continue
		}
		f := Following{
			ID:          int64(other.ID),
			IdentityID:  other.IdentityID,
			Nickname:    other.Nickname,
			Type:        rel.Type,
			Favorites:   rel.Favorites,
			IsHidden:    rel.IsHidden,
			IsForbidden: rel.IsForbidden,
			Files:       []ImageFile{},
		}
		if rel.OtherProfileNickname != "" {
			f.Nickname = rel.OtherProfileNickname
		}
		for j := range other.Images {
			img := &other.Images[j]
			if !img.IsDefault {
				continue
			}
			if ref, ok := imageFileOf(img); ok {
				f.Files = append(f.Files, ref)
			}
		}
		followings = append(followings, f)
	}
	return followings, nil
}

func (co *Coordinator) signFollowings(followings []Following) []Following {
	for i := range followings {
		for j := range followings[i].Files {
			f := &followings[i].Files[j]
			f.URL = co.signer.SignedURL(f.Bucket, f.Filepath)
		}
	}
	return followings
}

// ==================== Room names ====================

// GenerateDefaultRoomName derives a viewer's display name for an
// unnamed room from the other members' nicknames, sorted ascending.
func (co *Coordinator) GenerateDefaultRoomName(ctx context.Context, roomID, viewerProfileID int64) (string, error) {
	members, err := co.Members(ctx, roomID, viewerProfileID, GetOptions{Sync: true})
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(members))
	var own string
	for _, m := range members {
		if m.ID == viewerProfileID {
			own = m.Nickname
			continue
		}
		names = append(names, m.Nickname)
	}
	if len(names) == 0 {
		return own, nil
	}
	sort.Strings(names)
	if len(names) == 1 {
		return names[0], nil
	}
	return strings.Join(names, ", "), nil
}
