package cache

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"talkroom_server/internal/dao/mysql"
	"talkroom_server/internal/dao/mysql/repository"
	redisdao "talkroom_server/internal/dao/redis"
	"talkroom_server/internal/model"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubSigner struct{}

func (stubSigner) SignedURL(bucket, fpath string) string {
	return "http://test/media/" + bucket + "/" + fpath + "?signature=stub"
}

func newTestCoordinator(t *testing.T) (*Coordinator, *repository.Repositories, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := mysql.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repos := repository.NewRepositories(db)
	return NewCoordinator(redisdao.NewCache(client), repos, stubSigner{}), repos, mr
}

func seedProfile(t *testing.T, repos *repository.Repositories, nickname string) *model.UserProfile {
	t.Helper()
	user := &model.User{Uid: "uid-" + nickname, Password: "x", Name: nickname, IsActive: true}
	if err := repos.User.Create(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	profile := &model.UserProfile{
		UserID:     user.ID,
		IdentityID: "identity-" + nickname,
		Nickname:   nickname,
		IsDefault:  true,
		IsActive:   true,
	}
	if err := repos.UserProfile.Create(profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return profile
}

func seedRoom(t *testing.T, repos *repository.Repositories, roomType int8, profiles ...*model.UserProfile) *model.ChatRoom {
	t.Helper()
	room := &model.ChatRoom{Type: roomType, IsActive: true}
	if err := repos.Room.Create(room); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	assocs := make([]model.ChatRoomUserAssociation, 0, len(profiles))
	for _, p := range profiles {
		assocs = append(assocs, model.ChatRoomUserAssociation{RoomID: room.ID, UserProfileID: p.ID})
	}
	if err := repos.Membership.BulkCreate(assocs); err != nil {
		t.Fatalf("seed memberships: %v", err)
	}
	return room
}

func TestRoomInfoReadThroughIsIdempotent(t *testing.T) {
	coord, repos, mr := newTestCoordinator(t)
	ctx := context.Background()

	alice := seedProfile(t, repos, "alice")
	bob := seedProfile(t, repos, "bob")
	room := seedRoom(t, repos, model.RoomTypeGroup, alice, bob)

	first, err := coord.RoomInfo(ctx, int64(room.ID), GetOptions{Sync: true, Required: true})
	if err != nil {
		t.Fatalf("first RoomInfo() error: %v", err)
	}
	if !mr.Exists(RoomInfoKey(int64(room.ID))) {
		t.Fatal("sync did not populate the info hash")
	}
	second, err := coord.RoomInfo(ctx, int64(room.ID), GetOptions{Sync: true, Required: true})
	if err != nil {
		t.Fatalf("second RoomInfo() error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached read diverged from synced read:\nfirst:  %+v\nsecond: %+v", first, second)
	}
	if !first.HasMember(int64(alice.ID)) || !first.HasMember(int64(bob.ID)) {
		t.Fatalf("members missing from snapshot: %+v", first.UserProfileIDs)
	}
	if len(first.ConnectedProfileIDs) != 0 {
		t.Fatalf("fresh snapshot already has connections: %v", first.ConnectedProfileIDs)
	}
}

func TestRoomInfoMissWithoutSync(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	info, err := coord.RoomInfo(ctx, 42, GetOptions{})
	if err != nil || info != nil {
		t.Fatalf("uncached optional read = %+v, %v; want nil, nil", info, err)
	}
	if _, err := coord.RoomInfo(ctx, 42, GetOptions{Required: true}); err == nil {
		t.Fatal("required read of uncached room succeeded")
	}
}

func TestSetConnected(t *testing.T) {
	coord, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	alice := seedProfile(t, repos, "alice")
	bob := seedProfile(t, repos, "bob")
	room := seedRoom(t, repos, model.RoomTypeOneToOne, alice, bob)

	info, err := coord.SetConnected(ctx, int64(room.ID), int64(alice.ID), true)
	if err != nil {
		t.Fatalf("SetConnected(true) error: %v", err)
	}
	if !info.IsConnected(int64(alice.ID)) {
		t.Fatal("connection mark not set")
	}

	info, err = coord.SetConnected(ctx, int64(room.ID), int64(alice.ID), false)
	if err != nil {
		t.Fatalf("SetConnected(false) error: %v", err)
	}
	if info.IsConnected(int64(alice.ID)) {
		t.Fatal("connection mark survived disconnect")
	}
}

func TestMembersViewerNicknameOverride(t *testing.T) {
	coord, repos, mr := newTestCoordinator(t)
	ctx := context.Background()

	alice := seedProfile(t, repos, "alice")
	bob := seedProfile(t, repos, "bob")
	room := seedRoom(t, repos, model.RoomTypeOneToOne, alice, bob)

	err := repos.Relationship.Create(&model.UserRelationship{
		MyProfileID:          alice.ID,
		OtherProfileID:       bob.ID,
		OtherProfileNickname: "bobby",
		Type:                 model.RelationshipFriend,
	})
	if err != nil {
		t.Fatalf("seed relationship: %v", err)
	}

	members, err := coord.Members(ctx, int64(room.ID), int64(alice.ID), GetOptions{Sync: true})
	if err != nil {
		t.Fatalf("Members() error: %v", err)
	}
	byID := map[int64]RoomMember{}
	for _, m := range members {
		byID[m.ID] = m
	}
	if got := byID[int64(bob.ID)].Nickname; got != "bobby" {
		t.Fatalf("viewer nickname = %q, want override %q", got, "bobby")
	}
	if got := byID[int64(alice.ID)].Nickname; got != "alice" {
		t.Fatalf("own nickname = %q, want %q", got, "alice")
	}

	// Second read must come from cache and agree with the synced one.
	if !mr.Exists(RoomMembersKey(int64(room.ID), int64(alice.ID))) {
		t.Fatal("member set not cached")
	}
	again, err := coord.Members(ctx, int64(room.ID), int64(alice.ID), GetOptions{})
	if err != nil {
		t.Fatalf("cached Members() error: %v", err)
	}
	if len(again) != len(members) {
		t.Fatalf("cached read returned %d members, synced returned %d", len(again), len(members))
	}
}

func TestMemberImagesSignedFreshNotCached(t *testing.T) {
	coord, repos, mr := newTestCoordinator(t)
	ctx := context.Background()

	alice := seedProfile(t, repos, "alice")
	bob := seedProfile(t, repos, "bob")
	room := seedRoom(t, repos, model.RoomTypeOneToOne, alice, bob)

	media := &model.S3Media{
		Uid: "abcd1234", Bucket: "talkroom", Filename: "face.png",
		Filepath: "profile/1/abcd1234_face.png", ContentType: "image/png", IsActive: true,
	}
	if err := repos.Media.CreateMedia(media); err != nil {
		t.Fatalf("seed media: %v", err)
	}
	err := repos.Media.CreateProfileImage(&model.UserProfileImage{
		Uid: media.Uid, UserProfileID: bob.ID, Type: model.ImageTypeProfile, IsDefault: true,
	})
	if err != nil {
		t.Fatalf("seed image: %v", err)
	}

	members, err := coord.Members(ctx, int64(room.ID), int64(alice.ID), GetOptions{Sync: true})
	if err != nil {
		t.Fatalf("Members() error: %v", err)
	}
	var found bool
	for _, m := range members {
		if m.ID != int64(bob.ID) {
			continue
		}
		found = true
		if len(m.Files) != 1 {
			t.Fatalf("bob has %d files, want 1", len(m.Files))
		}
		if !strings.Contains(m.Files[0].URL, media.Filepath) {
			t.Fatalf("returned URL %q not signed for %q", m.Files[0].URL, media.Filepath)
		}
	}
	if !found {
		t.Fatal("bob missing from member view")
	}

	// The stored entries must carry refs only, never a URL.
	raws, err := mr.SMembers(RoomMembersKey(int64(room.ID), int64(alice.ID)))
	if err != nil {
		t.Fatalf("smembers: %v", err)
	}
	for _, raw := range raws {
		if strings.Contains(raw, `"url"`) {
			t.Fatalf("cached member entry carries a URL: %s", raw)
		}
	}
}

func TestRoomIndexCounters(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	const profileID, roomID = int64(7), int64(3)

	now := UnixSeconds(time.Now())
	if err := coord.BumpUnread(ctx, profileID, roomID, now); err != nil {
		t.Fatalf("BumpUnread() error: %v", err)
	}
	if err := coord.BumpUnread(ctx, profileID, roomID, now+1); err != nil {
		t.Fatalf("BumpUnread() error: %v", err)
	}
	item, _, err := coord.RoomItemFor(ctx, profileID, roomID)
	if err != nil || item == nil {
		t.Fatalf("RoomItemFor() = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 2 {
		t.Fatalf("unread = %d after two bumps, want 2", item.UnreadMsgCnt)
	}

	// A touch moves the timestamp but never the counter.
	if err := coord.TouchRoomItem(ctx, profileID, roomID, now+2); err != nil {
		t.Fatalf("TouchRoomItem() error: %v", err)
	}
	item, _, err = coord.RoomItemFor(ctx, profileID, roomID)
	if err != nil || item == nil {
		t.Fatalf("RoomItemFor() = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 2 {
		t.Fatalf("touch changed unread to %d", item.UnreadMsgCnt)
	}
	if item.Timestamp != now+2 {
		t.Fatalf("touch left timestamp %v, want %v", item.Timestamp, now+2)
	}

	if err := coord.ResetUnread(ctx, profileID, roomID); err != nil {
		t.Fatalf("ResetUnread() error: %v", err)
	}
	item, _, err = coord.RoomItemFor(ctx, profileID, roomID)
	if err != nil || item == nil {
		t.Fatalf("RoomItemFor() = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 0 {
		t.Fatalf("unread = %d after reset, want 0", item.UnreadMsgCnt)
	}
	if item.Timestamp != now+2 {
		t.Fatalf("reset moved timestamp to %v", item.Timestamp)
	}
}

func TestRoomIndexSingleEntryPerRoom(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	if err := coord.UpsertRoomItem(ctx, 1, RoomItem{ID: 9, Name: "old", Timestamp: 10}); err != nil {
		t.Fatalf("UpsertRoomItem() error: %v", err)
	}
	if err := coord.UpsertRoomItem(ctx, 1, RoomItem{ID: 9, Name: "new", Timestamp: 20}); err != nil {
		t.Fatalf("UpsertRoomItem() error: %v", err)
	}
	items, err := coord.RoomItems(ctx, 1, GetOptions{})
	if err != nil {
		t.Fatalf("RoomItems() error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("index holds %d entries for one room, want 1", len(items))
	}
	if items[0].Name != "new" || items[0].Timestamp != 20 {
		t.Fatalf("upsert kept stale entry: %+v", items[0])
	}

	if err := coord.RemoveRoomItem(ctx, 1, 9); err != nil {
		t.Fatalf("RemoveRoomItem() error: %v", err)
	}
	items, err = coord.RoomItems(ctx, 1, GetOptions{})
	if err != nil || len(items) != 0 {
		t.Fatalf("RoomItems() after remove = %+v, %v; want empty", items, err)
	}
}

func TestDirtyMirrorTracksBoundEntriesOnly(t *testing.T) {
	coord, _, mr := newTestCoordinator(t)
	ctx := context.Background()
	const roomID = int64(5)

	contents := "hello"
	unbound := HistoryEntry{
		RedisID: "aaaa", UserProfileID: 1, Contents: &contents,
		Type: "message", Timestamp: 100, IsActive: true,
	}
	id := int64(77)
	bound := HistoryEntry{
		ID: &id, RedisID: "bbbb", UserProfileID: 1, Contents: &contents,
		Type: "message", Timestamp: 101, IsActive: true,
	}
	if err := coord.UpdateHistoriesByRoom(ctx, roomID, []HistoryEntry{unbound, bound}, nil); err != nil {
		t.Fatalf("UpdateHistoriesByRoom() error: %v", err)
	}

	histories, err := mr.ZMembers(RoomHistoriesKey(roomID))
	if err != nil || len(histories) != 2 {
		t.Fatalf("history set holds %d entries (%v), want 2", len(histories), err)
	}
	dirty, err := mr.ZMembers(DirtyHistoriesKey)
	if err != nil || len(dirty) != 1 {
		t.Fatalf("dirty mirror holds %d entries (%v), want 1", len(dirty), err)
	}
	var mirrored HistoryEntry
	if err := Unmarshal(dirty[0], &mirrored); err != nil {
		t.Fatalf("decode dirty entry: %v", err)
	}
	if mirrored.RedisID != "bbbb" {
		t.Fatalf("dirty mirror tracked %q, want the bound entry", mirrored.RedisID)
	}
	if score, err := mr.ZScore(DirtyHistoriesKey, dirty[0]); err != nil || score != float64(id) {
		t.Fatalf("dirty score = %v (%v), want DB id %d", score, err, id)
	}
}

func TestReplaceHistorySwapsBothSets(t *testing.T) {
	coord, _, mr := newTestCoordinator(t)
	ctx := context.Background()
	const roomID = int64(5)

	id := int64(77)
	contents := "before"
	entry := HistoryEntry{
		ID: &id, RedisID: "bbbb", UserProfileID: 1, Contents: &contents,
		Type: "message", Timestamp: 101, IsActive: true,
	}
	if err := coord.UpdateHistoriesByRoom(ctx, roomID, []HistoryEntry{entry}, nil); err != nil {
		t.Fatalf("UpdateHistoriesByRoom() error: %v", err)
	}
	oldRaw, err := Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	after := "after"
	updated := entry
	updated.Contents = &after
	pipe := coord.Cache().Pipeline()
	if err := coord.ReplaceHistory(ctx, roomID, oldRaw, updated, pipe); err != nil {
		t.Fatalf("ReplaceHistory() error: %v", err)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatalf("pipeline exec: %v", err)
	}

	for _, key := range []string{RoomHistoriesKey(roomID), DirtyHistoriesKey} {
		raws, err := mr.ZMembers(key)
		if err != nil || len(raws) != 1 {
			t.Fatalf("%s holds %d entries (%v), want 1", key, len(raws), err)
		}
		var got HistoryEntry
		if err := Unmarshal(raws[0], &got); err != nil {
			t.Fatalf("decode %s entry: %v", key, err)
		}
		if got.Contents == nil || *got.Contents != "after" {
			t.Fatalf("%s kept stale contents %v", key, got.Contents)
		}
	}
}

func TestGenerateDefaultRoomName(t *testing.T) {
	coord, repos, _ := newTestCoordinator(t)
	ctx := context.Background()

	alice := seedProfile(t, repos, "alice")
	bob := seedProfile(t, repos, "bob")
	carol := seedProfile(t, repos, "carol")

	pair := seedRoom(t, repos, model.RoomTypeOneToOne, alice, bob)
	name, err := coord.GenerateDefaultRoomName(ctx, int64(pair.ID), int64(alice.ID))
	if err != nil {
		t.Fatalf("GenerateDefaultRoomName() error: %v", err)
	}
	if name != "bob" {
		t.Fatalf("pair room name for alice = %q, want %q", name, "bob")
	}

	group := seedRoom(t, repos, model.RoomTypeGroup, alice, bob, carol)
	name, err = coord.GenerateDefaultRoomName(ctx, int64(group.ID), int64(carol.ID))
	if err != nil {
		t.Fatalf("GenerateDefaultRoomName() error: %v", err)
	}
	if name != "alice, bob" {
		t.Fatalf("group room name for carol = %q, want %q", name, "alice, bob")
	}
}

func TestFollowingsInvalidation(t *testing.T) {
	coord, repos, mr := newTestCoordinator(t)
	ctx := context.Background()

	alice := seedProfile(t, repos, "alice")
	bob := seedProfile(t, repos, "bob")

	err := repos.Relationship.Create(&model.UserRelationship{
		MyProfileID: alice.ID, OtherProfileID: bob.ID, Type: model.RelationshipFriend,
	})
	if err != nil {
		t.Fatalf("seed relationship: %v", err)
	}

	followings, err := coord.Followings(ctx, int64(alice.ID), GetOptions{Sync: true})
	if err != nil {
		t.Fatalf("Followings() error: %v", err)
	}
	if len(followings) != 1 || followings[0].ID != int64(bob.ID) {
		t.Fatalf("followings = %+v, want just bob", followings)
	}
	if !mr.Exists(FollowingsKey(int64(alice.ID))) {
		t.Fatal("followings set not cached")
	}

	if err := coord.InvalidateFollowings(ctx, int64(alice.ID)); err != nil {
		t.Fatalf("InvalidateFollowings() error: %v", err)
	}
	if mr.Exists(FollowingsKey(int64(alice.ID))) {
		t.Fatal("followings set survived invalidation")
	}
}
