package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/config"
	"talkroom_server/internal/dao/mysql"
	"talkroom_server/internal/dao/mysql/repository"
	redisdao "talkroom_server/internal/dao/redis"
	"talkroom_server/internal/model"
	"talkroom_server/internal/storage"
	"talkroom_server/pkg/errorx"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDeps(t *testing.T) (*Deps, *miniredis.Miniredis) {
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

	store, err := storage.New(&config.StorageConfig{
		Root:       t.TempDir(),
		BucketName: "talkroom",
		URLSecret:  "test-secret",
		BaseURL:    "http://127.0.0.1:8000",
	})
	if err != nil {
		t.Fatalf("init storage: %v", err)
	}

	coord := cache.NewCoordinator(redisdao.NewCache(client), repos, store)
	return &Deps{Repos: repos, Coord: coord, Store: store}, mr
}

func seedProfile(t *testing.T, deps *Deps, nickname string) *model.UserProfile {
	t.Helper()
	user := &model.User{Uid: "uid-" + nickname, Password: "x", Name: nickname, IsActive: true}
	if err := deps.Repos.User.Create(user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	profile := &model.UserProfile{
		UserID:     user.ID,
		IdentityID: "identity-" + nickname,
		Nickname:   nickname,
		IsDefault:  true,
		IsActive:   true,
	}
	if err := deps.Repos.UserProfile.Create(profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return profile
}

func seedRoom(t *testing.T, deps *Deps, profiles ...*model.UserProfile) *model.ChatRoom {
	t.Helper()
	room := &model.ChatRoom{Type: model.RoomTypeGroup, IsActive: true}
	if err := deps.Repos.Room.Create(room); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	assocs := make([]model.ChatRoomUserAssociation, 0, len(profiles))
	for _, p := range profiles {
		assocs = append(assocs, model.ChatRoomUserAssociation{RoomID: room.ID, UserProfileID: p.ID})
	}
	if err := deps.Repos.Membership.BulkCreate(assocs); err != nil {
		t.Fatalf("seed memberships: %v", err)
	}
	return room
}

// handlerCtx syncs the room snapshot, marks the given connections, and
// builds a frame context for the sender.
func handlerCtx(t *testing.T, deps *Deps, roomID int64, sender *model.UserProfile, connected ...int64) *HandlerContext {
	t.Helper()
	ctx := context.Background()
	info, err := deps.Coord.RoomInfo(ctx, roomID, cache.GetOptions{Sync: true, Required: true})
	if err != nil {
		t.Fatalf("sync room info: %v", err)
	}
	info.ConnectedProfileIDs = connected
	if err := deps.Coord.SaveRoomInfo(ctx, info); err != nil {
		t.Fatalf("save room info: %v", err)
	}
	return &HandlerContext{
		Deps:      deps,
		RoomID:    roomID,
		ProfileID: int64(sender.ID),
		Profile:   cache.RoomMember{ID: int64(sender.ID), IdentityID: sender.IdentityID, Nickname: sender.Nickname},
		Room:      info,
	}
}

func rawData(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame data: %v", err)
	}
	return raw
}

func lookupData(t *testing.T, offset, limit int64) json.RawMessage {
	t.Helper()
	return rawData(t, LookupData{Offset: &offset, Limit: &limit})
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func cachedEntries(t *testing.T, mr *miniredis.Miniredis, roomID int64) []cache.HistoryEntry {
	t.Helper()
	raws, err := mr.ZMembers(cache.RoomHistoriesKey(roomID))
	if err != nil {
		t.Fatalf("zmembers: %v", err)
	}
	entries := make([]cache.HistoryEntry, len(raws))
	for i, raw := range raws {
		if err := cache.Unmarshal(raw, &entries[i]); err != nil {
			t.Fatalf("decode history entry: %v", err)
		}
	}
	return entries
}

func TestMessageHandlerStoresAndBumps(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	carol := seedProfile(t, deps, "carol")
	room := seedRoom(t, deps, alice, bob, carol)
	roomID := int64(room.ID)

	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID), int64(bob.ID))

	outcome, err := newMessageHandler().Handle(ctx, hctx, rawData(t, MessageData{Contents: "hello"}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Multicast) != 1 || outcome.Multicast[0].Type != TypeMessage {
		t.Fatalf("outcome = %+v, want one message multicast", outcome)
	}

	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 {
		t.Fatalf("history set holds %d entries, want 1", len(entries))
	}
	entry := entries[0]
	if entry.ID != nil {
		t.Fatal("fresh message already bound to a row")
	}
	if entry.Contents == nil || *entry.Contents != "hello" {
		t.Fatalf("entry contents = %v", entry.Contents)
	}
	readers := map[int64]bool{}
	for _, id := range entry.ReadUserIDs {
		readers[id] = true
	}
	if !readers[int64(alice.ID)] || !readers[int64(bob.ID)] || readers[int64(carol.ID)] {
		t.Fatalf("read set = %v, want connected members plus sender only", entry.ReadUserIDs)
	}

	// Offline member gains an unread, live members only move up.
	item, _, err := deps.Coord.RoomItemFor(ctx, int64(carol.ID), roomID)
	if err != nil || item == nil {
		t.Fatalf("carol's room item = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 1 {
		t.Fatalf("carol's unread = %d, want 1", item.UnreadMsgCnt)
	}
	item, _, err = deps.Coord.RoomItemFor(ctx, int64(bob.ID), roomID)
	if err != nil || item == nil {
		t.Fatalf("bob's room item = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 0 {
		t.Fatalf("bob's unread = %d, want 0", item.UnreadMsgCnt)
	}
}

func TestInboundWireFieldNames(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	if _, err := newMessageHandler().Handle(ctx, hctx, json.RawMessage(`{"text":"hello"}`)); err != nil {
		t.Fatalf("message frame: %v", err)
	}
	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 || entries[0].Contents == nil || *entries[0].Contents != "hello" {
		t.Fatalf("entries = %+v, want the text stored", entries)
	}

	raw := fmt.Sprintf(`{"history_redis_ids":[%q],"is_active":false}`, entries[0].RedisID)
	if _, err := newPatchHandler().Handle(ctx, hctx, json.RawMessage(raw)); err != nil {
		t.Fatalf("patch frame: %v", err)
	}
	entries = cachedEntries(t, mr, roomID)
	if len(entries) != 1 || entries[0].IsActive {
		t.Fatalf("entries after patch = %+v, want inactive", entries)
	}
}

func TestMessageHandlerRejectsEmptyContents(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	_, err := newMessageHandler().Handle(context.Background(), hctx, rawData(t, MessageData{}))
	if errorx.GetCode(err) != errorx.CodeInvalid {
		t.Fatalf("error = %v, want invalid", err)
	}
}

func TestFileHandlerPersistsAttachments(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	form := FileData{
		Contents: "holiday photos",
		Files: []FileUpload{
			{Filename: "a.png", ContentType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png-a"))},
			{Filename: "b.png", ContentType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png-b"))},
		},
	}
	outcome, err := newFileHandler().Handle(ctx, hctx, rawData(t, form))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Multicast) != 1 || outcome.Multicast[0].Type != TypeFile {
		t.Fatalf("outcome = %+v, want one file multicast", outcome)
	}

	rows, err := deps.Repos.History.ListByRoom(roomID, 0, 10, repository.WithFiles())
	if err != nil || len(rows) != 1 {
		t.Fatalf("history rows = %d (%v), want 1", len(rows), err)
	}
	row := rows[0]
	if row.Type != model.HistoryTypeFile {
		t.Fatalf("row type = %d, want file", row.Type)
	}
	if len(row.Files) != 2 {
		t.Fatalf("row carries %d file rows, want 2", len(row.Files))
	}
	for _, f := range row.Files {
		if f.Media == nil {
			t.Fatal("file row missing its media")
		}
		ok, err := deps.Store.Exists(f.Media.Bucket, f.Media.Filepath)
		if err != nil || !ok {
			t.Fatalf("uploaded body missing for %s: %v", f.Media.Filepath, err)
		}
	}

	// Store-first: the cache entry is born bound and dirty-tracked.
	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 || entries[0].ID == nil {
		t.Fatalf("cache entry = %+v, want one bound entry", entries)
	}
	if !mr.Exists(cache.DirtyHistoriesKey) {
		t.Fatal("bound entry missing from dirty mirror")
	}
}

func TestFileHandlerRejectsBadBase64(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	form := FileData{Files: []FileUpload{{Filename: "x.bin", ContentType: "application/octet-stream", Data: "%%%"}}}
	_, err := newFileHandler().Handle(context.Background(), hctx, rawData(t, form))
	if errorx.GetCode(err) != errorx.CodeInvalid {
		t.Fatalf("error = %v, want invalid", err)
	}
}

func TestFileHandlerAbortsWhenUploadFails(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	// The second body's path climbs out of the storage root, so its
	// upload fails while the first one succeeds.
	form := FileData{
		Files: []FileUpload{
			{Filename: "ok.png", ContentType: "image/png", Data: base64.StdEncoding.EncodeToString([]byte("png"))},
			{Filename: "a/" + strings.Repeat("../", 12) + "escape.png", ContentType: "image/png",
				Data: base64.StdEncoding.EncodeToString([]byte("png"))},
		},
	}
	outcome, err := newFileHandler().Handle(ctx, hctx, rawData(t, form))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Multicast) != 0 || len(outcome.Unicast) != 0 || outcome.Close != nil {
		t.Fatalf("outcome = %+v, want nothing broadcast", outcome)
	}

	rows, err := deps.Repos.History.ListByRoom(roomID, 0, 10)
	if err != nil || len(rows) != 0 {
		t.Fatalf("committed rows = %d (%v), want the frame rolled back", len(rows), err)
	}
	if mr.Exists(cache.RoomHistoriesKey(roomID)) {
		t.Fatal("failed frame reached the cache")
	}
	if mr.Exists(cache.DirtyHistoriesKey) {
		t.Fatal("failed frame reached the dirty mirror")
	}
}

func TestInviteHandlerAddsMembers(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	carol := seedProfile(t, deps, "carol")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	outcome, err := newInviteHandler().Handle(ctx, hctx, rawData(t, InviteData{TargetProfileIDs: []int64{int64(carol.ID)}}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	assocs, err := deps.Repos.Membership.FindByRoomID(roomID)
	if err != nil || len(assocs) != 3 {
		t.Fatalf("memberships = %d (%v), want 3", len(assocs), err)
	}
	info, err := deps.Coord.RoomInfo(ctx, roomID, cache.GetOptions{Required: true})
	if err != nil {
		t.Fatalf("RoomInfo() error: %v", err)
	}
	if !info.HasMember(int64(carol.ID)) {
		t.Fatal("snapshot missing the joined member")
	}

	// The addition starts with nothing unread.
	item, _, err := deps.Coord.RoomItemFor(ctx, int64(carol.ID), roomID)
	if err != nil || item == nil {
		t.Fatalf("carol's room item = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 0 {
		t.Fatalf("carol's unread = %d, want 0", item.UnreadMsgCnt)
	}

	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 {
		t.Fatalf("history set holds %d entries, want the notice", len(entries))
	}
	notice := entries[0]
	if notice.Type != "notice" {
		t.Fatalf("notice type = %q", notice.Type)
	}
	if notice.Contents == nil || *notice.Contents != "alice님이 carol님을 초대했습니다." {
		t.Fatalf("notice contents = %v", notice.Contents)
	}

	if len(outcome.Multicast) != 1 || outcome.Multicast[0].Type != TypeInvite {
		t.Fatalf("outcome = %+v, want one invite multicast", outcome)
	}
	reply, ok := outcome.Multicast[0].Data.(InviteReply)
	if !ok {
		t.Fatalf("multicast data is %T", outcome.Multicast[0].Data)
	}
	if len(reply.UserProfiles) != 1 || reply.UserProfiles[0].ID != int64(carol.ID) {
		t.Fatalf("joined profiles = %+v, want carol", reply.UserProfiles)
	}
}

func TestInviteReconcilesStaleMemberView(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	carol := seedProfile(t, deps, "carol")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	// Alice's view is warm and accurate; bob's drifted and holds only
	// alice.
	if _, err := deps.Coord.Members(ctx, roomID, int64(alice.ID), cache.GetOptions{Sync: true}); err != nil {
		t.Fatalf("warm alice's view: %v", err)
	}
	if err := deps.Coord.AddMembers(ctx, roomID, int64(bob.ID), []cache.RoomMember{
		{ID: int64(alice.ID), IdentityID: alice.IdentityID, Nickname: alice.Nickname, Files: []cache.ImageFile{}},
	}); err != nil {
		t.Fatalf("seed bob's stale view: %v", err)
	}

	if _, err := newInviteHandler().Handle(ctx, hctx,
		rawData(t, InviteData{TargetProfileIDs: []int64{int64(carol.ID)}})); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	memberIDs := func(viewerID int64) map[int64]bool {
		raws, err := mr.Members(cache.RoomMembersKey(roomID, viewerID))
		if err != nil {
			t.Fatalf("smembers viewer %d: %v", viewerID, err)
		}
		ids := map[int64]bool{}
		for _, raw := range raws {
			var m cache.RoomMember
			if err := cache.Unmarshal(raw, &m); err != nil {
				t.Fatalf("decode member entry: %v", err)
			}
			ids[m.ID] = true
		}
		return ids
	}

	// The drifted view rebuilt in full; the accurate one gained only
	// the addition.
	for _, viewerID := range []int64{int64(alice.ID), int64(bob.ID)} {
		ids := memberIDs(viewerID)
		if len(ids) != 3 || !ids[int64(alice.ID)] || !ids[int64(bob.ID)] || !ids[int64(carol.ID)] {
			t.Fatalf("viewer %d sees %v, want all three members", viewerID, ids)
		}
	}
}

func TestInviteExistingMemberIsNoop(t *testing.T) {
	deps, mr := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	outcome, err := newInviteHandler().Handle(context.Background(), hctx,
		rawData(t, InviteData{TargetProfileIDs: []int64{int64(bob.ID)}}))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Multicast) != 0 || outcome.Close != nil {
		t.Fatalf("outcome = %+v, want nothing", outcome)
	}
	if mr.Exists(cache.RoomHistoriesKey(roomID)) {
		t.Fatal("noop invite stored a notice")
	}
}

func TestInviteUnknownTargetFails(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	_, err := newInviteHandler().Handle(context.Background(), hctx,
		rawData(t, InviteData{TargetProfileIDs: []int64{99999}}))
	if errorx.GetCode(err) != errorx.CodeNotFound {
		t.Fatalf("error = %v, want not found", err)
	}
}

func TestTerminateKeepsRoomForRemaining(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	syncer := NewSyncer(deps.Coord, deps.Repos, time.Minute)
	outcome, err := newTerminateHandler(syncer)().Handle(ctx, hctx, nil)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if outcome.Close == nil || outcome.Close.Code != websocket.CloseGoingAway {
		t.Fatalf("close directive = %+v, want going away", outcome.Close)
	}
	if len(outcome.Multicast) != 1 || outcome.Multicast[0].Type != TypeTerminate {
		t.Fatalf("outcome = %+v, want one terminate multicast", outcome)
	}

	assocs, err := deps.Repos.Membership.FindByRoomID(roomID)
	if err != nil || len(assocs) != 1 || assocs[0].UserProfileID != bob.ID {
		t.Fatalf("memberships = %+v (%v), want just bob", assocs, err)
	}
	dbRoom, err := deps.Repos.Room.FindByID(roomID)
	if err != nil || !dbRoom.IsActive {
		t.Fatalf("room active = %v (%v), want still active", dbRoom.IsActive, err)
	}

	info, err := deps.Coord.RoomInfo(ctx, roomID, cache.GetOptions{Required: true})
	if err != nil {
		t.Fatalf("RoomInfo() error: %v", err)
	}
	if info.HasMember(int64(alice.ID)) {
		t.Fatal("snapshot kept the departed member")
	}

	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 || entries[0].Contents == nil || *entries[0].Contents != "alice님이 나갔습니다." {
		t.Fatalf("leave notice = %+v", entries)
	}
}

func TestTerminateLastMemberFlushesAndDrops(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	roomID := int64(room.ID)
	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))

	// One entry the relational store has never seen.
	contents := "last words"
	entry := cache.HistoryEntry{
		RedisID:       NewRedisID(),
		UserProfileID: int64(alice.ID),
		Contents:      &contents,
		Type:          TypeMessage,
		ReadUserIDs:   []int64{int64(alice.ID)},
		Timestamp:     cache.UnixSeconds(time.Now()),
		IsActive:      true,
	}
	if err := deps.Coord.UpdateHistoriesByRoom(ctx, roomID, []cache.HistoryEntry{entry}, nil); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	syncer := NewSyncer(deps.Coord, deps.Repos, time.Minute)
	outcome, err := newTerminateHandler(syncer)().Handle(ctx, hctx, nil)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if outcome.Close == nil || outcome.Close.Code != websocket.CloseGoingAway {
		t.Fatalf("close directive = %+v, want going away", outcome.Close)
	}
	if len(outcome.Multicast) != 0 {
		t.Fatalf("last leave multicast = %+v, want none", outcome.Multicast)
	}

	dbRoom, err := deps.Repos.Room.FindByID(roomID)
	if err != nil || dbRoom.IsActive {
		t.Fatalf("room active = %v (%v), want deactivated", dbRoom.IsActive, err)
	}

	// The cache-only entry landed before the views vanished.
	rows, err := deps.Repos.History.FindByRedisIDs([]string{entry.RedisID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("flushed rows = %d (%v), want 1", len(rows), err)
	}
	if rows[0].Contents == nil || *rows[0].Contents != "last words" {
		t.Fatalf("flushed contents = %v", rows[0].Contents)
	}

	// The leave notice rode the same flush into the store.
	all, err := deps.Repos.History.ListByRoom(roomID, 0, 10)
	if err != nil || len(all) != 2 {
		t.Fatalf("room rows = %d (%v), want the entry plus the notice", len(all), err)
	}
	noticed := false
	for _, row := range all {
		if row.Contents != nil && *row.Contents == "alice님이 나갔습니다." {
			noticed = true
		}
	}
	if !noticed {
		t.Fatal("leave notice missing from the store")
	}

	if mr.Exists(cache.RoomInfoKey(roomID)) || mr.Exists(cache.RoomHistoriesKey(roomID)) {
		t.Fatal("room cache views survived the last leave")
	}
}

func TestLookupFillsFromStore(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)

	base := time.Now().Add(-time.Hour)
	redisIDs := make([]string, 3)
	for i := 0; i < 3; i++ {
		contents := "old message"
		row := model.ChatHistory{
			RedisID:       NewRedisID(),
			RoomID:        room.ID,
			UserProfileID: bob.ID,
			Contents:      &contents,
			Type:          model.HistoryTypeMessage,
			IsActive:      true,
		}
		row.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := deps.Repos.History.Create(&row); err != nil {
			t.Fatalf("seed history row: %v", err)
		}
		redisIDs[i] = row.RedisID
	}

	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))
	if err := deps.Coord.BumpUnread(ctx, int64(alice.ID), roomID, cache.UnixSeconds(time.Now())); err != nil {
		t.Fatalf("seed unread: %v", err)
	}

	outcome, err := newLookupHandler().Handle(ctx, hctx, lookupData(t, 0, 30))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Unicast) != 1 || outcome.Unicast[0].Type != TypeLookup {
		t.Fatalf("outcome = %+v, want one lookup unicast", outcome)
	}
	reply, ok := outcome.Unicast[0].Data.(LookupReply)
	if !ok {
		t.Fatalf("unicast data is %T", outcome.Unicast[0].Data)
	}
	if len(reply.Histories) != 3 {
		t.Fatalf("page holds %d entries, want 3", len(reply.Histories))
	}
	if reply.NextOffset != 3 {
		t.Fatalf("next offset = %d, want 3", reply.NextOffset)
	}
	// Newest first.
	if reply.Histories[0].RedisID != redisIDs[2] {
		t.Fatalf("page head = %s, want newest row %s", reply.Histories[0].RedisID, redisIDs[2])
	}

	// Every served entry is now read for the caller.
	rows, err := deps.Repos.History.FindByRedisIDs(redisIDs, repository.WithReadMarkers())
	if err != nil || len(rows) != 3 {
		t.Fatalf("rows = %d (%v), want 3", len(rows), err)
	}
	for _, row := range rows {
		read := false
		for _, m := range row.UserProfileMapping {
			if int64(m.UserProfileID) == int64(alice.ID) && m.IsRead {
				read = true
			}
		}
		if !read {
			t.Fatalf("row %s not marked read for the caller", row.RedisID)
		}
	}

	item, _, err := deps.Coord.RoomItemFor(ctx, int64(alice.ID), roomID)
	if err != nil || item == nil {
		t.Fatalf("room item = %+v, %v", item, err)
	}
	if item.UnreadMsgCnt != 0 {
		t.Fatalf("unread = %d after lookup, want 0", item.UnreadMsgCnt)
	}
}

func TestLookupMarksCachedEntriesRead(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	bob := seedProfile(t, deps, "bob")
	room := seedRoom(t, deps, alice, bob)
	roomID := int64(room.ID)

	contents := "unseen"
	entry := cache.HistoryEntry{
		RedisID:       NewRedisID(),
		UserProfileID: int64(alice.ID),
		Contents:      &contents,
		Type:          TypeMessage,
		ReadUserIDs:   []int64{int64(alice.ID)},
		Timestamp:     cache.UnixSeconds(time.Now()),
		IsActive:      true,
	}
	if err := deps.Coord.UpdateHistoriesByRoom(ctx, roomID, []cache.HistoryEntry{entry}, nil); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	hctx := handlerCtx(t, deps, roomID, bob, int64(bob.ID))
	if _, err := newLookupHandler().Handle(ctx, hctx, lookupData(t, 0, 30)); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 {
		t.Fatalf("history set holds %d entries, want 1", len(entries))
	}
	read := false
	for _, id := range entries[0].ReadUserIDs {
		if id == int64(bob.ID) {
			read = true
		}
	}
	if !read {
		t.Fatalf("read set = %v, caller missing", entries[0].ReadUserIDs)
	}
}

func TestLookupPagesByClientLimit(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	roomID := int64(room.ID)

	base := time.Now().Add(-time.Hour)
	redisIDs := make([]string, 5)
	for i := 0; i < 5; i++ {
		contents := "paged message"
		row := model.ChatHistory{
			RedisID:       NewRedisID(),
			RoomID:        room.ID,
			UserProfileID: alice.ID,
			Contents:      &contents,
			Type:          model.HistoryTypeMessage,
			IsActive:      true,
		}
		row.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := deps.Repos.History.Create(&row); err != nil {
			t.Fatalf("seed history row: %v", err)
		}
		redisIDs[i] = row.RedisID
	}

	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))
	page := func(offset int64) LookupReply {
		outcome, err := newLookupHandler().Handle(ctx, hctx, lookupData(t, offset, 2))
		if err != nil {
			t.Fatalf("Handle(offset=%d) error: %v", offset, err)
		}
		reply, ok := outcome.Unicast[0].Data.(LookupReply)
		if !ok {
			t.Fatalf("unicast data is %T", outcome.Unicast[0].Data)
		}
		return reply
	}

	first := page(0)
	if len(first.Histories) != 2 || first.NextOffset != 2 {
		t.Fatalf("first page = %d entries next %d, want 2 and 2", len(first.Histories), first.NextOffset)
	}
	if first.Histories[0].RedisID != redisIDs[4] || first.Histories[1].RedisID != redisIDs[3] {
		t.Fatalf("first page order = %s, %s", first.Histories[0].RedisID, first.Histories[1].RedisID)
	}

	second := page(first.NextOffset)
	if len(second.Histories) != 2 || second.NextOffset != 4 {
		t.Fatalf("second page = %d entries next %d, want 2 and 4", len(second.Histories), second.NextOffset)
	}
	if second.Histories[0].RedisID != redisIDs[2] || second.Histories[1].RedisID != redisIDs[1] {
		t.Fatalf("second page order = %s, %s", second.Histories[0].RedisID, second.Histories[1].RedisID)
	}

	third := page(second.NextOffset)
	if len(third.Histories) != 1 || third.Histories[0].RedisID != redisIDs[0] {
		t.Fatalf("third page = %+v, want the oldest row alone", third.Histories)
	}
	if third.NextOffset != 5 {
		t.Fatalf("third page next = %d, want 5", third.NextOffset)
	}
}

func TestLookupWithoutRangeIsDropped(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	outcome, err := newLookupHandler().Handle(context.Background(), hctx, nil)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Unicast) != 0 || len(outcome.Multicast) != 0 {
		t.Fatalf("outcome = %+v, want nothing", outcome)
	}
}

func TestLookupRejectsNegativeOffset(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	_, err := newLookupHandler().Handle(context.Background(), hctx, lookupData(t, -1, 10))
	if errorx.GetCode(err) != errorx.CodeInvalid {
		t.Fatalf("error = %v, want invalid", err)
	}
}

func TestPatchHandlerConverges(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	roomID := int64(room.ID)

	contents := "original"
	row := model.ChatHistory{
		RedisID:       NewRedisID(),
		RoomID:        room.ID,
		UserProfileID: alice.ID,
		Contents:      &contents,
		Type:          model.HistoryTypeMessage,
		IsActive:      true,
	}
	if err := deps.Repos.History.Create(&row); err != nil {
		t.Fatalf("seed history row: %v", err)
	}
	id := int64(row.ID)
	entry := cache.HistoryEntry{
		ID:            &id,
		RedisID:       row.RedisID,
		UserProfileID: int64(alice.ID),
		Contents:      &contents,
		Type:          TypeMessage,
		ReadUserIDs:   []int64{int64(alice.ID)},
		Timestamp:     cache.UnixSeconds(row.CreatedAt),
		IsActive:      true,
	}
	if err := deps.Coord.UpdateHistoriesByRoom(ctx, roomID, []cache.HistoryEntry{entry}, nil); err != nil {
		t.Fatalf("seed cache entry: %v", err)
	}

	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))
	form := PatchData{
		RedisIDs: []string{row.RedisID},
		Contents: strPtr("edited"),
		IsActive: boolPtr(false),
	}
	outcome, err := newPatchHandler().Handle(ctx, hctx, rawData(t, form))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Multicast) != 1 || outcome.Multicast[0].Type != TypePatch {
		t.Fatalf("outcome = %+v, want one patch multicast", outcome)
	}
	reply, ok := outcome.Multicast[0].Data.(PatchReply)
	if !ok || len(reply.Histories) != 1 {
		t.Fatalf("multicast data = %+v, want one patched entry", outcome.Multicast[0].Data)
	}

	entries := cachedEntries(t, mr, roomID)
	if len(entries) != 1 {
		t.Fatalf("history set holds %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.Contents == nil || *got.Contents != "edited" || got.IsActive {
		t.Fatalf("cache entry after patch = %+v", got)
	}

	rows, err := deps.Repos.History.FindByRedisIDs([]string{row.RedisID})
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %d (%v), want 1", len(rows), err)
	}
	if rows[0].Contents == nil || *rows[0].Contents != "edited" || rows[0].IsActive {
		t.Fatalf("row after patch = contents %v active %v", rows[0].Contents, rows[0].IsActive)
	}
}

func TestPatchIncludesStoreOnlyTargets(t *testing.T) {
	deps, mr := newTestDeps(t)
	ctx := context.Background()

	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	roomID := int64(room.ID)

	rows := make([]model.ChatHistory, 2)
	for i := range rows {
		contents := "original"
		rows[i] = model.ChatHistory{
			RedisID:       NewRedisID(),
			RoomID:        room.ID,
			UserProfileID: alice.ID,
			Contents:      &contents,
			Type:          model.HistoryTypeMessage,
			IsActive:      true,
		}
		if err := deps.Repos.History.Create(&rows[i]); err != nil {
			t.Fatalf("seed history row: %v", err)
		}
	}
	// Only the first row still lives in the cache; the second was
	// evicted and survives in the store alone.
	id := int64(rows[0].ID)
	contents := "original"
	entry := cache.HistoryEntry{
		ID:            &id,
		RedisID:       rows[0].RedisID,
		UserProfileID: int64(alice.ID),
		Contents:      &contents,
		Type:          TypeMessage,
		ReadUserIDs:   []int64{int64(alice.ID)},
		Timestamp:     cache.UnixSeconds(rows[0].CreatedAt),
		IsActive:      true,
	}
	if err := deps.Coord.UpdateHistoriesByRoom(ctx, roomID, []cache.HistoryEntry{entry}, nil); err != nil {
		t.Fatalf("seed cache entry: %v", err)
	}

	hctx := handlerCtx(t, deps, roomID, alice, int64(alice.ID))
	form := PatchData{
		RedisIDs: []string{rows[0].RedisID, rows[1].RedisID},
		IsActive: boolPtr(false),
	}
	outcome, err := newPatchHandler().Handle(ctx, hctx, rawData(t, form))
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	reply, ok := outcome.Multicast[0].Data.(PatchReply)
	if !ok {
		t.Fatalf("multicast data is %T", outcome.Multicast[0].Data)
	}
	if len(reply.Histories) != 2 {
		t.Fatalf("reply carries %d entries, want both targets", len(reply.Histories))
	}
	byRedisID := map[string]cache.HistoryEntry{}
	for _, e := range reply.Histories {
		byRedisID[e.RedisID] = e
	}
	storeOnly, ok := byRedisID[rows[1].RedisID]
	if !ok {
		t.Fatal("store-only target missing from the reply")
	}
	if storeOnly.ID == nil || *storeOnly.ID != int64(rows[1].ID) || storeOnly.IsActive {
		t.Fatalf("store-only entry = %+v, want bound and inactive", storeOnly)
	}

	dbRows, err := deps.Repos.History.FindByRedisIDs([]string{rows[0].RedisID, rows[1].RedisID})
	if err != nil || len(dbRows) != 2 {
		t.Fatalf("rows = %d (%v), want 2", len(dbRows), err)
	}
	for _, row := range dbRows {
		if row.IsActive {
			t.Fatalf("row %s still active after patch", row.RedisID)
		}
	}
	if entries := cachedEntries(t, mr, roomID); len(entries) != 1 || entries[0].IsActive {
		t.Fatalf("cache after patch = %+v", entries)
	}
}

func TestPatchRejectsEmptyValues(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	form := PatchData{RedisIDs: []string{"abcd"}}
	_, err := newPatchHandler().Handle(context.Background(), hctx, rawData(t, form))
	if errorx.GetCode(err) != errorx.CodeInvalid {
		t.Fatalf("error = %v, want invalid", err)
	}
}

func TestDispatchUnknownTypeAnswersPing(t *testing.T) {
	deps, _ := newTestDeps(t)
	alice := seedProfile(t, deps, "alice")
	room := seedRoom(t, deps, alice)
	hctx := handlerCtx(t, deps, int64(room.ID), alice, int64(alice.ID))

	dispatcher := NewDispatcher(NewSyncer(deps.Coord, deps.Repos, time.Minute))
	outcome, err := dispatcher.Dispatch("no-such-type").Handle(context.Background(), hctx, nil)
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(outcome.Unicast) != 1 || outcome.Unicast[0].Type != TypePing {
		t.Fatalf("outcome = %+v, want a ping answer", outcome)
	}
	reply, ok := outcome.Unicast[0].Data.(PingReply)
	if !ok || !reply.Pong {
		t.Fatalf("unicast data = %+v, want pong", outcome.Unicast[0].Data)
	}
}
