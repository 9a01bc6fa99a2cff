// Package cache is the coordinator between redis views and the
// relational store: key taxonomy, cache entry schemas, read-through
// loads, and the compound updates the chat handlers rely on.
package cache

import "fmt"

// Dirty-history index: every cache history entry that already has a DB
// id is mirrored here, scored by that id, for the write-behind syncer.
const DirtyHistoriesKey = "update:chat_histories"

// RoomInfoLock guards every room info hash. It is deliberately global:
// membership changes touch several rooms' member views at once.
const RoomInfoLock = "room:info:lock"

// RoomInfoKey is the hash holding one room's snapshot.
func RoomInfoKey(roomID int64) string {
	return fmt.Sprintf("room:%d:info", roomID)
}

// RoomMembersKey is the set of member entries as seen by one viewer.
// Per-viewer because nickname overrides differ between viewers.
func RoomMembersKey(roomID, viewerProfileID int64) string {
	return fmt.Sprintf("room:%d:user_profile:%d:user_profiles", roomID, viewerProfileID)
}

// RoomHistoriesKey is the sorted set of history entries, scored by
// send timestamp.
func RoomHistoriesKey(roomID int64) string {
	return fmt.Sprintf("room:%d:chat_histories", roomID)
}

// UserRoomsKey is one profile's room index, scored by last activity.
// Entries carry the unread counter.
func UserRoomsKey(profileID int64) string {
	return fmt.Sprintf("user:%d:chat_rooms", profileID)
}

// FollowingsKey is the set of one profile's relationship entries.
func FollowingsKey(profileID int64) string {
	return fmt.Sprintf("user:%d:followings", profileID)
}

// RoomChannel is the pub/sub channel for one room's multicast frames.
func RoomChannel(roomID int64) string {
	return fmt.Sprintf("pubsub:room:%d:chat", roomID)
}

// LockKey derives the lock name guarding a cache key.
func LockKey(key string) string {
	return key + ":lock"
}
