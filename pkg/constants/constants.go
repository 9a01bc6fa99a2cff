package constants

import "time"

const (
	// ChannelSize is the buffer size of per-session send channels.
	ChannelSize = 100

	// LockTimeout is the TTL of a named distributed lock.
	LockTimeout = 5 * time.Second
	// LockRetryCount bounds acquisition attempts for a contended lock.
	LockRetryCount = 3
	// LockRetryDelay is the wait between acquisition attempts.
	LockRetryDelay = 200 * time.Millisecond

	// CacheRetryCount bounds retries against a transiently unavailable cache.
	CacheRetryCount = 2
	// CacheRetryDelay is the wait between cache retries.
	CacheRetryDelay = 100 * time.Millisecond

	// PresignedURLExpiry is how long a signed media URL stays valid.
	PresignedURLExpiry = 15 * time.Minute

	// SyncInterval is how often the write-behind syncer drains.
	SyncInterval = 30 * time.Second

	// SessionCookieName carries the signed session id.
	SessionCookieName = "sessionId"
	// SessionMaxAge is the lifetime of a login session.
	SessionMaxAge = 24 * time.Hour
)
