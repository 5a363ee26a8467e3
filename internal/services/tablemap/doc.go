// Package tablemap implements real-time scene and token synchronization.
//
// Participants of a session mutate shared map state over a persistent
// websocket. The core dispatches tagged command envelopes, enforces optimistic
// concurrency on token writes, memoizes responses per identity so resends are
// replay-safe, and fans accepted mutations out to every peer in the session.
package tablemap
