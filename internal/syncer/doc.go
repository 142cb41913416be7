// Package syncer keeps a client's in-memory view of one day's clinic
// check-ins consistent with the backend. Local actions apply optimistically
// through the Store and roll back exactly if their request fails; changes
// made by other clients arrive over a websocket channel and are reconciled
// by the Listener, which deduplicates events, recognizes echoes of this
// client's own writes via the Tracker, and falls back to a full reload
// whenever a granular patch is not possible.
package syncer
