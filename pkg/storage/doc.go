/*
Package storage defines the snapshot store used to survive restarts.

Three backends implement Store:

	memory  map behind a mutex, for tests and throwaway runs
	badger  embedded LSM store on local disk (default)
	redis   shared store for hosts that already run Redis

Keys are plain strings. Values are opaque bytes; callers encode JSON.
Entries may carry a TTL so a crashed session's snapshot ages out on its own.
*/
package storage
