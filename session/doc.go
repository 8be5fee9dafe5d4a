// Package session provides core.SessionStore implementations that persist
// conversation items across independent runs.
//
// InMemoryStore suits tests and single-process deployments, RedisStore
// shares sessions between processes and SQLiteStore keeps them in a local
// database file. All stores encode items with the core item codec, so a
// session written by one backend has the same shape in every other.
package session
