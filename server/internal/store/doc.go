// Package store defines the persistence collaborator of the hub and provides
// the in-memory backend.
//
// Store is the union of Users, Messages and Polls. Every method takes a
// context and returns types.ErrNotFound for a missing entity. Backends never
// hold per-entity locks across calls: the owning hub component serializes
// read-modify-write sequences itself.
//
// WithTimeout wraps any Store so every call carries a bounded deadline and
// driver failures surface as types.ErrPersistenceTimeout or
// types.ErrPersistenceUnavailable.
//
// RunRetention purges soft-deleted messages past the retention window on a
// background ticker until its context is cancelled.
//
// The MongoDB backend lives in mongostore; SQLite and PostgreSQL share
// sqlstore.
package store
