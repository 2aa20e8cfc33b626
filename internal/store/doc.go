// Package store provides storage and pub/sub functionality for progress
// snapshots.
//
// This package is internal to jobprogress and keeps the latest progress
// snapshot of one tracker for the HTTP mirror. It implements a
// publish-subscribe pattern so Server-Sent Events clients see every update.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [Snapshot]: Storage representation of a tracker's progress
//
// The store is designed for concurrent access with proper synchronization.
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the tracker).
package store
