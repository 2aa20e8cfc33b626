// Package poller provides the HTTP transport and tick scheduling for a
// progress tracker.
//
// This package is internal to jobprogress and handles the periodic polling of
// a single status endpoint. It knows nothing about progress values; it issues
// requests and hands bodies back to the caller.
//
// The main components are:
//
//   - [Client]: resty-backed HTTP client with cache busting, per-request
//     timeout and a response size limit
//   - [Scheduler]: fires a poll immediately on start, then on every tick,
//     applying an [OverlapPolicy] when a previous poll is still in flight
//   - [Response]: result of a single request made by Client
//
// Users of the jobprogress library should not need to interact with this
// package directly. Configuration is done through the main jobprogress package.
package poller
