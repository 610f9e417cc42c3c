// Package engine implements the offline-first request interception engine.
// Hosts drive it through three lifecycle hooks: Install precaches a fixed
// manifest into the current cache generation, Activate deletes every stale
// generation, and Fetch classifies an intercepted request and answers it with
// one of the caching strategies (asset cache-first, navigation network-first
// with an offline page fallback, or plain network-first). Transport adapts the
// engine to net/http so any http.Client can be made offline-capable.
package engine
