// Package actionqueue provides a resilient outbound action queue for clients that talk to a
// backend over an unreliable network.
//
// Typical flow:
//  1. Submit an action through a Client (or a Dispatcher). The action is sent immediately.
//  2. If the network is unavailable, the action is persisted in a deduplicated, capacity-bounded,
//     priority-tagged Queue and the caller is told it was saved offline.
//  3. A single-flight Flusher drains the Queue in priority order with per-entry exponential backoff,
//     triggered periodically, after every successful submit, or on demand.
//
// Storage backends live in the memstore, filestore, sqlite, mysql, postgres and redis packages.
// Transports live in httptransport and amqptransport.
package actionqueue
