// Package events defines the events the trading core emits on the event bus.
//
// Available event types:
//   - CommandEvent: a participant command was rejected or executed
//   - LedgerEvent: ledger snapshot after a market cycle or a drain
//   - LifecycleEvent: a device changed lifecycle state or connection
package events
