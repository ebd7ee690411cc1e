// Package bfd implements the BFD protocol engine (RFC 5880) for a single
// event-loop daemon.
//
// The package contains the control packet codec, the pure state machine,
// the deadline heap that backs transmit and detection timers, the session
// registry, the poll sequence and demand mode controllers, and the Engine
// that ties them together. All session state is owned by the goroutine
// running Engine.Run; other goroutines talk to it through queued commands
// and read copy-out snapshots.
package bfd
