// Package core defines the domain model shared by the detection pipeline:
// raw and normalized events, process and file object records, protected
// rules and allowlists, alert records, plus the worker pool and circuit
// breaker used by alert delivery.
//
// Types here carry no locking of their own. Records are owned by the single
// engine goroutine until an AlertRecord is handed to the dispatcher, after
// which it is treated as immutable.
package core
