// Package storage provides the shared flag store used for scheduler
// coordination.
//
// A flag is a key with an optional expiry and no payload. The store backs:
//   - the interrupt flag that halts the sub-minute repeat loop
//   - single-instance (one server) locks per due occurrence
//   - overlap mutexes for tasks that must not run concurrently with themselves
//
// Drivers:
//   - "memory": process-local map (tests, single-process work mode)
//   - "sqlite": shared database file (several processes on one host)
//   - "redis":  shared server (a fleet of hosts)
package storage
