// Package heartbeat ingests check-ins from deployed agents and tracks their
// liveness. Unknown agent IDs are registered on first contact. A background
// monitor sweeps agents whose heartbeats have gone stale into the offline
// status.
package heartbeat
