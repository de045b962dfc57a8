// Package raft provides the consensus core of a failover cluster: a
// four-role state machine (Standby, Follower, Candidate, Leader) with
// leader election, log replication and commit tracking.
//
// The `Machine` is purely reactive and single-threaded: the owner
// feeds it timer ticks via `Machine.Tick`, remote requests via
// `Machine.OnAppendEntries` / `Machine.OnRequestVote`, and the
// responses of its own outbound requests via the matching On*Reply
// methods. Outbound I/O happens through the `Sender` the machine is
// built with; it must never block, and a response that never arrives
// is simply absent.
//
// Proposals enter through `Machine.Propose`. On the leader the entry
// is staged, replicated, and handed to the application's `DataStore`
// once a strict majority acknowledged it; the supplied callback then
// resolves with the committed entry. On any other role the callback
// resolves immediately with a failure.
//
// Role transitions are reported to a single `RoleObserver`; the
// lifecycle machinery of the cluster package is its only consumer.
package raft
