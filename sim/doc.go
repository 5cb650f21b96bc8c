// Package sim provides the discrete-event job-shop simulation engine.
//
// # Reading Guide
//
// Start with these three files to understand the simulation kernel:
//   - clock.go: the cooperative event clock (logical time, FIFO ties, ErrSimulationEnded)
//   - machine.go: the machine model (FIFO queue, failures, both processing modes)
//   - simulator.go: the dynamic-shop loop wiring arrivals, dispatch and metrics
//
// # Architecture
//
// Every stochastic process (arrival.go, failure.go) is a goroutine driven by
// the clock; exactly one process runs at a time, so no shared state needs
// locking beyond the clock itself. The event bus (eventlog.go) fans state
// changes out to the event log, the metrics collector and, optionally, the
// external mirroring feed.
//
// Two simulator variants share the same machine and arrival machinery:
//   - Simulator (simulator.go): decide-allow dispatch on one machine per type,
//     ranked locally (rules.go) or by a delegated authority (dispatch.go)
//   - CNPSimulator (cnp.go): contract-net assignment over redundant machine
//     fleets, with renegotiation after mid-operation failures
//
// # Key Interfaces
//
// The extension points are small interfaces:
//   - Decider: allow or defer a dispatch request given a queue snapshot
//   - DecisionClient: the wire surface a DelegatedDecider speaks to
//   - CNPClient: order lifecycle and negotiation calls of the resilient variant
//   - FeedbackSender: post-operation learning feedback, best effort
//
// The negotiate package implements the three client interfaces over ZeroMQ.
package sim
