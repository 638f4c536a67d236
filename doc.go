// Package stride is the step-orchestration core of the Martingalian
// perpetual-futures trading bot. It persists every unit of work as a Step,
// drives each Step through a guarded lifecycle state machine, classifies
// exceptions into retry/ignore/fail/escalate outcomes, and throttles
// outbound exchange calls against rate-limit state shared across worker
// processes.
//
// Stride is a library, not a service. Configure a store, register job
// classes, and create steps (or blocks of steps) from ordinary Go code:
//
//	eng, err := engine.Build(memory.New(),
//	    engine.WithConfig(stride.Config{Concurrency: 8}),
//	)
//
// # Architecture
//
// Each subsystem defines its own store interface (step.Store,
// dispatch.TriggerQueue, throttle.StateStore); a single backend implements
// all of them. Domain trading logic lives outside this module — it only
// implements the job contract and feeds throttle counters back from
// exchange responses.
package stride
