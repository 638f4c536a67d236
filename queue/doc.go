// Package queue defines named work channels with per-queue and
// per-group rate limiting.
//
// Steps carry a Queue field that determines which queue they belong to.
// Workers poll the queues listed in their configuration (default:
// ["default"]).
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "orders",
//	    MaxConcurrency: 5,      // max 5 concurrent dispatch passes
//	    RateLimit:      10,     // max 10 passes/s from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// # Manager
//
// [Manager] enforces per-queue and per-group limits when a worker picks
// up a trigger. It uses a token-bucket rate limiter
// (golang.org/x/time/rate) and an active-count gate for concurrency:
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName, group) {
//	    defer m.Release(queueName, group)
//	    // run the dispatch pass
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide
// concurrency.
package queue
