// Copyright 2025 Failover Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package invoker provides the fallback invocation entry point for Failover.

# Overview

The invoker package implements the single public operation callers consume:
Invoke(ctx, capability, payload). It resolves the ranked candidate chain for
the capability from the provider registry, attempts each candidate through
its own circuit breaker with retries applied inside, and returns the first
valid response or an aggregated failure carrying every provider's reason.

# Call Path

	┌──────────────────────────────────────────────────────────┐
	│                    Invoke(capability)                    │
	├──────────────────────────────────────────────────────────┤
	│  idempotency cache (optional) ── hit ──► cached response │
	├──────────────────────────────────────────────────────────┤
	│  registry.ListFor(capability)  (rank ascending)          │
	├──────────────────────────────────────────────────────────┤
	│  for each provider:                                      │
	│    ┌──────────────────────────────────────────┐          │
	│    │ CircuitBreaker                           │          │
	│    │   └─ Retryer (backoff + jitter)          │          │
	│    │        └─ Invoke + Validate              │          │
	│    └──────────────────────────────────────────┘          │
	│    success ──► return    failure ──► next provider       │
	├──────────────────────────────────────────────────────────┤
	│  all failed ──► AllProvidersFailedError (ordered)        │
	└──────────────────────────────────────────────────────────┘

# Semantics

  - Retries run inside the breaker: one logical call produces at most one
    breaker failure event per provider, however many attempts the retryer
    spent.
  - A provider whose breaker is open is skipped without being contacted;
    the skip is recorded as a chain failure but never as a new breaker
    failure.
  - A response rejected by the descriptor's Validate predicate counts as a
    failure for both fallback and breaker accounting.
  - An empty candidate chain fails immediately with a configuration error,
    never a silent empty response.
  - Caller cancellation aborts the chain promptly and leaves every breaker
    untouched.

# Usage

	reg := provider.NewRegistry(nil, logger)
	_ = reg.Register(&provider.Descriptor{
	    Name:       "openai",
	    Capability: "llm.quick",
	    Rank:       1,
	    Invoke:     callOpenAI,
	})

	inv := invoker.NewFallbackInvoker(reg, nil, logger)
	resp, err := inv.Invoke(ctx, "llm.quick", payload)

# Observability

Every invocation opens an OpenTelemetry span and feeds Prometheus counters
for invocation outcomes and per-provider attempts. Structured zap logs are
emitted per failed attempt with provider, capability and rank fields.
*/
package invoker
