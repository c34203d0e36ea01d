// Package timeouts defines shared timeout constants used across the engine.
// Centralizing these values prevents drift between call sites and makes the
// durations discoverable.
package timeouts

import "time"

// Datastore caps the time allowed for a single datastore read or write.
const Datastore = 2 * time.Second

// PaymentSettle caps one payment gateway settle call. Settlement involves an
// on-chain round trip, so it gets more headroom than a datastore call.
const PaymentSettle = 15 * time.Second

// Decision caps one decision-producer call during a policy revision.
const Decision = 30 * time.Second

// SideEffect caps best-effort side operations such as gas top-ups.
const SideEffect = 5 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
