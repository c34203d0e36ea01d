// Package domain holds the arena's core entities and the pure rules that
// govern them: agent lifecycle, job and bid state machines, auction
// clearing, and the multi-party revenue split.
//
// Everything here is deterministic and side-effect free. Persistence and
// collaborator I/O live in the surrounding service packages.
package domain
