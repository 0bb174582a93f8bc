// Package generate defines the external generation engine boundary. The
// pipeline treats engines as opaque, expensive, synchronous functions; this
// package only describes how to invoke them, never how they produce bytes.
//
// The declarations live in the enginecore subpackage and are aliased here so
// engine implementations can satisfy the interface without importing this
// package (whose factory imports them, which would cycle).
package generate

import "github.com/avelinsk/voiceforge/internal/generate/enginecore"

// ProgressFunc reports coarse generation progress in percent. Engines call
// it best-effort; implementations must tolerate it being invoked from the
// engine's goroutine at any point before Generate returns.
type ProgressFunc = enginecore.ProgressFunc

// Generator is the interface all generation engines implement. Never call a
// specific engine directly — always inject this interface.
type Generator = enginecore.Generator
