// Package norm implements fused layer normalization and RMS normalization
// kernels: a forward pass that produces per-row statistics alongside the
// normalized output, and a backward pass that produces input gradients and,
// for the affine variants, per-column gamma/beta gradients reduced across
// all rows.
//
// Buffers are contiguous, row-major, and borrowed for the duration of a
// single call. Statistics returned by a forward call must be handed back
// unchanged to the matching backward call; the engine cannot detect a
// mismatched pair and will silently produce wrong gradients for one.
package norm
