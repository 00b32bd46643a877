// Package responder implements the echo side of the UDP port check.
//
// A Responder listens on one UDP address. For every datagram whose payload
// is byte-identical to the configured token it sends the same bytes back to
// the sender; anything else is logged as a mismatch and dropped without a
// reply. A datagram longer than model.MaxTokenLen never matches, even when
// it starts with the token.
//
// Errors on a single receive or reply are logged and the loop keeps
// serving. The loop only ends when its context is cancelled (clean exit)
// or when the socket itself is unusable: closed underneath the loop, or
// failing on every read for maxConsecutiveErrors reads in a row.
package responder
