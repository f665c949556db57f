// Package navmsg decodes the NAV message blob produced by the LR1110 GNSS
// engine.
//
// The blob is bit-packed, least significant bit of byte 0 first, with
// optional fields whose presence is announced by flag bits earlier in the
// stream. Decoding is pure: the same bytes always give the same Message or
// the same error, and a failure never yields a partial Message.
package navmsg
