// Package dnswire implements the DNS wire format subset this forwarder
// needs: header/question/record parsing, RFC 1035 §4.1.4 name compression
// (including RFC 2673 bit-string labels), and the handful of whole-message
// operations (MakeQuery, ParseQuery, ParseReply, GetID, SetID) the
// forwarder core drives classification and dispatch with.
//
// Standards Compliance:
//
//   - RFC 1035: Domain Names - Implementation and Specification
//   - RFC 2673 §3.2: Binary Labels in the Domain Name System
//   - RFC 6891: Extension Mechanisms for DNS (OPT pseudo-record, untouched passthrough)
//
// Error Handling:
//
// All errors are wrapped with context using fmt.Errorf("...: %w", err),
// so callers can match on ErrDNSError with errors.Is.
package dnswire

import "errors"

// ErrDNSError is the sentinel wrapped by every wire-format violation
// detected by this package.
var ErrDNSError = errors.New("dns wire error")
