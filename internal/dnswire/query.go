package dnswire

import (
	"fmt"
	"math/rand/v2"
)

// MaxIncomingMessageSize is the receive-buffer cap used throughout the
// forwarder's I/O paths: all reads use a 2048-byte cap.
const MaxIncomingMessageSize = 2048

// MakeQuery writes a well-formed DNS query for qname/qtype into buf and
// returns the number of bytes written. The header has opcode=0, RD=1,
// QDCOUNT=1, every other count zero, and a freshly randomized id. Class
// is always IN.
func MakeQuery(buf []byte, qname string, qtype uint16) (int, error) {
	q := Question{Name: qname, Type: qtype, Class: ClassIN}
	qb, err := q.Marshal()
	if err != nil {
		return 0, fmt.Errorf("%w: building question: %w", ErrDNSError, err)
	}

	h := Header{
		ID:      uint16(rand.UintN(1 << 16)), //nolint:gosec // classification nonce, not a security boundary
		Flags:   RDFlag,
		QDCount: 1,
	}
	hb := h.Marshal()

	total := len(hb) + len(qb)
	if total > len(buf) {
		return 0, fmt.Errorf("%w: buffer too small for query (%d > %d)", ErrDNSError, total, len(buf))
	}
	n := copy(buf, hb)
	n += copy(buf[n:], qb)
	return n, nil
}

// ParseQuery validates that msg carries at least one question and
// returns that question's name and type.
func ParseQuery(msg []byte) (qname string, qtype uint16, err error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return "", 0, err
	}
	if h.QDCount < 1 {
		return "", 0, fmt.Errorf("%w: query carries no question", ErrDNSError)
	}
	q, err := ParseQuestion(msg, &off)
	if err != nil {
		return "", 0, err
	}
	return q.Name, q.Type, nil
}

// ParseReply parses the first question's name from msg and, if the
// message carries at least one answer, the RR type of that first
// answer. If there are no answers it returns TypeInvalid.
//
// Limitation (preserved intentionally): only the first answer's type is
// inspected. A reply whose first RR is a CNAME followed by the actual
// A/AAAA record will report the CNAME's type, which can mislead the
// poisoning classifier. This is not fixed here.
func ParseReply(msg []byte) (qname string, answerType RecordType, err error) {
	off := 0
	h, err := ParseHeader(msg, &off)
	if err != nil {
		return "", 0, err
	}
	if h.QDCount < 1 {
		return "", 0, fmt.Errorf("%w: reply carries no question", ErrDNSError)
	}
	q, err := ParseQuestion(msg, &off)
	if err != nil {
		return "", 0, err
	}
	if h.ANCount < 1 {
		return q.Name, TypeInvalid, nil
	}
	rr, err := ParseRecordHeader(msg, &off)
	if err != nil {
		return "", 0, fmt.Errorf("%w: first answer: %w", ErrDNSError, err)
	}
	return q.Name, RecordType(rr.Type), nil
}
