package dnswire

import (
	"encoding/binary"
	"fmt"
)

// Question is a DNS question-section entry (RFC 1035 §4.1.2).
type Question struct {
	Name  string // canonical presentation form, e.g. "example.com."
	Type  uint16
	Class uint16
}

// Marshal serializes the question to wire format.
func (q Question) Marshal() ([]byte, error) {
	name, err := EncodeName(q.Name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(name)+4)
	out = append(out, name...)
	var tc [4]byte
	binary.BigEndian.PutUint16(tc[0:2], q.Type)
	binary.BigEndian.PutUint16(tc[2:4], q.Class)
	return append(out, tc[:]...), nil
}

// ParseQuestion parses a question from msg at *off, advancing *off past
// it. The decoded name is lowercased for case-insensitive comparisons
// (RFC 1035 §3.1) but keeps its canonical presentation escaping.
func ParseQuestion(msg []byte, off *int) (Question, error) {
	name, err := DecodeName(msg, off)
	if err != nil {
		return Question{}, err
	}
	if *off+4 > len(msg) {
		return Question{}, fmt.Errorf("%w: truncated question", ErrDNSError)
	}
	q := Question{
		Name:  LowerName(name),
		Type:  binary.BigEndian.Uint16(msg[*off : *off+2]),
		Class: binary.BigEndian.Uint16(msg[*off+2 : *off+4]),
	}
	*off += 4
	return q, nil
}
