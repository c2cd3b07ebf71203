package server

import (
	"encoding/binary"

	"github.com/sansdns/sans-forward/internal/dnswire"
)

// truncateUDPResponse shrinks a response to fit within maxSize by
// setting the TC (truncation) flag and dropping every record section,
// keeping only the header and question.
//
// This is not EDNS0-aware: the forwarder doesn't parse the OPT record
// to learn a client's advertised UDP payload size, so maxSize is
// always the forwarder's own fixed read/write cap, not a per-client
// negotiated value. A trusted-server reply that arrived over TCP
// (where much larger replies are allowed) still needs this when
// relayed back to a UDP client, which is the only case it's invoked for.
// TruncateUDPResponse is the exported entry point for callers outside
// this package (the forwarder core, relaying an oversized TCP-sourced
// reply back to a UDP client).
func TruncateUDPResponse(respBytes []byte, maxSize int) []byte {
	return truncateUDPResponse(respBytes, maxSize)
}

func truncateUDPResponse(respBytes []byte, maxSize int) []byte {
	if maxSize <= 0 {
		maxSize = dnswire.MaxIncomingMessageSize
	}
	if len(respBytes) <= maxSize || len(respBytes) < dnswire.HeaderSize {
		return respBytes
	}

	qdcount := binary.BigEndian.Uint16(respBytes[4:6])
	header := buildTruncatedHeader(respBytes, qdcount)
	if qdcount == 0 {
		return header
	}

	questionEnd := findQuestionSectionEnd(respBytes, int(qdcount))
	if questionEnd <= dnswire.HeaderSize || questionEnd > maxSize {
		return header
	}

	out := make([]byte, 0, questionEnd)
	out = append(out, header...)
	out = append(out, respBytes[dnswire.HeaderSize:questionEnd]...)
	return out
}

func buildTruncatedHeader(respBytes []byte, qdcount uint16) []byte {
	flags := binary.BigEndian.Uint16(respBytes[2:4]) | dnswire.TCFlag

	h := make([]byte, dnswire.HeaderSize)
	copy(h[0:2], respBytes[0:2])
	binary.BigEndian.PutUint16(h[2:4], flags)
	binary.BigEndian.PutUint16(h[4:6], qdcount)
	binary.BigEndian.PutUint16(h[6:8], 0)
	binary.BigEndian.PutUint16(h[8:10], 0)
	binary.BigEndian.PutUint16(h[10:12], 0)
	return h
}

func findQuestionSectionEnd(msg []byte, qdcount int) int {
	pos := dnswire.HeaderSize
	for range qdcount {
		pos = skipQNAME(msg, pos)
		if pos+4 > len(msg) {
			return len(msg)
		}
		pos += 4
	}
	return pos
}

// skipQNAME advances past one wire-format DNS name (labels, a
// compression pointer, or the root zero-label).
func skipQNAME(msg []byte, pos int) int {
	for pos < len(msg) {
		labelLen := msg[pos]
		if labelLen == 0 {
			return pos + 1
		}
		if labelLen >= 0xC0 {
			if pos+2 > len(msg) {
				return len(msg)
			}
			return pos + 2
		}
		pos++
		if pos+int(labelLen) > len(msg) {
			return len(msg)
		}
		pos += int(labelLen)
	}
	return pos
}
