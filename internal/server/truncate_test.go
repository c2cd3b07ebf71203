package server

import (
	"encoding/binary"
	"testing"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestQuery builds a minimal wire-format query for name/qtype with
// the given number of trailing answer-section filler bytes appended, to
// simulate a large reply.
func buildTestQuery(t *testing.T, name string, qtype uint16, ancount uint16, answerFiller int) []byte {
	t.Helper()
	msg := make([]byte, dnswire.HeaderSize)
	binary.BigEndian.PutUint16(msg[0:2], 0x1234)
	binary.BigEndian.PutUint16(msg[2:4], 0x8180) // standard reply, no TC
	binary.BigEndian.PutUint16(msg[4:6], 1)
	binary.BigEndian.PutUint16(msg[6:8], ancount)

	for _, label := range splitLabels(name) {
		msg = append(msg, byte(len(label)))
		msg = append(msg, label...)
	}
	msg = append(msg, 0x00)

	qtypeBuf := make([]byte, 4)
	binary.BigEndian.PutUint16(qtypeBuf[0:2], qtype)
	binary.BigEndian.PutUint16(qtypeBuf[2:4], 1)
	msg = append(msg, qtypeBuf...)

	if answerFiller > 0 {
		msg = append(msg, make([]byte, answerFiller)...)
	}
	return msg
}

func splitLabels(name string) []string {
	var labels []string
	start := 0
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			labels = append(labels, name[start:i])
			start = i + 1
		}
	}
	labels = append(labels, name[start:])
	return labels
}

func TestTruncateUDPResponse_SmallMessageUnchanged(t *testing.T) {
	msg := buildTestQuery(t, "example.com", uint16(dnswire.TypeA), 1, 4)
	out := truncateUDPResponse(msg, 2048)
	assert.Equal(t, msg, out)
}

func TestTruncateUDPResponse_LargeMessageTruncated(t *testing.T) {
	msg := buildTestQuery(t, "example.com", uint16(dnswire.TypeA), 10, 6000)
	require.Greater(t, len(msg), 2048)

	out := truncateUDPResponse(msg, 2048)
	require.LessOrEqual(t, len(out), 2048)

	flags := binary.BigEndian.Uint16(out[2:4])
	assert.NotZero(t, flags&dnswire.TCFlag, "TC flag must be set")
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(out[6:8]), "ancount must be zeroed")
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(out[4:6]), "qdcount preserved")
}

func TestTruncateUDPResponse_ZeroQuestionsReturnsHeaderOnly(t *testing.T) {
	msg := make([]byte, dnswire.HeaderSize)
	binary.BigEndian.PutUint16(msg[4:6], 0)
	msg = append(msg, make([]byte, 4000)...)

	out := truncateUDPResponse(msg, 2048)
	assert.Len(t, out, dnswire.HeaderSize)
}
