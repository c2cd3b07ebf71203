package dnswire_test

import (
	"testing"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeQuery_ParseQuery_RoundTrip(t *testing.T) {
	buf := make([]byte, 512)
	n, err := dnswire.MakeQuery(buf, "example.com", uint16(dnswire.TypeA))
	require.NoError(t, err)

	name, qtype, err := dnswire.ParseQuery(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, uint16(dnswire.TypeA), qtype)
}

func TestMakeQuery_HeaderShape(t *testing.T) {
	buf := make([]byte, 512)
	n, err := dnswire.MakeQuery(buf, "example.com", uint16(dnswire.TypeSOA))
	require.NoError(t, err)

	off := 0
	h, err := dnswire.ParseHeader(buf[:n], &off)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), h.QDCount)
	assert.Zero(t, h.ANCount)
	assert.Zero(t, h.NSCount)
	assert.Zero(t, h.ARCount)
	assert.Equal(t, dnswire.RDFlag, h.Flags)
	assert.Zero(t, h.Flags&dnswire.OpcodeMask)
}

func TestMakeQuery_BufferTooSmall(t *testing.T) {
	buf := make([]byte, 4)
	_, err := dnswire.MakeQuery(buf, "example.com", uint16(dnswire.TypeA))
	assert.ErrorIs(t, err, dnswire.ErrDNSError)
}

func TestParseQuery_NoQuestion(t *testing.T) {
	h := dnswire.Header{}
	_, _, err := dnswire.ParseQuery(h.Marshal())
	assert.ErrorIs(t, err, dnswire.ErrDNSError)
}

// buildReply assembles a minimal one-question reply for ParseReply
// tests: a name, then ancount answer RRs of the given type, each with
// empty RDATA.
func buildReply(t *testing.T, qname string, qtype uint16, ancount int, answerType uint16) []byte {
	t.Helper()
	q := dnswire.Question{Name: qname, Type: qtype, Class: dnswire.ClassIN}
	qb, err := q.Marshal()
	require.NoError(t, err)

	h := dnswire.Header{ID: 1, QDCount: 1, ANCount: uint16(ancount)}
	msg := append(h.Marshal(), qb...)

	for i := 0; i < ancount; i++ {
		nameWire, err := dnswire.EncodeName(qname)
		require.NoError(t, err)
		msg = append(msg, nameWire...)
		msg = append(msg, byte(answerType>>8), byte(answerType))
		msg = append(msg, 0, 1) // class IN
		msg = append(msg, 0, 0, 0, 0) // ttl
		msg = append(msg, 0, 0) // rdlength 0
	}
	return msg
}

func TestParseReply_NoAnswers(t *testing.T) {
	msg := buildReply(t, "example.com", uint16(dnswire.TypeSOA), 0, 0)
	name, atype, err := dnswire.ParseReply(msg)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, dnswire.TypeInvalid, atype)
}

func TestParseReply_ForgedA(t *testing.T) {
	msg := buildReply(t, "twitter.com", uint16(dnswire.TypeSOA), 1, uint16(dnswire.TypeA))
	name, atype, err := dnswire.ParseReply(msg)
	require.NoError(t, err)
	assert.Equal(t, "twitter.com.", name)
	assert.Equal(t, dnswire.TypeA, atype)
}

func TestParseReply_NormalAnswer(t *testing.T) {
	msg := buildReply(t, "example.com", uint16(dnswire.TypeA), 1, uint16(dnswire.TypeA))
	name, atype, err := dnswire.ParseReply(msg)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", name)
	assert.Equal(t, dnswire.TypeA, atype)
}
