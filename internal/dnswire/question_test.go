package dnswire_test

import (
	"testing"

	"github.com/sansdns/sans-forward/internal/dnswire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuestion_MarshalParseRoundTrip(t *testing.T) {
	q := dnswire.Question{Name: "Example.COM.", Type: uint16(dnswire.TypeSOA), Class: dnswire.ClassIN}
	b, err := q.Marshal()
	require.NoError(t, err)

	off := 0
	got, err := dnswire.ParseQuestion(b, &off)
	require.NoError(t, err)
	assert.Equal(t, "example.com.", got.Name)
	assert.Equal(t, uint16(dnswire.TypeSOA), got.Type)
	assert.Equal(t, dnswire.ClassIN, got.Class)
	assert.Equal(t, len(b), off)
}

func TestParseQuestion_Truncated(t *testing.T) {
	msg := []byte{0, 0, 1} // root name, then only 1 byte of type/class left
	off := 0
	_, err := dnswire.ParseQuestion(msg, &off)
	assert.ErrorIs(t, err, dnswire.ErrDNSError)
}

func TestQuestion_Marshal_NameTooLong(t *testing.T) {
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	q := dnswire.Question{Name: string(long), Type: uint16(dnswire.TypeA), Class: dnswire.ClassIN}
	_, err := q.Marshal()
	assert.ErrorIs(t, err, dnswire.ErrDNSError)
}
