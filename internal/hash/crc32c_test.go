package hash

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32C(t *testing.T) {
	// Known vector for "123456789".
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))

	h := NewCRC32C()
	h.Write([]byte("1234"))
	h.Write([]byte("56789"))
	assert.Equal(t, uint32(0xE3069283), h.Sum32())
}

func TestChecksumWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewChecksumWriter(&buf)
	_, err := w.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = w.Write([]byte("6789"))
	require.NoError(t, err)

	assert.Equal(t, int64(9), w.Offset())
	assert.Equal(t, CRC32C(buf.Bytes()), w.Sum32())
}
