package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader hands out at most n bytes per Read call, to exercise the
// FrameReader's growing-buffer loop against a stream that doesn't deliver
// a full frame in one syscall.
type chunkedReader struct {
	data []byte
	pos  int
	n    int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	max := c.n
	if max > len(p) {
		max = len(p)
	}
	end := c.pos + max
	if end > len(c.data) {
		end = len(c.data)
	}
	n := copy(p, c.data[c.pos:end])
	c.pos += n
	return n, nil
}

func TestFrameReaderSingleFrame(t *testing.T) {
	raw, err := EmitRequest(CmdOpenCL, "/a", nil)
	require.NoError(t, err)

	fr := NewFrameReader(&chunkedReader{data: raw, n: 3})
	req, err := fr.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, CmdOpenCL, req.Cmd)
	assert.Equal(t, "/a", req.Arg)
}

func TestFrameReaderMultipleFrames(t *testing.T) {
	a, _ := EmitRequest(CmdOpen, "/a", nil)
	b, _ := EmitRequest(CmdWrite, "/a", []byte("hello"))

	fr := NewFrameReader(bytes.NewReader(append(append([]byte{}, a...), b...)))

	req1, err := fr.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, CmdOpen, req1.Cmd)

	req2, err := fr.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, CmdWrite, req2.Cmd)
	assert.Equal(t, []byte("hello"), req2.Data)
}

func TestFrameReaderConnectionClosed(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader(nil))
	_, err := fr.ReadRequest()
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestFrameReaderSyntaxError(t *testing.T) {
	fr := NewFrameReader(bytes.NewReader([]byte("BOGUS /a\r\n0 \r\n")))
	_, err := fr.ReadRequest()
	assert.ErrorIs(t, err, ErrSyntax)
}
