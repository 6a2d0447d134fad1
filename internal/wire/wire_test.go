package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitParseRequestRoundTrip(t *testing.T) {
	cases := []struct {
		cmd  Command
		arg  string
		data []byte
	}{
		{CmdOpenCL, "/a", nil},
		{CmdWrite, "/a", []byte("hello")},
		{CmdQuit, "", nil},
		{CmdReadN, "3", nil},
	}

	for _, tc := range cases {
		raw, err := EmitRequest(tc.cmd, tc.arg, tc.data)
		require.NoError(t, err)

		req, n, err := ParseRequest(raw)
		require.NoError(t, err)
		assert.Equal(t, len(raw), n)
		assert.Equal(t, tc.cmd, req.Cmd)
		assert.Equal(t, tc.arg, req.Arg)
		assert.Equal(t, tc.data, req.Data)
	}
}

func TestParseRequestIncomplete(t *testing.T) {
	full, err := EmitRequest(CmdWrite, "/a", []byte("hello world"))
	require.NoError(t, err)

	for cut := 0; cut < len(full); cut++ {
		_, _, err := ParseRequest(full[:cut])
		assert.ErrorIs(t, err, ErrIncomplete, "cut at %d", cut)
	}
}

func TestParseRequestSyntaxErrors(t *testing.T) {
	cases := []string{
		"BOGUS /a\r\n0 \r\n",
		"QUIT extra\r\n0 \r\n",
		"WRITE /a\r\n-1 \r\n",
		"WRITE /a\r\nxyz \r\n",
	}
	for _, c := range cases {
		_, _, err := ParseRequest([]byte(c))
		assert.ErrorIs(t, err, ErrSyntax, c)
	}
}

func TestParseRequestConcatenation(t *testing.T) {
	a, err := EmitRequest(CmdOpen, "/a", nil)
	require.NoError(t, err)
	b, err := EmitRequest(CmdClose, "/a", nil)
	require.NoError(t, err)

	buf := append(append([]byte{}, a...), b...)

	req1, n1, err := ParseRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, CmdOpen, req1.Cmd)

	req2, n2, err := ParseRequest(buf[n1:])
	require.NoError(t, err)
	assert.Equal(t, CmdClose, req2.Cmd)
	assert.Equal(t, len(buf), n1+n2)
}

func TestEmitParseResponseRoundTrip(t *testing.T) {
	raw, err := EmitResponse(CodeSuccess, "OK", []byte("payload"))
	require.NoError(t, err)

	resp, n, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), n)
	assert.Equal(t, CodeSuccess, resp.Code)
	assert.Equal(t, "OK", resp.Descr)
	assert.Equal(t, []byte("payload"), resp.Data)
}

func TestEmitParseRecords(t *testing.T) {
	records := []Record{
		{Pathname: "/a", Size: 5, Data: []byte("hello")},
		{Pathname: "/b", Size: 0, Data: nil},
	}

	encoded, err := EmitRecords(records)
	require.NoError(t, err)

	parsed, err := ParseDataField(encoded)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "/a", parsed[0].Pathname)
	assert.Equal(t, 5, parsed[0].Size)
	assert.Equal(t, []byte("hello"), parsed[0].Data)
	assert.Equal(t, "/b", parsed[1].Pathname)
	assert.Equal(t, 0, parsed[1].Size)
}

func TestEmitOversizeData(t *testing.T) {
	_, err := EmitResponse(CodeSuccess, "OK", make([]byte, MaxBuf+1))
	assert.True(t, errors.Is(err, ErrBufferCapExceed))
}
