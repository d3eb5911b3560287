package txwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []*Message{
		{RequestID: 7, OpCode: OpUTBegin, Params: []Param{
			ParamUnsigned(ParamTxnContext, 7),
			ParamUnsigned(ParamTxnTimeout, 30),
		}},
		{RequestID: 0xffff, OpCode: OpRespUTCommit},
		{RequestID: 1, OpCode: OpRespUTRollback, Params: []Param{
			{ID: ParamUTRbExc, Value: nil},
		}},
	}

	for _, msg := range cases {
		var buf bytes.Buffer
		var w MessageWriter
		require.NoError(t, w.WriteMessage(&buf, msg))

		got, err := (MessageReader{}).ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, msg.RequestID, got.RequestID)
		require.Equal(t, msg.OpCode, got.OpCode)
		require.Len(t, got.Params, len(msg.Params))
		for i, p := range msg.Params {
			require.Equal(t, p.ID, got.Params[i].ID)
			require.Equal(t, p.Value, got.Params[i].Value)
		}
	}
}

func TestHappyPathBeginWireShape(t *testing.T) {
	msg := &Message{
		RequestID: 7,
		OpCode:    OpUTBegin,
		Params: []Param{
			ParamUnsigned(ParamTxnContext, 7),
			ParamUnsigned(ParamTxnTimeout, 30),
		},
	}

	var buf bytes.Buffer
	var w MessageWriter
	require.NoError(t, w.WriteMessage(&buf, msg))

	want := []byte{
		0x00, 0x07, // request id
		byte(OpUTBegin),
		byte(ParamTxnContext), 0x01, 0x07,
		byte(ParamTxnTimeout), 0x01, 0x1e,
	}
	require.Equal(t, want, buf.Bytes())
}

func TestReadMessageTruncatedParameter(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, byte(OpRespUTBegin), byte(ParamUTIsExc), 0x05})
	_, err := (MessageReader{}).ReadMessage(&buf)
	require.ErrorIs(t, err, ErrProtocol)
}
