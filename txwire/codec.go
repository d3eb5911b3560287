package txwire

import (
	"bufio"
	"encoding/binary"
	"io"
)

// MessageWriter encodes messages onto an io.Writer. It reuses its internal
// buffer across calls the way memdx.PacketWriter does, to avoid a fresh
// allocation for every outbound message.
type MessageWriter struct {
	buf []byte
}

// WriteMessage encodes a full message: request id, opcode, then each
// parameter's id/length/value in order. Parameter order on the wire is
// preserved exactly as given in msg.Params.
func (w *MessageWriter) WriteMessage(dst io.Writer, msg *Message) error {
	w.buf = w.buf[:0]
	w.buf = append(w.buf, byte(msg.RequestID>>8), byte(msg.RequestID))
	w.buf = append(w.buf, byte(msg.OpCode))

	for _, p := range msg.Params {
		if len(p.Value) > 0xffffffff {
			return protocolError{"parameter value too long to encode"}
		}
		w.buf = append(w.buf, byte(p.ID))
		w.buf = append(w.buf, EncodePackedUint32(uint32(len(p.Value)))...)
		w.buf = append(w.buf, p.Value...)
	}

	_, err := dst.Write(w.buf)
	return err
}

// MessageReader decodes messages from an io.Reader that is bounded to
// exactly one message's worth of bytes by the framing layer (out of scope
// for this package; see §6 of the specification).
type MessageReader struct{}

// ReadMessage decodes request id, opcode, and all trailing TLV parameters
// until the reader is exhausted.
func (MessageReader) ReadMessage(src io.Reader) (*Message, error) {
	br := toByteReader(src)

	hi, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	lo, err := br.ReadByte()
	if err != nil {
		return nil, err
	}
	opByte, err := br.ReadByte()
	if err != nil {
		return nil, err
	}

	msg := &Message{
		RequestID: binary.BigEndian.Uint16([]byte{hi, lo}),
		OpCode:    OpCode(opByte),
	}

	for {
		idByte, err := br.ReadByte()
		if err == io.EOF {
			return msg, nil
		}
		if err != nil {
			return nil, err
		}

		length, err := DecodePackedUint32(br)
		if err != nil {
			return nil, err
		}

		var value []byte
		if length > 0 {
			value = make([]byte, length)
			if _, err := io.ReadFull(br, value); err != nil {
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return nil, protocolError{"truncated parameter value"}
				}
				return nil, err
			}
		}

		msg.Params = append(msg.Params, Param{ID: ParamID(idByte), Value: value})
	}
}

// byteReader is the minimal interface ReadMessage needs: ReadByte for the
// packed-int codec, plus io.Reader for bulk value reads.
type byteReader interface {
	io.Reader
	io.ByteReader
}

func toByteReader(r io.Reader) byteReader {
	if br, ok := r.(byteReader); ok {
		return br
	}
	return bufio.NewReader(r)
}
