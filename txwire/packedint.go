package txwire

import "io"

// EncodePackedUint32 encodes v using the classic 7-bit continuation scheme:
// the most significant non-empty 7-bit group is emitted first, every byte
// but the last carries the continuation bit (0x80). The result is always
// between 1 and 5 bytes.
func EncodePackedUint32(v uint32) []byte {
	var groups [5]byte
	n := 0
	tmp := v
	for {
		groups[n] = byte(tmp & 0x7f)
		tmp >>= 7
		n++
		if tmp == 0 {
			break
		}
	}

	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = groups[n-1-i]
		if i != n-1 {
			out[i] |= 0x80
		}
	}
	return out
}

// DecodePackedUint32 reads a packed-u32 from r, rejecting sequences longer
// than 5 bytes.
func DecodePackedUint32(r io.ByteReader) (uint32, error) {
	var v uint32
	for i := 0; i < 5; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = (v << 7) | uint32(b&0x7f)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, ErrPackedIntTooLong
}
