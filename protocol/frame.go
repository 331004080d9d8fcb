package protocol

import "errors"

var (
	errNeedMore   = errors.New("incomplete block")
	errBadFrame   = errors.New("malformed block")
	ErrTooLong    = errors.New("block exceeds MessageLengthMax")
	ErrClosed     = errors.New("transport stopped")
	ErrAckTimeout = errors.New("ACK timeout")
)

// Message is one parsed block
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Block data without header/trailer
	CRC      uint16
}

// scanBlock checks whether data starts with a complete, valid block and
// returns the block length. errNeedMore asks for more input; errBadFrame
// means the stream has lost sync.
func scanBlock(data []byte) (int, error) {
	if len(data) < MessageLengthMin {
		return 0, errNeedMore
	}

	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return 0, errBadFrame
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, errBadFrame
	}
	if len(data) < n {
		return 0, errNeedMore
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return 0, errBadFrame
	}

	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return 0, errBadFrame
	}
	return n, nil
}

// skipToSync drops everything up to and including the next sync byte.
// It returns nil when no sync byte is present.
func skipToSync(data []byte) ([]byte, bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// AppendBlock appends a complete block carrying payload to dst
func AppendBlock(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	n := MessageHeaderSize + len(payload) + MessageTrailerSize
	if n > MessageLengthMax {
		return dst, ErrTooLong
	}

	start := len(dst)
	dst = append(dst, uint8(n), seq)
	dst = append(dst, payload...)
	dst = putCRC(dst, CRC16(dst[start:]))
	return append(dst, MessageValueSync), nil
}
