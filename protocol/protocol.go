// Package protocol implements the framed serial link between the ranger
// firmware and its host: VLQ-encoded arguments inside CRC16-checked blocks.
package protocol

// Block layout: [len][seq] payload [crc hi][crc lo][sync]
const (
	MessageMax         = 512 // Scratch output capacity (several blocks)
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Sequence numbers cycle through the low nibble; the high nibble is MessageDest
	MessageSeqMask = 0x0F
)

// nextSeq advances a sequence number within the 0x10-0x1F window
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
