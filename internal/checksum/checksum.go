package checksum

import "github.com/sigurn/crc16"

// Sentinel bytes stored above every embedded boot header checksum.
const (
	SentinelHi = 0xCA
	SentinelLo = 0xFE
)

// The ROM loader uses CRC-16 with polynomial 0x1021, zero initial value,
// no reflection and no final XOR (the XMODEM parameter set).
var table = crc16.MakeTable(crc16.CRC16_XMODEM)

// Sum returns the 16-bit checksum of data.
func Sum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

// Sentinel returns the 4-byte (lo, hi, 0xCA, 0xFE) tuple the boot header
// uses to store a checksum.
func Sentinel(sum uint16) [4]byte {
	return [4]byte{byte(sum), byte(sum >> 8), SentinelHi, SentinelLo}
}

// FromSentinel extracts the checksum from a stored tuple and reports
// whether the sentinel bytes are intact.
func FromSentinel(b [4]byte) (uint16, bool) {
	return uint16(b[0]) | uint16(b[1])<<8, b[2] == SentinelHi && b[3] == SentinelLo
}
