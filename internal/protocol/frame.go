package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/bigbag/cviload/internal/checksum"
)

// Header is a decoded 8-byte frame header.
type Header struct {
	Command   byte
	TotalSize uint16
	Address   uint64
}

// BodyLen returns the body length announced by the header.
func (h Header) BodyLen() int {
	return int(h.TotalSize) - HeaderSize
}

// ChecksumMismatchError reports a response whose echoed checksum does not
// match the checksum of the frame that was sent.
type ChecksumMismatchError struct {
	Command  byte
	Address  uint64
	Expected uint16
	Actual   uint16
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s at 0x%X: expected 0x%04X, got 0x%04X",
		CommandName(e.Command), e.Address, e.Expected, e.Actual)
}

// EncodeHeader serializes a frame header.
func EncodeHeader(cmd byte, bodyLen int, addr uint64) ([]byte, error) {
	// Header format:
	// 0: command
	// 1-2: total size, header included (big-endian)
	// 3-7: low 40 bits of the address (big-endian)
	if bodyLen < 0 || bodyLen > MaxBodySize {
		return nil, fmt.Errorf("body length %d out of range 0-%d", bodyLen, MaxBodySize)
	}

	header := make([]byte, HeaderSize)
	header[0] = cmd
	binary.BigEndian.PutUint16(header[1:3], uint16(bodyLen+HeaderSize))

	var wide [8]byte
	binary.BigEndian.PutUint64(wide[:], addr&AddressMask)
	copy(header[3:8], wide[3:8])

	return header, nil
}

// DecodeHeader parses the first 8 bytes of a frame.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: %d bytes", len(data))
	}

	var wide [8]byte
	copy(wide[3:8], data[3:8])

	h := Header{
		Command:   data[0],
		TotalSize: binary.BigEndian.Uint16(data[1:3]),
		Address:   binary.BigEndian.Uint64(wide[:]),
	}
	if h.TotalSize < HeaderSize {
		return Header{}, fmt.Errorf("invalid total size: %d", h.TotalSize)
	}

	return h, nil
}

// BuildFrame returns header || body.
func BuildFrame(cmd byte, addr uint64, body []byte) ([]byte, error) {
	header, err := EncodeHeader(cmd, len(body), addr)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)
	return frame, nil
}

// ValidateResponse checks the checksum echoed in resp against the checksum
// of sent and returns the response token.
func ValidateResponse(sent, resp []byte) (byte, error) {
	if len(resp) != ResponseSize {
		return 0, fmt.Errorf("response size mismatch: expected %d, have %d", ResponseSize, len(resp))
	}

	expected := checksum.Sum(sent)
	actual := uint16(resp[RspChecksumHiOffset])<<8 | uint16(resp[RspChecksumLoOffset])
	if actual != expected {
		e := &ChecksumMismatchError{Expected: expected, Actual: actual}
		if h, err := DecodeHeader(sent); err == nil {
			e.Command = h.Command
			e.Address = h.Address
		}
		return 0, e
	}

	return resp[RspTokenOffset], nil
}
