package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/bigbag/cviload/internal/checksum"
)

func TestEncodeHeader_Format(t *testing.T) {
	header, err := EncodeHeader(CmdTxDataToRAM, 256, 0x0102030405)
	if err != nil {
		t.Fatalf("EncodeHeader() error = %v", err)
	}

	expected := []byte{0x00, 0x01, 0x08, 0x01, 0x02, 0x03, 0x04, 0x05}
	if !bytes.Equal(header, expected) {
		t.Errorf("EncodeHeader() = %X, want %X", header, expected)
	}
}

func TestEncodeHeader_MasksAddressTo40Bits(t *testing.T) {
	header, err := EncodeHeader(CmdBreak, 0, 0xFFFFFF_0000000001)
	if err != nil {
		t.Fatalf("EncodeHeader() error = %v", err)
	}

	expected := []byte{0x02, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x01}
	if !bytes.Equal(header, expected) {
		t.Errorf("EncodeHeader() = %X, want %X", header, expected)
	}
}

func TestEncodeHeader_BodyTooLarge(t *testing.T) {
	for _, n := range []int{-1, MaxBodySize + 1, 1 << 20} {
		if _, err := EncodeHeader(CmdTxDataToRAM, n, 0); err == nil {
			t.Errorf("EncodeHeader(bodyLen=%d) expected error, got nil", n)
		}
	}

	if _, err := EncodeHeader(CmdTxDataToRAM, MaxBodySize, 0); err != nil {
		t.Errorf("EncodeHeader(bodyLen=%d) error = %v", MaxBodySize, err)
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	tests := []struct {
		cmd     byte
		bodyLen int
		addr    uint64
	}{
		{CmdTxDataToRAM, 0, 0},
		{CmdTxDataToRAM, 256, 0xFF00},
		{CmdTxFlag, 4, FlagAddress},
		{CmdBreak, 0, DummyAddress},
		{CmdKeepDownload, 12, DummyAddress},
		{CmdProgram, MaxBodySize, AddressMask},
		{CmdReboot, 1, 0x80800000},
	}

	for _, tc := range tests {
		header, err := EncodeHeader(tc.cmd, tc.bodyLen, tc.addr)
		if err != nil {
			t.Fatalf("EncodeHeader(0x%02X, %d, 0x%X) error = %v", tc.cmd, tc.bodyLen, tc.addr, err)
		}

		decoded, err := DecodeHeader(header)
		if err != nil {
			t.Fatalf("DecodeHeader(%X) error = %v", header, err)
		}

		if decoded.Command != tc.cmd {
			t.Errorf("DecodeHeader Command = 0x%02X, want 0x%02X", decoded.Command, tc.cmd)
		}
		if decoded.Address != tc.addr {
			t.Errorf("DecodeHeader Address = 0x%X, want 0x%X", decoded.Address, tc.addr)
		}
		if decoded.BodyLen() != tc.bodyLen {
			t.Errorf("DecodeHeader BodyLen = %d, want %d", decoded.BodyLen(), tc.bodyLen)
		}
	}
}

func TestDecodeHeader_Invalid(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x00, 0x00, 0x08},
		{0x00, 0x00, 0x07, 0x00, 0x00, 0x00, 0x00, 0x00},
	}

	for _, in := range inputs {
		if _, err := DecodeHeader(in); err == nil {
			t.Errorf("DecodeHeader(%X) expected error, got nil", in)
		}
	}
}

func TestBuildFrame_KeepDownloadHandshake(t *testing.T) {
	body := []byte{0x11, 0x22, 0x33, 0x44, 0x55}
	frame, err := BuildFrame(CmdKeepDownload, DummyAddress, body)
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}

	size := len(body) + 8
	expected := []byte{0x03, byte(size >> 8), byte(size), 0x00, 0x00, 0x00, 0x00, 0xFF}
	expected = append(expected, body...)
	if !bytes.Equal(frame, expected) {
		t.Errorf("BuildFrame() = %X, want %X", frame, expected)
	}
}

func TestBuildFrame_LongHandshakeSizeBytes(t *testing.T) {
	body := make([]byte, 0x1234)
	frame, err := BuildFrame(CmdKeepDownload, DummyAddress, body)
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}

	if frame[1] != 0x12 || frame[2] != 0x3C {
		t.Errorf("BuildFrame() size bytes = %02X %02X, want 12 3C", frame[1], frame[2])
	}
	if len(frame) != HeaderSize+len(body) {
		t.Errorf("BuildFrame() length = %d, want %d", len(frame), HeaderSize+len(body))
	}
}

func TestBuildFrame_BreakHasNoBody(t *testing.T) {
	frame, err := BuildFrame(CmdBreak, DummyAddress, nil)
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}

	expected := []byte{0x02, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0xFF}
	if !bytes.Equal(frame, expected) {
		t.Errorf("BuildFrame() = %X, want %X", frame, expected)
	}
}

func TestBuildFrame_BootFlag(t *testing.T) {
	frame, err := BuildFrame(CmdTxFlag, FlagAddress, FlagBootUSB[:])
	if err != nil {
		t.Fatalf("BuildFrame() error = %v", err)
	}

	expected := []byte{0x01, 0x00, 0x0C, 0x00, 0x0E, 0x00, 0x00, 0x04, '1', 'N', 'G', 'M'}
	if !bytes.Equal(frame, expected) {
		t.Errorf("BuildFrame() = %X, want %X", frame, expected)
	}
}

func echoResponse(frame []byte, token byte) []byte {
	resp := make([]byte, ResponseSize)
	sum := checksum.Sum(frame)
	resp[RspChecksumHiOffset] = byte(sum >> 8)
	resp[RspChecksumLoOffset] = byte(sum)
	resp[RspTokenOffset] = token
	return resp
}

func TestValidateResponse_Match(t *testing.T) {
	frame, _ := BuildFrame(CmdTxDataToRAM, 0x100, []byte{0xAA, 0xBB})
	resp := echoResponse(frame, 0x5A)

	token, err := ValidateResponse(frame, resp)
	if err != nil {
		t.Fatalf("ValidateResponse() error = %v", err)
	}
	if token != 0x5A {
		t.Errorf("ValidateResponse() token = 0x%02X, want 0x5A", token)
	}
}

func TestValidateResponse_IgnoresOtherBytes(t *testing.T) {
	frame, _ := BuildFrame(CmdBreak, DummyAddress, nil)
	resp := echoResponse(frame, 0x01)
	for _, i := range []int{0, 1, 4, 5, 7, 15} {
		resp[i] = 0xEE
	}

	if _, err := ValidateResponse(frame, resp); err != nil {
		t.Errorf("ValidateResponse() error = %v", err)
	}
}

func TestValidateResponse_Mismatch(t *testing.T) {
	frame, _ := BuildFrame(CmdTxDataToRAM, 0x200, []byte{0x01})
	resp := echoResponse(frame, 0)
	resp[RspChecksumLoOffset] ^= 0xFF

	_, err := ValidateResponse(frame, resp)
	if err == nil {
		t.Fatal("ValidateResponse() expected error, got nil")
	}

	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("ValidateResponse() error = %T, want *ChecksumMismatchError", err)
	}

	want := checksum.Sum(frame)
	if mismatch.Expected != want {
		t.Errorf("Expected = 0x%04X, want 0x%04X", mismatch.Expected, want)
	}
	if mismatch.Actual != want^0x00FF {
		t.Errorf("Actual = 0x%04X, want 0x%04X", mismatch.Actual, want^0x00FF)
	}
	if mismatch.Command != CmdTxDataToRAM || mismatch.Address != 0x200 {
		t.Errorf("mismatch frame = (0x%02X, 0x%X), want (0x00, 0x200)", mismatch.Command, mismatch.Address)
	}
	if !strings.Contains(err.Error(), "tx-data-to-ram") {
		t.Errorf("error = %q, should name the command", err.Error())
	}
}

func TestValidateResponse_WrongSize(t *testing.T) {
	frame, _ := BuildFrame(CmdBreak, DummyAddress, nil)
	for _, n := range []int{0, 8, 15, 17} {
		if _, err := ValidateResponse(frame, make([]byte, n)); err == nil {
			t.Errorf("ValidateResponse(%d-byte response) expected error, got nil", n)
		}
	}
}
