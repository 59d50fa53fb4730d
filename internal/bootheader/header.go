package bootheader

import (
	"bytes"
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"

	"github.com/bigbag/cviload/internal/checksum"
)

// DefaultMagic identifies the boot header format.
const DefaultMagic = "CVBL01\n\x00"

// Params holds the board-specific constants of a boot header.
type Params struct {
	Magic          [8]byte
	BLCPImgRunAddr uint32
	Param2LoadAddr uint32
	ChipConf       [ChipConfPrefixSize]byte
}

// ParameterBlock is the boot parameter block that follows the record header.
// Key and signature slots stay zero: images are not signed.
type ParameterBlock struct {
	NANDInfo          [128]byte
	NORInfo           [36]byte
	FIPFlags          [8]byte
	ChipConfSize      uint32
	BLCPImgChecksum   [4]byte
	BLCPImgSize       uint32
	BLCPImgRunAddr    uint32
	BLCPParamLoadAddr uint32
	BLCPParamSize     uint32
	BL2ImgChecksum    [4]byte
	BL2ImgSize        uint32
	BLDImgSize        uint32
	Param2LoadAddr    uint32
	Reserved1         [4]byte
	ChipConf          [ChipConfSize]byte
	BLEK              [32]byte
	RootPK            [KeySlotSize]byte
	BLPK              [KeySlotSize]byte
	BLPKSig           [KeySlotSize]byte
	ChipConfSig       [KeySlotSize]byte
	BL2ImgSig         [KeySlotSize]byte
	BLCPImgSig        [KeySlotSize]byte
}

// MarshalBinary encodes the block into BlockSize bytes.
func (p *ParameterBlock) MarshalBinary() ([]byte, error) {
	w := newWriter(BlockSize)
	w.put(fNANDInfo, p.NANDInfo[:])
	w.put(fNORInfo, p.NORInfo[:])
	w.put(fFIPFlags, p.FIPFlags[:])
	w.putUint32(fChipConfSize, p.ChipConfSize)
	w.put(fBLCPImgChecksum, p.BLCPImgChecksum[:])
	w.putUint32(fBLCPImgSize, p.BLCPImgSize)
	w.putUint32(fBLCPImgRunAddr, p.BLCPImgRunAddr)
	w.putUint32(fBLCPParamLoadAddr, p.BLCPParamLoadAddr)
	w.putUint32(fBLCPParamSize, p.BLCPParamSize)
	w.put(fBL2ImgChecksum, p.BL2ImgChecksum[:])
	w.putUint32(fBL2ImgSize, p.BL2ImgSize)
	w.putUint32(fBLDImgSize, p.BLDImgSize)
	w.putUint32(fParam2LoadAddr, p.Param2LoadAddr)
	w.put(fReserved1, p.Reserved1[:])
	w.put(fChipConf, p.ChipConf[:])
	w.put(fBLEK, p.BLEK[:])
	w.put(fRootPK, p.RootPK[:])
	w.put(fBLPK, p.BLPK[:])
	w.put(fBLPKSig, p.BLPKSig[:])
	w.put(fChipConfSig, p.ChipConfSig[:])
	w.put(fBL2ImgSig, p.BL2ImgSig[:])
	w.put(fBLCPImgSig, p.BLCPImgSig[:])
	return w.bytes()
}

// UnmarshalBinary decodes a BlockSize-byte block.
func (p *ParameterBlock) UnmarshalBinary(data []byte) error {
	if len(data) != BlockSize {
		return fmt.Errorf("parameter block is %d bytes, want %d", len(data), BlockSize)
	}

	r := &reader{buf: data}
	r.get(fNANDInfo, p.NANDInfo[:])
	r.get(fNORInfo, p.NORInfo[:])
	r.get(fFIPFlags, p.FIPFlags[:])
	p.ChipConfSize = r.uint32(fChipConfSize)
	r.get(fBLCPImgChecksum, p.BLCPImgChecksum[:])
	p.BLCPImgSize = r.uint32(fBLCPImgSize)
	p.BLCPImgRunAddr = r.uint32(fBLCPImgRunAddr)
	p.BLCPParamLoadAddr = r.uint32(fBLCPParamLoadAddr)
	p.BLCPParamSize = r.uint32(fBLCPParamSize)
	r.get(fBL2ImgChecksum, p.BL2ImgChecksum[:])
	p.BL2ImgSize = r.uint32(fBL2ImgSize)
	p.BLDImgSize = r.uint32(fBLDImgSize)
	p.Param2LoadAddr = r.uint32(fParam2LoadAddr)
	r.get(fReserved1, p.Reserved1[:])
	r.get(fChipConf, p.ChipConf[:])
	r.get(fBLEK, p.BLEK[:])
	r.get(fRootPK, p.RootPK[:])
	r.get(fBLPK, p.BLPK[:])
	r.get(fBLPKSig, p.BLPKSig[:])
	r.get(fChipConfSig, p.ChipConfSig[:])
	r.get(fBL2ImgSig, p.BL2ImgSig[:])
	r.get(fBLCPImgSig, p.BLCPImgSig[:])
	return r.err()
}

// Checksum returns the checksum of the covered part of the block.
func (p *ParameterBlock) Checksum() (uint16, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	return checksum.Sum(data[:CoveredSize]), nil
}

// Record is the boot header envelope the ROM loader reads before the image.
type Record struct {
	Magic         [8]byte
	MagicPad      [4]byte
	ParamChecksum [4]byte
	Params        ParameterBlock
}

// New builds the record describing payload.
func New(payload []byte, p Params) (*Record, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("payload of %d bytes does not fit the image size field", len(payload))
	}

	r := &Record{Magic: p.Magic}
	r.Params.BLCPImgRunAddr = p.BLCPImgRunAddr
	r.Params.Param2LoadAddr = p.Param2LoadAddr
	copy(r.Params.ChipConf[:], p.ChipConf[:])
	r.Params.BL2ImgSize = uint32(len(payload))
	r.Params.BL2ImgChecksum = checksum.Sentinel(checksum.Sum(payload))

	if err := r.Seal(); err != nil {
		return nil, err
	}
	return r, nil
}

// Build returns the exported ExportSize-byte header for payload.
func Build(payload []byte, p Params) ([]byte, error) {
	r, err := New(payload, p)
	if err != nil {
		return nil, err
	}
	return r.Bytes()
}

// Seal recomputes the parameter block checksum.
func (r *Record) Seal() error {
	sum, err := r.Params.Checksum()
	if err != nil {
		return fmt.Errorf("failed to checksum parameter block: %w", err)
	}
	r.ParamChecksum = checksum.Sentinel(sum)
	return nil
}

// MarshalBinary encodes the full RecordSize-byte record.
func (r *Record) MarshalBinary() ([]byte, error) {
	block, err := r.Params.MarshalBinary()
	if err != nil {
		return nil, err
	}

	w := newWriter(RecordSize)
	w.put(fMagic, r.Magic[:])
	w.put(fMagicPad, r.MagicPad[:])
	w.put(fParamChecksum, r.ParamChecksum[:])
	w.put(fParams, block)
	return w.bytes()
}

// Bytes returns the ExportSize bytes sent to the ROM loader.
func (r *Record) Bytes() ([]byte, error) {
	data, err := r.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return data[:ExportSize], nil
}

// Parse decodes an exported or full record. The trailer missing from an
// exported record reads as zero.
func Parse(data []byte) (*Record, error) {
	switch len(data) {
	case RecordSize:
	case ExportSize:
		full := make([]byte, RecordSize)
		copy(full, data)
		data = full
	default:
		return nil, fmt.Errorf("boot header is %d bytes, want %d or %d", len(data), ExportSize, RecordSize)
	}

	r := &Record{}
	rd := &reader{buf: data}
	rd.get(fMagic, r.Magic[:])
	rd.get(fMagicPad, r.MagicPad[:])
	rd.get(fParamChecksum, r.ParamChecksum[:])
	if err := rd.err(); err != nil {
		return nil, err
	}

	if err := r.Params.UnmarshalBinary(data[fParams.offset:fParams.end()]); err != nil {
		return nil, err
	}
	return r, nil
}

// ChecksumError reports a stored checksum that does not match the data.
type ChecksumError struct {
	Field    string
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s checksum mismatch: expected 0x%04X, stored 0x%04X", e.Field, e.Expected, e.Actual)
}

// Verify checks the magic and the parameter block checksum against magic.
func (r *Record) Verify(magic [8]byte) error {
	var result *multierror.Error

	if !bytes.Equal(r.Magic[:], magic[:]) {
		result = multierror.Append(result, fmt.Errorf("bad magic %q, want %q", r.Magic[:], magic[:]))
	}

	stored, ok := checksum.FromSentinel(r.ParamChecksum)
	if !ok {
		result = multierror.Append(result, fmt.Errorf("param_cksum sentinel missing: % X", r.ParamChecksum))
	}

	sum, err := r.Params.Checksum()
	if err != nil {
		result = multierror.Append(result, err)
	} else if sum != stored {
		result = multierror.Append(result, &ChecksumError{Field: fParamChecksum.name, Expected: sum, Actual: stored})
	}

	return result.ErrorOrNil()
}

// VerifyPayload checks that the record describes payload.
func (r *Record) VerifyPayload(payload []byte) error {
	var result *multierror.Error

	if uint64(r.Params.BL2ImgSize) != uint64(len(payload)) {
		result = multierror.Append(result, fmt.Errorf("bl2_img_size is %d, payload is %d bytes", r.Params.BL2ImgSize, len(payload)))
	}

	stored, ok := checksum.FromSentinel(r.Params.BL2ImgChecksum)
	if !ok {
		result = multierror.Append(result, fmt.Errorf("bl2_img_cksum sentinel missing: % X", r.Params.BL2ImgChecksum))
	}
	if sum := checksum.Sum(payload); sum != stored {
		result = multierror.Append(result, &ChecksumError{Field: fBL2ImgChecksum.name, Expected: sum, Actual: stored})
	}

	return result.ErrorOrNil()
}
