package bootheader

import (
	"encoding/binary"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Record geometry
const (
	RecordSize       = 0x1000
	TrailerSize      = 0x10
	ExportSize       = RecordSize - TrailerSize
	RecordHeaderSize = 0x10
	BlockSize        = RecordSize - RecordHeaderSize
	CoveredSize      = 0x7F0

	ChipConfSize       = 760
	ChipConfPrefixSize = 24
	KeySlotSize        = 512
)

// field is a fixed byte range inside a buffer.
type field struct {
	name   string
	offset int
	size   int
}

func (f field) end() int {
	return f.offset + f.size
}

// Outer record fields.
var (
	fMagic         = field{"magic", 0x000, 8}
	fMagicPad      = field{"magic2", 0x008, 4}
	fParamChecksum = field{"param_cksum", 0x00C, 4}
	fParams        = field{"params", RecordHeaderSize, BlockSize}
)

// Parameter block fields, offsets relative to the block.
var (
	fNANDInfo          = field{"nand_info", 0x000, 128}
	fNORInfo           = field{"nor_info", 0x080, 36}
	fFIPFlags          = field{"fip_flags", 0x0A4, 8}
	fChipConfSize      = field{"chip_conf_size", 0x0AC, 4}
	fBLCPImgChecksum   = field{"blcp_img_cksum", 0x0B0, 4}
	fBLCPImgSize       = field{"blcp_img_size", 0x0B4, 4}
	fBLCPImgRunAddr    = field{"blcp_img_runaddr", 0x0B8, 4}
	fBLCPParamLoadAddr = field{"blcp_param_loadaddr", 0x0BC, 4}
	fBLCPParamSize     = field{"blcp_param_size", 0x0C0, 4}
	fBL2ImgChecksum    = field{"bl2_img_cksum", 0x0C4, 4}
	fBL2ImgSize        = field{"bl2_img_size", 0x0C8, 4}
	fBLDImgSize        = field{"bld_img_size", 0x0CC, 4}
	fParam2LoadAddr    = field{"param2_loadaddr", 0x0D0, 4}
	fReserved1         = field{"reserved1", 0x0D4, 4}
	fChipConf          = field{"chip_conf", 0x0D8, ChipConfSize}
	fBLEK              = field{"bl_ek", 0x3D0, 32}
	fRootPK            = field{"root_pk", 0x3F0, KeySlotSize}
	fBLPK              = field{"bl_pk", 0x5F0, KeySlotSize}
	fBLPKSig           = field{"bl_pk_sig", 0x7F0, KeySlotSize}
	fChipConfSig       = field{"chip_conf_sig", 0x9F0, KeySlotSize}
	fBL2ImgSig         = field{"bl2_img_sig", 0xBF0, KeySlotSize}
	fBLCPImgSig        = field{"blcp_img_sig", 0xDF0, KeySlotSize}
)

// blockFields lists the parameter block in layout order.
var blockFields = []field{
	fNANDInfo, fNORInfo, fFIPFlags, fChipConfSize,
	fBLCPImgChecksum, fBLCPImgSize, fBLCPImgRunAddr, fBLCPParamLoadAddr, fBLCPParamSize,
	fBL2ImgChecksum, fBL2ImgSize, fBLDImgSize, fParam2LoadAddr, fReserved1,
	fChipConf, fBLEK, fRootPK, fBLPK,
	fBLPKSig, fChipConfSig, fBL2ImgSig, fBLCPImgSig,
}

// RangeError reports a field that does not fit its buffer.
type RangeError struct {
	Field  string
	Offset int
	Size   int
	Length int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("field %s [0x%X, 0x%X) outside buffer of %d bytes",
		e.Field, e.Offset, e.Offset+e.Size, e.Length)
}

// SizeError reports a value whose length differs from its field.
type SizeError struct {
	Field string
	Want  int
	Got   int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("field %s: value is %d bytes, want %d", e.Field, e.Got, e.Want)
}

func checkRange(length int, f field) error {
	if f.offset < 0 || f.size < 0 || f.end() > length {
		return &RangeError{Field: f.name, Offset: f.offset, Size: f.size, Length: length}
	}
	return nil
}

// writer stores fields into buf and collects every failure.
type writer struct {
	buf  []byte
	errs *multierror.Error
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, size)}
}

func (w *writer) put(f field, src []byte) {
	if err := checkRange(len(w.buf), f); err != nil {
		w.errs = multierror.Append(w.errs, err)
		return
	}
	if len(src) != f.size {
		w.errs = multierror.Append(w.errs, &SizeError{Field: f.name, Want: f.size, Got: len(src)})
		return
	}
	copy(w.buf[f.offset:f.end()], src)
}

func (w *writer) putUint32(f field, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.put(f, b[:])
}

func (w *writer) bytes() ([]byte, error) {
	if err := w.errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// reader loads fields from buf and collects every failure.
type reader struct {
	buf  []byte
	errs *multierror.Error
}

func (r *reader) get(f field, dst []byte) {
	if err := checkRange(len(r.buf), f); err != nil {
		r.errs = multierror.Append(r.errs, err)
		return
	}
	if len(dst) != f.size {
		r.errs = multierror.Append(r.errs, &SizeError{Field: f.name, Want: f.size, Got: len(dst)})
		return
	}
	copy(dst, r.buf[f.offset:f.end()])
}

func (r *reader) uint32(f field) uint32 {
	var b [4]byte
	r.get(f, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func (r *reader) err() error {
	return r.errs.ErrorOrNil()
}
