package payload

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

// Compressor decodes and encodes one compressed payload format.
type Compressor interface {
	Name() string
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

// XZ handles .xz payloads.
type XZ struct{}

// Name returns the type of compression employed.
func (c *XZ) Name() string {
	return "XZ"
}

// Decode decodes a byte slice of xz data.
func (c *XZ) Decode(encodedData []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Encode encodes a byte slice with xz.
func (c *XZ) Encode(decodedData []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LZ4 handles .lz4 frame payloads.
type LZ4 struct{}

// Name returns the type of compression employed.
func (c *LZ4) Name() string {
	return "LZ4"
}

// Decode decodes a byte slice of LZ4 data.
func (c *LZ4) Decode(encodedData []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(encodedData)))
}

// Encode encodes a byte slice with LZ4.
func (c *LZ4) Encode(decodedData []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Zstd handles .zst payloads.
type Zstd struct{}

// Name returns the type of compression employed.
func (c *Zstd) Name() string {
	return "ZSTD"
}

// Decode decodes a byte slice of zstd data.
func (c *Zstd) Decode(encodedData []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.DecodeAll(encodedData, nil)
}

// Encode encodes a byte slice with zstd.
func (c *Zstd) Encode(decodedData []byte) ([]byte, error) {
	w, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer w.Close()
	return w.EncodeAll(decodedData, nil), nil
}
