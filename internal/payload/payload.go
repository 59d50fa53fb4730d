package payload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmpty is returned for a payload with no bytes to send.
var ErrEmpty = errors.New("payload is empty")

var byExtension = map[string]Compressor{
	".xz":  &XZ{},
	".lz4": &LZ4{},
	".zst": &Zstd{},
}

// CompressorFor returns the compressor matching the file extension of path,
// or nil for a raw image.
func CompressorFor(path string) Compressor {
	return byExtension[strings.ToLower(filepath.Ext(path))]
}

// Read loads the image at path, decompressing .xz, .lz4 and .zst files.
func Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	if c := CompressorFor(path); c != nil {
		data, err = c.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s payload %s: %w", c.Name(), path, err)
		}
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmpty)
	}
	return data, nil
}
