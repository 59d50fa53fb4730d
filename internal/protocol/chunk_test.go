package protocol

import (
	"bytes"
	"testing"
)

func TestChunks_WithRemainder(t *testing.T) {
	tests := []struct {
		k, r int
	}{
		{0, 1},
		{0, 255},
		{1, 1},
		{3, 17},
		{15, 240},
	}

	for _, tc := range tests {
		data := make([]byte, 256*tc.k+tc.r)
		chunks := Chunks(data, DefaultChunkSize)

		if len(chunks) != tc.k+1 {
			t.Fatalf("Chunks(%d bytes) count = %d, want %d", len(data), len(chunks), tc.k+1)
		}
		for i := 0; i < tc.k; i++ {
			if len(chunks[i]) != 256 {
				t.Errorf("Chunks(%d bytes)[%d] length = %d, want 256", len(data), i, len(chunks[i]))
			}
		}
		if last := chunks[tc.k]; len(last) != tc.r {
			t.Errorf("Chunks(%d bytes) last length = %d, want %d", len(data), len(last), tc.r)
		}
	}
}

func TestChunks_ExactMultiple(t *testing.T) {
	for _, k := range []int{1, 2, 16} {
		data := make([]byte, 256*k)
		chunks := Chunks(data, DefaultChunkSize)

		if len(chunks) != k {
			t.Fatalf("Chunks(%d bytes) count = %d, want %d", len(data), len(chunks), k)
		}
		for i, c := range chunks {
			if len(c) != 256 {
				t.Errorf("Chunks(%d bytes)[%d] length = %d, want 256", len(data), i, len(c))
			}
		}
	}
}

func TestChunks_PreservesOrder(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i % 251)
	}

	joined := bytes.Join(Chunks(data, DefaultChunkSize), nil)
	if !bytes.Equal(joined, data) {
		t.Error("Chunks() joined back does not equal input")
	}
}

func TestChunks_Empty(t *testing.T) {
	if chunks := Chunks(nil, DefaultChunkSize); len(chunks) != 0 {
		t.Errorf("Chunks(nil) count = %d, want 0", len(chunks))
	}
	if chunks := Chunks([]byte{1, 2, 3}, 0); chunks != nil {
		t.Errorf("Chunks(size=0) = %v, want nil", chunks)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		n, size  int
		expected int
	}{
		{0, 256, 0},
		{1, 256, 1},
		{256, 256, 1},
		{257, 256, 2},
		{4080, 256, 16},
		{4096, 256, 16},
		{10, 0, 0},
	}

	for _, tc := range tests {
		if result := ChunkCount(tc.n, tc.size); result != tc.expected {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tc.n, tc.size, result, tc.expected)
		}
	}
}
