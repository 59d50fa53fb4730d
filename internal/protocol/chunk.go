package protocol

// Chunks splits data into consecutive slices of at most size bytes.
// The slices share data's backing array.
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}

	chunks := make([][]byte, 0, ChunkCount(len(data), size))
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// ChunkCount returns how many chunks of size bytes cover n bytes.
func ChunkCount(n, size int) int {
	if size <= 0 || n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
