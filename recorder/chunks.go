package recorder

import "hash/crc32"

// SplitChunks cuts data into notification payloads of at most size bytes
func SplitChunks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

// Checksum is the CRC32 logged for each file sent, so a transfer can be
// matched against the received recording
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// SampleFiles builds n recordings of size bytes with distinct contents
func SampleFiles(n, size int) [][]byte {
	files := make([][]byte, n)
	for i := range files {
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i*31 + j)
		}
		files[i] = data
	}
	return files
}
