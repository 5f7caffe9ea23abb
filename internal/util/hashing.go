package util

import (
	"bytes"
	"crypto/sha256"
	"strconv"
)

// HashVector returns a stable digest of a vector's coordinates, used to
// deduplicate points without keeping them around.
func HashVector(vec []float64) [32]byte {
	buffer := GetBytesBuffer()
	defer PutBytesBuffer(buffer)
	writeVector(buffer, vec)
	return sha256.Sum256(buffer.Bytes())
}

// HashVectors digests a sequence of vectors, keeping vector boundaries
// significant: [[1 2]] and [[1] [2]] hash differently.
func HashVectors(vecs ...[]float64) [32]byte {
	buffer := GetBytesBuffer()
	defer PutBytesBuffer(buffer)
	for i := range vecs {
		writeVector(buffer, vecs[i])
		buffer.WriteByte('|')
	}
	return sha256.Sum256(buffer.Bytes())
}

func writeVector(buffer *bytes.Buffer, vec []float64) {
	for i := range vec {
		buffer.WriteString(strconv.FormatFloat(vec[i], 'g', 16, 64))
		buffer.WriteByte(';')
	}
}
