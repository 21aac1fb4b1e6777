package ring

import "math/bits"

// Own copies p into fresh power-of-two storage and returns a Slice over it.
// Synthesized frames (sub-requests of a fan-out, canned replies) get the same
// shape as frames living in a connection ring, so downstream code never
// branches on provenance.
func Own(p []byte) Slice {
	capacity := 1 << bits.Len(uint(max(len(p), 1)-1))
	if capacity < 2 {
		capacity = 2
	}
	data := make([]byte, capacity)
	copy(data, p)
	return Slice{data: data, mask: uint64(capacity - 1), size: len(p)}
}
