package audio

import "iter"

// Chunk splits payload into consecutive frames of frameBytes bytes. The last
// frame may be shorter. The sequence is lazy and can be ranged over more
// than once. frameBytes <= 0 yields the whole payload as one frame.
func Chunk(payload []byte, frameBytes int) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if len(payload) == 0 {
			return
		}
		if frameBytes <= 0 {
			yield(payload)
			return
		}
		for off := 0; off < len(payload); off += frameBytes {
			end := min(off+frameBytes, len(payload))
			if !yield(payload[off:end:end]) {
				return
			}
		}
	}
}

// FrameCount returns how many frames Chunk yields for a payload of n bytes.
func FrameCount(n, frameBytes int) int {
	if n <= 0 {
		return 0
	}
	if frameBytes <= 0 {
		return 1
	}
	return (n + frameBytes - 1) / frameBytes
}
