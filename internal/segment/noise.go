package segment

// NoiseTracker holds the most recent Bit classified as [Noise]. The zero
// value holds no reference.
type NoiseTracker struct {
	ref []float32
	ok  bool
}

// Update replaces the stored reference with a copy of bit. The previous
// reference is discarded, never blended.
func (n *NoiseTracker) Update(bit []float32) {
	if cap(n.ref) >= len(bit) {
		n.ref = n.ref[:len(bit)]
	} else {
		n.ref = make([]float32, len(bit))
	}
	copy(n.ref, bit)
	n.ok = true
}

// Current returns the stored reference and true, or nil and false when no
// noise has been observed yet. The returned slice is only valid until the
// next Update.
func (n *NoiseTracker) Current() ([]float32, bool) {
	if !n.ok {
		return nil, false
	}
	return n.ref, true
}

// Clear forgets the stored reference.
func (n *NoiseTracker) Clear() {
	n.ref = n.ref[:0]
	n.ok = false
}
