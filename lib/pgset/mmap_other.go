//go:build !linux

package pgset

// Fallback for platforms where we don't bother with a real mapping.

func mapPages(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages(data []byte) error {
	return nil
}
