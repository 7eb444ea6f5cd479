//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import "fmt"

// IsFaissAvailable reports whether FAISS support is compiled in.
// Build with -tags=faiss to enable it.
func IsFaissAvailable() bool { return false }

func newFaissIndex(dimensions, nlist, nprobe int) (Index, error) {
	return nil, fmt.Errorf("FAISS not available: build with -tags=faiss and install the FAISS library")
}

func loadFaissFile(path string) (Index, error) {
	return nil, fmt.Errorf("index file %s is not in native format and FAISS support is not compiled in", path)
}
