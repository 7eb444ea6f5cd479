//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexIVF_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
#include <faiss/c_api/index_factory_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unsafe"
)

// faissIndex wraps a FAISS IVF+PQ index built through the index factory.
// Vector ids are positional, matching FAISS's own sequential labels.
type faissIndex struct {
	index      *C.FaissIndex
	dimensions int
	nprobe     int
	mu         sync.RWMutex
}

// IsFaissAvailable reports whether FAISS support is compiled in.
func IsFaissAvailable() bool { return true }

func newFaissIndex(dimensions, nlist, nprobe int) (Index, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if nlist <= 0 {
		return nil, fmt.Errorf("nlist must be positive")
	}
	desc := C.CString(fmt.Sprintf("IVF%d,PQ64", nlist))
	defer C.free(unsafe.Pointer(desc))

	var index *C.FaissIndex
	ret := C.faiss_index_factory(&index, C.int(dimensions), desc, C.METRIC_INNER_PRODUCT)
	if ret != 0 {
		return nil, fmt.Errorf("create FAISS index: %s", faissLastError())
	}
	idx := &faissIndex{index: index, dimensions: dimensions, nprobe: nprobe}
	idx.applyNProbe()
	return idx, nil
}

func loadFaissFile(path string) (Index, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var index *C.FaissIndex
	ret := C.faiss_read_index_fname(cPath, 0, &index)
	if ret != 0 {
		return nil, fmt.Errorf("load FAISS index: %s", faissLastError())
	}
	idx := &faissIndex{
		index:      index,
		dimensions: int(C.faiss_Index_d(index)),
		nprobe:     32,
	}
	idx.applyNProbe()
	return idx, nil
}

func (f *faissIndex) applyNProbe() {
	if ivf := C.faiss_IndexIVF_cast(f.index); ivf != nil {
		C.faiss_IndexIVF_set_nprobe(ivf, C.size_t(f.nprobe))
	}
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *faissIndex) Mode() Mode { return ModeCompressed }

func (f *faissIndex) NeedsTraining() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return C.faiss_Index_is_trained(f.index) == 0
}

func (f *faissIndex) Train(ctx context.Context, samples [][]float32) error {
	if len(samples) == 0 {
		return fmt.Errorf("training sample is empty")
	}
	flat, err := f.flatten(samples)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := C.faiss_Index_train(f.index, C.idx_t(len(samples)), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("train FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissIndex) Add(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	flat, err := f.flatten(vectors)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := C.faiss_Index_add(f.index, C.idx_t(len(vectors)), (*C.float)(unsafe.Pointer(&flat[0])))
	if ret != 0 {
		return fmt.Errorf("add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 {
		return nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil
	}
	if k > ntotal {
		k = ntotal
	}
	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search: %s", faissLastError())
	}
	hits := make([]Hit, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		hits = append(hits, Hit{ID: labels[i], Score: distances[i]})
	}
	return hits, nil
}

func (f *faissIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

func (f *faissIndex) Truncate(size int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if size < 0 || size > ntotal {
		return fmt.Errorf("truncate size %d out of range [0, %d]", size, ntotal)
	}
	if size == ntotal {
		return nil
	}
	var sel *C.FaissIDSelectorRange
	if ret := C.faiss_IDSelectorRange_new(&sel, C.idx_t(size), C.idx_t(ntotal)); ret != 0 {
		return fmt.Errorf("create id selector: %s", faissLastError())
	}
	defer C.faiss_IDSelectorRange_free(sel)
	var removed C.size_t
	ret := C.faiss_Index_remove_ids(f.index, (*C.FaissIDSelector)(unsafe.Pointer(sel)), &removed)
	if ret != 0 {
		return fmt.Errorf("remove ids from FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	ret := C.faiss_write_index_fname(f.index, cPath)
	if ret != 0 {
		return fmt.Errorf("save FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

func (f *faissIndex) flatten(vectors [][]float32) ([]float32, error) {
	flat := make([]float32, len(vectors)*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return nil, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
		}
		copy(flat[i*f.dimensions:(i+1)*f.dimensions], vec)
	}
	return flat, nil
}
