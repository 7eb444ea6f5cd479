package vector

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// kmeansIterations bounds Lloyd's algorithm during training. Assignments
// typically stabilize well before this on normalized embeddings.
const kmeansIterations = 10

// IVFIndex is an inverted-file index. Training partitions the vector space
// into nlist cells via k-means; each vector is stored in the cell of its
// nearest centroid, and queries scan only the nprobe closest cells. Results
// are approximate but searches touch a small fraction of the corpus.
type IVFIndex struct {
	dimensions int
	nlist      int
	nprobe     int
	centroids  [][]float32
	listIDs    [][]int64
	listVecs   [][][]float32
	size       int
	trained    bool
	mu         sync.RWMutex
}

// NewIVFIndex creates an untrained inverted-file index.
func NewIVFIndex(dimensions, nlist, nprobe int) (*IVFIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if nlist <= 0 {
		return nil, fmt.Errorf("nlist must be positive")
	}
	if nprobe <= 0 {
		nprobe = 1
	}
	if nprobe > nlist {
		nprobe = nlist
	}
	return &IVFIndex{
		dimensions: dimensions,
		nlist:      nlist,
		nprobe:     nprobe,
	}, nil
}

// Mode returns ModeCompressed.
func (v *IVFIndex) Mode() Mode { return ModeCompressed }

// NeedsTraining reports whether the index still has to be trained.
func (v *IVFIndex) NeedsTraining() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return !v.trained
}

// Train runs k-means over the sample to place the coarse centroids.
// Initial centroids are taken at even strides through the sample, so training
// is deterministic for a given input.
func (v *IVFIndex) Train(ctx context.Context, samples [][]float32) error {
	if len(samples) == 0 {
		return fmt.Errorf("training sample is empty")
	}
	for _, s := range samples {
		if len(s) != v.dimensions {
			return fmt.Errorf("sample dimension mismatch: got %d, expected %d", len(s), v.dimensions)
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.trained {
		return fmt.Errorf("index already trained")
	}
	nlist := v.nlist
	if nlist > len(samples) {
		nlist = len(samples)
	}

	centroids := make([][]float32, nlist)
	for i := range centroids {
		c := make([]float32, v.dimensions)
		copy(c, samples[i*len(samples)/nlist])
		centroids[i] = c
	}

	assign := make([]int, len(samples))
	for iter := 0; iter < kmeansIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed := false
		for i, s := range samples {
			best := nearestCentroid(centroids, s)
			if best != assign[i] {
				assign[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		sums := make([][]float64, nlist)
		counts := make([]int, nlist)
		for i := range sums {
			sums[i] = make([]float64, v.dimensions)
		}
		for i, s := range samples {
			c := assign[i]
			counts[c]++
			for j, val := range s {
				sums[c][j] += float64(val)
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue
			}
			for j := range centroids[i] {
				centroids[i][j] = float32(sums[i][j] / float64(counts[i]))
			}
			Normalize(centroids[i])
		}
	}

	v.nlist = nlist
	if v.nprobe > nlist {
		v.nprobe = nlist
	}
	v.centroids = centroids
	v.listIDs = make([][]int64, nlist)
	v.listVecs = make([][][]float32, nlist)
	v.trained = true
	return nil
}

// Add appends vectors at the next positional ids, routing each to the cell
// of its nearest centroid.
func (v *IVFIndex) Add(ctx context.Context, vectors [][]float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.trained {
		return fmt.Errorf("index is not trained")
	}
	for _, vec := range vectors {
		if len(vec) != v.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), v.dimensions)
		}
		stored := make([]float32, v.dimensions)
		copy(stored, vec)
		cell := nearestCentroid(v.centroids, stored)
		v.listIDs[cell] = append(v.listIDs[cell], int64(v.size))
		v.listVecs[cell] = append(v.listVecs[cell], stored)
		v.size++
	}
	return nil
}

// Search scans the nprobe cells closest to the query and returns the top-k
// hits by inner product, equal scores ordered by ascending id.
func (v *IVFIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != v.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), v.dimensions)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.trained {
		return nil, fmt.Errorf("index is not trained")
	}
	if k <= 0 || v.size == 0 {
		return nil, nil
	}

	cellScores := make([]Hit, len(v.centroids))
	for i, c := range v.centroids {
		cellScores[i] = Hit{ID: int64(i), Score: InnerProduct(query, c)}
	}
	sort.Slice(cellScores, func(i, j int) bool { return cellScores[i].Score > cellScores[j].Score })
	probe := v.nprobe
	if probe > len(cellScores) {
		probe = len(cellScores)
	}

	var hits []Hit
	for _, cell := range cellScores[:probe] {
		ids := v.listIDs[cell.ID]
		vecs := v.listVecs[cell.ID]
		for i, id := range ids {
			hits = append(hits, Hit{ID: id, Score: InnerProduct(query, vecs[i])})
		}
	}
	sortHits(hits)
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Size returns the number of vectors in the index.
func (v *IVFIndex) Size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.size
}

// Truncate discards the vectors with ids size and above from every inverted
// list.
func (v *IVFIndex) Truncate(size int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if size < 0 || size > v.size {
		return fmt.Errorf("truncate size %d out of range [0, %d]", size, v.size)
	}
	if size == v.size {
		return nil
	}
	for cell := range v.listIDs {
		ids := v.listIDs[cell][:0]
		vecs := v.listVecs[cell][:0]
		for i, id := range v.listIDs[cell] {
			if id < int64(size) {
				ids = append(ids, id)
				vecs = append(vecs, v.listVecs[cell][i])
			}
		}
		v.listIDs[cell] = ids
		v.listVecs[cell] = vecs
	}
	v.size = size
	return nil
}

// Save persists centroids and inverted lists to path.
func (v *IVFIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if path == "" {
		return nil
	}
	if !v.trained {
		return fmt.Errorf("cannot save untrained index")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer file.Close()
	w := bufio.NewWriter(file)
	if err := writeHeader(w, modeByteCompressed); err != nil {
		return err
	}
	for _, u := range []uint32{uint32(v.dimensions), uint32(v.nlist), uint32(v.nprobe)} {
		if err := binary.Write(w, binary.LittleEndian, u); err != nil {
			return fmt.Errorf("write index params: %w", err)
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(v.size)); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, c := range v.centroids {
		if _, err := w.Write(float32SliceToBytes(c)); err != nil {
			return fmt.Errorf("write centroid: %w", err)
		}
	}
	for cell := range v.listIDs {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(v.listIDs[cell]))); err != nil {
			return fmt.Errorf("write list length: %w", err)
		}
		for i, id := range v.listIDs[cell] {
			if err := binary.Write(w, binary.LittleEndian, id); err != nil {
				return fmt.Errorf("write id: %w", err)
			}
			if _, err := w.Write(float32SliceToBytes(v.listVecs[cell][i])); err != nil {
				return fmt.Errorf("write vector: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	return file.Sync()
}

// Close is a no-op for IVFIndex.
func (v *IVFIndex) Close() error { return nil }

func loadIVF(r *bufio.Reader) (*IVFIndex, error) {
	var dim, nlist, nprobe uint32
	for _, p := range []*uint32{&dim, &nlist, &nprobe} {
		if err := binary.Read(r, binary.LittleEndian, p); err != nil {
			return nil, fmt.Errorf("read index params: %w", err)
		}
	}
	var size uint64
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	idx, err := NewIVFIndex(int(dim), int(nlist), int(nprobe))
	if err != nil {
		return nil, err
	}
	buf := make([]byte, dim*4)
	idx.centroids = make([][]float32, nlist)
	for i := range idx.centroids {
		if _, err := readFull(r, buf); err != nil {
			return nil, fmt.Errorf("read centroid %d: %w", i, err)
		}
		idx.centroids[i] = bytesToFloat32Slice(buf)
	}
	idx.listIDs = make([][]int64, nlist)
	idx.listVecs = make([][][]float32, nlist)
	for cell := uint32(0); cell < nlist; cell++ {
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read list length: %w", err)
		}
		idx.listIDs[cell] = make([]int64, n)
		idx.listVecs[cell] = make([][]float32, n)
		for i := uint64(0); i < n; i++ {
			if err := binary.Read(r, binary.LittleEndian, &idx.listIDs[cell][i]); err != nil {
				return nil, fmt.Errorf("read id: %w", err)
			}
			if _, err := readFull(r, buf); err != nil {
				return nil, fmt.Errorf("read vector: %w", err)
			}
			idx.listVecs[cell][i] = bytesToFloat32Slice(buf)
		}
	}
	idx.size = int(size)
	idx.trained = true
	return idx, nil
}

func nearestCentroid(centroids [][]float32, vec []float32) int {
	best := 0
	bestScore := InnerProduct(centroids[0], vec)
	for i := 1; i < len(centroids); i++ {
		if s := InnerProduct(centroids[i], vec); s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}
