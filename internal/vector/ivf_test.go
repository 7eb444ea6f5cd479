package vector

import (
	"context"
	"math"
	"path/filepath"
	"testing"
)

// clusteredVectors builds unit vectors grouped around orthogonal axes.
func clusteredVectors(perCluster int) [][]float32 {
	axes := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
	var out [][]float32
	for _, axis := range axes {
		for i := 0; i < perCluster; i++ {
			v := make([]float32, 4)
			copy(v, axis)
			// Small deterministic jitter keeps the vectors distinct.
			v[(i+1)%4] += float32(i) * 0.01
			Normalize(v)
			out = append(out, v)
		}
	}
	return out
}

func TestIVFIndex_TrainRequired(t *testing.T) {
	idx, err := NewIVFIndex(4, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if !idx.NeedsTraining() {
		t.Error("new index should need training")
	}
	if err := idx.Add(ctx, [][]float32{{1, 0, 0, 0}}); err == nil {
		t.Error("Add before Train should fail")
	}
	if _, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1); err == nil {
		t.Error("Search before Train should fail")
	}
}

func TestIVFIndex_EmptyTrainingSample(t *testing.T) {
	idx, _ := NewIVFIndex(4, 2, 1)
	if err := idx.Train(context.Background(), nil); err == nil {
		t.Error("expected error for empty sample")
	}
}

func TestIVFIndex_AddSearch(t *testing.T) {
	idx, err := NewIVFIndex(4, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	vecs := clusteredVectors(10)
	if err := idx.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.NeedsTraining() {
		t.Error("index should be trained")
	}
	if err := idx.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != len(vecs) {
		t.Errorf("Size=%d, want %d", idx.Size(), len(vecs))
	}

	// An exact cluster member must come back as the top hit.
	hits, err := idx.Search(ctx, vecs[0], 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].ID != 0 {
		t.Errorf("top hit id = %d, want 0", hits[0].ID)
	}
	if math.Abs(float64(hits[0].Score)-1) > 0.001 {
		t.Errorf("top hit score = %f, want ~1", hits[0].Score)
	}
}

func TestIVFIndex_EqualScoresOrderByID(t *testing.T) {
	idx, err := NewIVFIndex(4, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	axis := []float32{1, 0, 0, 0}
	other := []float32{0, 1, 0, 0}
	if err := idx.Train(ctx, [][]float32{axis, other}); err != nil {
		t.Fatal(err)
	}
	// Three copies of the same vector score identically; the lowest id wins.
	if err := idx.Add(ctx, [][]float32{axis, other, axis, axis}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, axis, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 4 {
		t.Fatalf("len(hits)=%d", len(hits))
	}
	for i, want := range []int64{0, 2, 3, 1} {
		if hits[i].ID != want {
			t.Errorf("hits[%d].ID = %d, want %d", i, hits[i].ID, want)
		}
	}
}

func TestIVFIndex_Truncate(t *testing.T) {
	idx, err := NewIVFIndex(4, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	vecs := clusteredVectors(3)
	if err := idx.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Truncate(5); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 5 {
		t.Errorf("Size=%d, want 5", idx.Size())
	}
	hits, err := idx.Search(ctx, vecs[0], len(vecs))
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.ID >= 5 {
			t.Errorf("truncated id %d still searchable", h.ID)
		}
	}
	// Re-adding continues from the truncated size.
	if err := idx.Add(ctx, vecs[5:6]); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 6 {
		t.Errorf("Size after re-add=%d, want 6", idx.Size())
	}
	if err := idx.Truncate(99); err == nil {
		t.Error("expected error truncating past size")
	}
}

func TestIVFIndex_TrainIsDeterministic(t *testing.T) {
	ctx := context.Background()
	vecs := clusteredVectors(8)

	a, _ := NewIVFIndex(4, 4, 4)
	b, _ := NewIVFIndex(4, 4, 4)
	if err := a.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if err := b.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	for i := range a.centroids {
		for j := range a.centroids[i] {
			if a.centroids[i][j] != b.centroids[i][j] {
				t.Fatalf("centroid %d differs between identical training runs", i)
			}
		}
	}
}

func TestIVFIndex_NListCappedBySampleSize(t *testing.T) {
	idx, _ := NewIVFIndex(4, 100, 32)
	ctx := context.Background()
	vecs := clusteredVectors(2)
	if err := idx.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.nlist > len(vecs) {
		t.Errorf("nlist=%d exceeds sample size %d", idx.nlist, len(vecs))
	}
	if idx.nprobe > idx.nlist {
		t.Errorf("nprobe=%d exceeds nlist=%d", idx.nprobe, idx.nlist)
	}
}

func TestIVFIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ivf.index")
	ctx := context.Background()
	vecs := clusteredVectors(5)

	idx, _ := NewIVFIndex(4, 4, 2)
	if err := idx.Train(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, vecs); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	defer loaded.Close()
	if loaded.Mode() != ModeCompressed {
		t.Errorf("Mode=%s", loaded.Mode())
	}
	if loaded.Size() != len(vecs) {
		t.Errorf("Size=%d, want %d", loaded.Size(), len(vecs))
	}
	if loaded.NeedsTraining() {
		t.Error("loaded index should be trained")
	}
	hits, err := loaded.Search(ctx, vecs[0], 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].ID != 0 {
		t.Errorf("top hit id = %d, want 0", hits[0].ID)
	}
}

func TestIVFIndex_SaveUntrained(t *testing.T) {
	idx, _ := NewIVFIndex(4, 2, 1)
	if err := idx.Save(filepath.Join(t.TempDir(), "x.index")); err == nil {
		t.Error("expected error saving untrained index")
	}
}
