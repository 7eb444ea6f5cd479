package vector

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

var indexMagic = [4]byte{'S', 'H', 'V', 'I'}

const (
	indexFormatVersion byte = 1

	modeByteExact      byte = 1
	modeByteCompressed byte = 2
)

// Params holds index construction parameters. NList and NProbe are only used
// by compressed indexes.
type Params struct {
	Dimensions int
	NList      int
	NProbe     int
}

// New creates an empty index for the given mode. Compressed mode uses FAISS
// when compiled in with -tags=faiss, and a pure-Go inverted-file index
// otherwise.
func New(mode Mode, p Params) (Index, error) {
	switch mode {
	case ModeExact:
		return NewFlatIndex(p.Dimensions)
	case ModeCompressed:
		if IsFaissAvailable() {
			return newFaissIndex(p.Dimensions, p.NList, p.NProbe)
		}
		return NewIVFIndex(p.Dimensions, p.NList, p.NProbe)
	default:
		return nil, fmt.Errorf("unknown index mode: %s (supported: exact, compressed)", mode)
	}
}

// Load reads a saved index from path, detecting the mode from the file
// header. Files without the native header are assumed to be FAISS indexes
// and are only loadable when FAISS support is compiled in.
func Load(path string) (Index, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	head, err := r.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if [4]byte(head) != indexMagic {
		return loadFaissFile(path)
	}
	if _, err := r.Discard(4); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read format version: %w", err)
	}
	if version != indexFormatVersion {
		return nil, fmt.Errorf("unsupported index format version %d", version)
	}
	modeByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read index mode: %w", err)
	}
	switch modeByte {
	case modeByteExact:
		return loadFlat(r)
	case modeByteCompressed:
		return loadIVF(r)
	default:
		return nil, fmt.Errorf("unknown index mode byte %d", modeByte)
	}
}

func writeHeader(w io.Writer, modeByte byte) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	if _, err := w.Write([]byte{indexFormatVersion, modeByte}); err != nil {
		return fmt.Errorf("write index header: %w", err)
	}
	return nil
}

func readFull(r io.Reader, buf []byte) (int, error) {
	return io.ReadFull(r, buf)
}
