// Package source reads the chunk source: NPY embedding batches paired with
// CSV metadata batches, and resolves chunk text at query time.
package source

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ReadNPY reads a 2-D little-endian float32 or float64 array in NumPy .npy
// format (C order) and returns it as rows of float32.
func ReadNPY(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open npy: %w", err)
	}
	defer f.Close()
	return readNPY(f)
}

func readNPY(r io.Reader) ([][]float32, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("read npy magic: %w", err)
	}
	if string(magic[:6]) != "\x93NUMPY" {
		return nil, fmt.Errorf("not an npy file")
	}
	major := magic[6]

	var headerLen int
	if major >= 2 {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	} else {
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("read npy header length: %w", err)
		}
		headerLen = int(n)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}

	descr, fortran, shape, err := parseNPYHeader(string(header))
	if err != nil {
		return nil, err
	}
	if fortran {
		return nil, fmt.Errorf("fortran-order npy not supported")
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("expected 2-d array, got shape %v", shape)
	}
	rows, dim := shape[0], shape[1]

	var itemSize int
	switch descr {
	case "<f4":
		itemSize = 4
	case "<f8":
		itemSize = 8
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q", descr)
	}

	buf := make([]byte, rows*dim*itemSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read npy data: %w", err)
	}

	out := make([][]float32, rows)
	for i := 0; i < rows; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			off := (i*dim + j) * itemSize
			if itemSize == 4 {
				vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
			} else {
				vec[j] = float32(math.Float64frombits(binary.LittleEndian.Uint64(buf[off : off+8])))
			}
		}
		out[i] = vec
	}
	return out, nil
}

// parseNPYHeader extracts descr, fortran_order, and shape from the header
// dict, e.g. {'descr': '<f4', 'fortran_order': False, 'shape': (100, 384), }.
func parseNPYHeader(h string) (descr string, fortran bool, shape []int, err error) {
	descr, err = npyHeaderValue(h, "'descr':")
	if err != nil {
		return "", false, nil, err
	}
	descr = strings.Trim(descr, "' ")

	order, err := npyHeaderValue(h, "'fortran_order':")
	if err != nil {
		return "", false, nil, err
	}
	fortran = strings.TrimSpace(order) == "True"

	i := strings.Index(h, "'shape':")
	if i < 0 {
		return "", false, nil, fmt.Errorf("npy header missing shape")
	}
	open := strings.Index(h[i:], "(")
	closing := strings.Index(h[i:], ")")
	if open < 0 || closing < 0 || closing < open {
		return "", false, nil, fmt.Errorf("malformed npy shape")
	}
	for _, part := range strings.Split(h[i+open+1:i+closing], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, convErr := strconv.Atoi(part)
		if convErr != nil {
			return "", false, nil, fmt.Errorf("malformed npy shape: %w", convErr)
		}
		shape = append(shape, n)
	}
	return descr, fortran, shape, nil
}

func npyHeaderValue(h, key string) (string, error) {
	i := strings.Index(h, key)
	if i < 0 {
		return "", fmt.Errorf("npy header missing %s", strings.Trim(key, "':"))
	}
	rest := h[i+len(key):]
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return "", fmt.Errorf("malformed npy header")
	}
	return strings.TrimSpace(rest[:end]), nil
}

// WriteNPY writes rows as a 2-D float32 .npy file. Used by tests and fixture
// tooling; the production corpus is produced by the upstream embedding jobs.
func WriteNPY(path string, rows [][]float32) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to write")
	}
	dim := len(rows[0])
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(rows), dim)
	// Pad so that magic + length + header is a multiple of 64, newline-terminated.
	total := 10 + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create npy: %w", err)
	}
	defer f.Close()

	if _, err := f.Write([]byte("\x93NUMPY\x01\x00")); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := f.Write([]byte(header)); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, row := range rows {
		if len(row) != dim {
			return fmt.Errorf("ragged rows: got %d, expected %d", len(row), dim)
		}
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := f.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}
