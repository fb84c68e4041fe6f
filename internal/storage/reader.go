package storage

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/saviobatista/mavrelay/internal/mavlink"
)

// Record is one timestamped frame from a tlog
type Record struct {
	TimeUSec int64
	Frame    []byte
}

// Reader reads records from a tlog stream
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	size   int64
}

// NewReader reads tlog records from r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Open opens a tlog file. Files ending in .gz are decompressed.
func Open(path string) (*Reader, error) {
	//nolint:gosec // path is supplied by the operator
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log: %w", err)
	}

	var src io.Reader = file
	closer := io.Closer(file)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open compressed log: %w", err)
		}
		src = gz
		closer = multiCloser{gz, file}
	}

	return &Reader{r: bufio.NewReader(src), closer: closer, size: info.Size()}, nil
}

// Size returns the on-disk size of the opened file, or 0 for plain streams
func (r *Reader) Size() int64 {
	return r.size
}

// Next returns the next record, or io.EOF when the log is exhausted. A
// truncated trailing record yields io.ErrUnexpectedEOF.
func (r *Reader) Next() (*Record, error) {
	var stamp [8]byte
	if _, err := io.ReadFull(r.r, stamp[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read timestamp: %w", err)
	}

	header, err := r.r.Peek(mavlink.HeaderLen)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", unexpected(err))
	}
	n, ok := mavlink.FrameLength(header)
	if !ok {
		return nil, fmt.Errorf("invalid frame header %x", header)
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(r.r, frame); err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", unexpected(err))
	}

	return &Record{
		TimeUSec: int64(binary.BigEndian.Uint64(stamp[:])),
		Frame:    frame,
	}, nil
}

// Close releases the underlying file, if any
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var firstErr error
	for _, c := range m {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
