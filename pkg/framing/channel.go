// Package framing implements the length-prefixed request stream and the
// newline-delimited JSON result stream spoken between the host and the worker.
//
// An input frame is a 4-byte big-endian unsigned length followed by exactly
// that many payload bytes. Every result is a single JSON object on its own line.
package framing

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// HeaderSize is the size of the length prefix in bytes
const HeaderSize = 4

// ErrTruncated means the stream closed in the middle of a frame. The host is
// gone and the read loop must stop.
var ErrTruncated = errors.New("framing: stream closed mid-frame")

// OversizeError is returned when a frame declares more bytes than allowed.
// The payload has already been drained, so the stream stays aligned.
type OversizeError struct {
	Length uint32
	Limit  uint32
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("framing: payload of %d bytes exceeds limit of %d", e.Length, e.Limit)
}

// Reader reads length-prefixed frames
type Reader struct {
	r          *bufio.Reader
	maxPayload uint32
}

// NewReader creates a frame reader. maxPayload of zero disables the limit.
func NewReader(r io.Reader, maxPayload uint32) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), maxPayload: maxPayload}
}

// ReadMessage blocks until a whole frame is available.
// It returns io.EOF when the stream ends cleanly between frames.
func (fr *Reader) ReadMessage() ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: header: %v", ErrTruncated, err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if fr.maxPayload > 0 && n > fr.maxPayload {
		if _, err := io.CopyN(io.Discard, fr.r, int64(n)); err != nil {
			return nil, fmt.Errorf("%w: draining oversize payload: %v", ErrTruncated, err)
		}
		return nil, &OversizeError{Length: n, Limit: fr.maxPayload}
	}

	payload := make([]byte, n)
	if got, err := io.ReadFull(fr.r, payload); err != nil {
		return nil, fmt.Errorf("%w: payload: read %d of %d bytes", ErrTruncated, got, n)
	}
	return payload, nil
}

// Writer writes newline-terminated JSON results and, on the host side,
// length-prefixed frames.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

// NewWriter creates a result writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteLine encodes v as one JSON line and flushes it
func (fw *Writer) WriteLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(data); err != nil {
		return err
	}
	if err := fw.w.WriteByte('\n'); err != nil {
		return err
	}
	return fw.w.Flush()
}

// WriteMessage writes one length-prefixed frame and flushes it
func (fw *Writer) WriteMessage(payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("framing: payload too large for a 32-bit length prefix")
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	return fw.w.Flush()
}
