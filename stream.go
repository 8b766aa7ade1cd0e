package bootimg

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/hashicorp/errwrap"
)

// Whence selects the reference point for a Seek call, mirroring os.File's
// SEEK_SET/SEEK_CUR/SEEK_END.
type Whence int

const (
	SeekSet Whence = iota
	SeekCur
	SeekEnd
)

// SearchAction is returned by a SearchCallback to tell Search whether to
// keep scanning for further matches.
type SearchAction int

const (
	SearchContinue SearchAction = iota
	SearchStop
)

// SearchCallback is invoked once per match found by ByteStream.Search, with
// the absolute byte offset of the match. Returning an error aborts the
// search and propagates the error to the Search caller.
type SearchCallback func(offset uint64) (SearchAction, error)

// ByteStream is a positioned byte source/sink. The segment engine and every
// format driver in this package operate exclusively through this
// interface, never touching *os.File directly, so callers can supply an
// in-memory stream (MemStream) or any other seekable backing store.
//
// Every fallible method may additionally be consulted through IsFatal:
// once a stream reports IsFatal() == true, it must be assumed unusable for
// any further operation.
type ByteStream interface {
	Seek(offset int64, whence Whence) (uint64, error)
	Read(buf []byte) (int, error)
	ReadFull(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	WriteFull(buf []byte) (int, error)
	Search(start, end int64, bufferHint int, needle []byte, maxMatches int64, cb SearchCallback) error
	IsFatal() bool
}

// FileStream is a ByteStream backed by an *os.File.
type FileStream struct {
	f     *os.File
	fatal bool
}

// NewFileStream wraps an already-open file for use as a ByteStream. The
// caller retains ownership of f; FileStream never closes it.
func NewFileStream(f *os.File) *FileStream {
	return &FileStream{f: f}
}

// OpenFileStream opens path for reading and writing, creating it if it does
// not already exist.
func OpenFileStream(path string) (*FileStream, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errwrap.Wrapf("opening boot image: {{err}}", err)
	}
	return NewFileStream(f), nil
}

func (s *FileStream) Seek(offset int64, whence Whence) (uint64, error) {
	pos, err := s.f.Seek(offset, int(whence))
	if err != nil {
		s.fatal = true
		return 0, errwrap.Wrapf("seeking boot image file: {{err}}", err)
	}
	return uint64(pos), nil
}

func (s *FileStream) Read(buf []byte) (int, error) {
	n, err := s.f.Read(buf)
	if err != nil && err != io.EOF {
		s.fatal = true
		return n, errwrap.Wrapf("reading boot image file: {{err}}", err)
	}
	return n, nil
}

func (s *FileStream) ReadFull(buf []byte) (int, error) {
	return readFull(s, buf)
}

func (s *FileStream) Write(buf []byte) (int, error) {
	n, err := s.f.Write(buf)
	if err != nil {
		s.fatal = true
		return n, errwrap.Wrapf("writing boot image file: {{err}}", err)
	}
	return n, nil
}

func (s *FileStream) WriteFull(buf []byte) (int, error) {
	return writeFull(s, buf)
}

func (s *FileStream) Search(start, end int64, bufferHint int, needle []byte, maxMatches int64, cb SearchCallback) error {
	return streamSearch(s, start, end, bufferHint, needle, maxMatches, cb)
}

func (s *FileStream) IsFatal() bool {
	return s.fatal
}

// MemStream is a ByteStream backed by a growable in-memory buffer, for
// building an image fully in memory. This package's own tests use it to
// exercise every round-trip property without touching the filesystem.
type MemStream struct {
	buf   []byte
	pos   int64
	fatal bool
}

// NewMemStream creates an empty in-memory stream.
func NewMemStream() *MemStream {
	return &MemStream{}
}

// NewMemStreamFromBytes creates an in-memory stream pre-populated with
// data. The stream takes ownership of the slice.
func NewMemStreamFromBytes(data []byte) *MemStream {
	return &MemStream{buf: data}
}

// Bytes returns the stream's current backing buffer. The returned slice
// aliases the stream's storage and must not be retained across further
// writes.
func (s *MemStream) Bytes() []byte {
	return s.buf
}

func (s *MemStream) Seek(offset int64, whence Whence) (uint64, error) {
	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = s.pos + offset
	case SeekEnd:
		newPos = int64(len(s.buf)) + offset
	default:
		return 0, errwrap.Wrapf("seeking boot image buffer: {{err}}", errInvalidWhence)
	}
	if newPos < 0 {
		s.fatal = true
		return 0, errwrap.Wrapf("seeking boot image buffer: {{err}}", errNegativeSeek)
	}
	s.pos = newPos
	return uint64(newPos), nil
}

func (s *MemStream) Read(buf []byte) (int, error) {
	if s.pos >= int64(len(s.buf)) {
		return 0, nil
	}
	n := copy(buf, s.buf[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *MemStream) ReadFull(buf []byte) (int, error) {
	return readFull(s, buf)
}

func (s *MemStream) Write(buf []byte) (int, error) {
	end := s.pos + int64(len(buf))
	if end > int64(len(s.buf)) {
		grown := make([]byte, end)
		copy(grown, s.buf)
		s.buf = grown
	}
	copy(s.buf[s.pos:end], buf)
	s.pos = end
	return len(buf), nil
}

func (s *MemStream) WriteFull(buf []byte) (int, error) {
	return writeFull(s, buf)
}

func (s *MemStream) Search(start, end int64, bufferHint int, needle []byte, maxMatches int64, cb SearchCallback) error {
	return streamSearch(s, start, end, bufferHint, needle, maxMatches, cb)
}

func (s *MemStream) IsFatal() bool {
	return s.fatal
}

var (
	errInvalidWhence = errors.New("invalid whence value")
	errNegativeSeek  = errors.New("seek would move before start of buffer")
)

// readFull loops Read until buf is completely filled or the stream is
// exhausted, returning the number of bytes actually read. This is the
// read_fully primitive that every driver builds on.
func readFull(s ByteStream, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Read(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// writeFull loops Write until buf is completely written.
func writeFull(s ByteStream, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Write(buf[total:])
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, errwrap.Wrapf("short write to boot image stream: {{err}}", io.ErrShortWrite)
		}
		total += n
	}
	return total, nil
}

const defaultSearchBufferSize = 32 * 1024

// streamSearch implements the ByteStream.Search contract in terms of Seek
// and Read alone, so both FileStream and MemStream share one
// implementation. It scans forward from start (or the current offset, if
// start < 0) to end (or EOF, if end < 0), invoking cb once per match of
// needle. Matches that straddle a read-chunk boundary are still found: the
// scan keeps the last len(needle)-1 bytes of each chunk as a prefix for the
// next one.
func streamSearch(s ByteStream, start, end int64, bufferHint int, needle []byte, maxMatches int64, cb SearchCallback) error {
	if len(needle) == 0 {
		return nil
	}
	if bufferHint <= 0 {
		bufferHint = defaultSearchBufferSize
	}

	var startOff uint64
	var err error
	if start < 0 {
		startOff, err = s.Seek(0, SeekCur)
	} else {
		startOff, err = s.Seek(start, SeekSet)
	}
	if err != nil {
		return err
	}

	var endOff uint64
	if end < 0 {
		endOff, err = s.Seek(0, SeekEnd)
		if err != nil {
			return err
		}
	} else {
		endOff = uint64(end)
	}

	if startOff >= endOff {
		return nil
	}
	if _, err := s.Seek(int64(startOff), SeekSet); err != nil {
		return err
	}

	overlap := len(needle) - 1
	windowStart := startOff
	window := make([]byte, 0, bufferHint+overlap)
	var matches int64

	for windowStart+uint64(len(window)) < endOff {
		remaining := endOff - (windowStart + uint64(len(window)))
		readSize := bufferHint
		if uint64(readSize) > remaining {
			readSize = int(remaining)
		}

		chunk := make([]byte, readSize)
		n, err := readFull(s, chunk)
		if err != nil {
			return err
		}
		window = append(window, chunk[:n]...)

		atEOF := n < readSize || windowStart+uint64(len(window)) >= endOff
		scanLimit := len(window) - overlap
		if atEOF {
			scanLimit = len(window)
		}

		idx := 0
		for idx <= scanLimit-len(needle) {
			if !bytes.Equal(window[idx:idx+len(needle)], needle) {
				idx++
				continue
			}

			action, cbErr := cb(windowStart + uint64(idx))
			if cbErr != nil {
				return cbErr
			}
			matches++
			idx++

			if action == SearchStop {
				return nil
			}
			if maxMatches >= 0 && matches >= maxMatches {
				return nil
			}
		}

		if idx > 0 {
			window = append(window[:0], window[idx:]...)
			windowStart += uint64(idx)
		}

		if atEOF {
			break
		}
	}

	return nil
}
