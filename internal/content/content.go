// Package content describes HTTP request bodies.
//
// A Content is one of four variants: Bytes, File, Stream or Multipart. The set
// is closed: consumers switch on the concrete type and handle every case.
//
//	switch c := body.(type) {
//	case *content.Bytes:
//	case *content.File:
//	case *content.Stream:
//	case *content.Multipart:
//	}
//
// Every variant can also be opened as a plain io.ReadCloser, which is what
// transports that only accept a reader use. Opening a Multipart yields the
// streaming encoder, so parts are read one at a time and never buffered whole.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync/atomic"
)

// UnknownSize is the size hint of a body whose length is not known up front.
const UnknownSize int64 = -1

// Sentinel errors. Use errors.Is to check for them.
var (
	// ErrNotFound indicates a File content points at a missing file.
	ErrNotFound = errors.New("content not found")

	// ErrIO indicates a read failure while serializing a body.
	ErrIO = errors.New("content i/o failure")

	// ErrConsumed indicates a Stream content was opened a second time.
	ErrConsumed = errors.New("stream content already consumed")
)

// Content is an immutable request body.
type Content interface {
	// ContentType returns the MIME type sent in the Content-Type header.
	// It may be empty for multipart parts that do not declare one.
	ContentType() string

	// Size returns the body length in bytes, or UnknownSize.
	Size() int64

	// Open returns a reader over the body bytes. The caller must close it.
	Open() (io.ReadCloser, error)

	sealed()
}

// Embeddable is a Content that may appear inside a multipart Part.
// Multipart itself does not implement it, so parts cannot nest.
type Embeddable interface {
	Content
	embeddable()
}

// Bytes is an in-memory body.
type Bytes struct {
	contentType string
	data        []byte
	offset      int
	length      int
}

// NewBytes wraps data without copying it.
func NewBytes(contentType string, data []byte) *Bytes {
	return &Bytes{contentType: contentType, data: data, length: len(data)}
}

// NewBytesRange wraps data[offset:offset+length].
func NewBytesRange(contentType string, data []byte, offset, length int) (*Bytes, error) {
	if offset < 0 || length < 0 || offset+length > len(data) {
		return nil, fmt.Errorf("invalid byte range [%d:%d] of %d bytes", offset, offset+length, len(data))
	}
	return &Bytes{contentType: contentType, data: data, offset: offset, length: length}, nil
}

// NewString wraps the UTF-8 bytes of s.
func NewString(contentType, s string) *Bytes {
	return NewBytes(contentType, []byte(s))
}

func (b *Bytes) ContentType() string { return b.contentType }
func (b *Bytes) Size() int64         { return int64(b.length) }

// Data returns the wrapped slice.
func (b *Bytes) Data() []byte { return b.data[b.offset : b.offset+b.length] }

func (b *Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data())), nil
}

func (*Bytes) sealed()     {}
func (*Bytes) embeddable() {}

// File is a body read from disk when it is sent.
type File struct {
	contentType string
	size        int64
	path        string
}

// NewFile describes a file whose size is already known.
func NewFile(contentType, path string, size int64) *File {
	return &File{contentType: contentType, size: size, path: path}
}

// OpenFile stats path to learn its size. A missing file yields ErrNotFound.
func OpenFile(contentType, path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, wrapFileError(path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrIO, path)
	}
	return NewFile(contentType, path, info.Size()), nil
}

func (f *File) ContentType() string { return f.contentType }
func (f *File) Size() int64         { return f.size }

// Path returns the file location.
func (f *File) Path() string { return f.path }

func (f *File) Open() (io.ReadCloser, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, wrapFileError(f.path, err)
	}
	return fh, nil
}

func (*File) sealed()     {}
func (*File) embeddable() {}

func wrapFileError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrNotFound, path, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, path, err)
}

// Stream is a body backed by a reader that can be consumed only once.
type Stream struct {
	contentType string
	size        int64
	source      io.Reader
	opened      atomic.Bool
}

// NewStream wraps r. Pass UnknownSize when the length is not known.
func NewStream(contentType string, r io.Reader, size int64) *Stream {
	if size < 0 {
		size = UnknownSize
	}
	return &Stream{contentType: contentType, size: size, source: r}
}

func (s *Stream) ContentType() string { return s.contentType }
func (s *Stream) Size() int64         { return s.size }

func (s *Stream) Open() (io.ReadCloser, error) {
	if !s.opened.CompareAndSwap(false, true) {
		return nil, ErrConsumed
	}
	if rc, ok := s.source.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(s.source), nil
}

func (*Stream) sealed()     {}
func (*Stream) embeddable() {}

// Part is one named field of a multipart body.
type Part struct {
	Name     string
	FileName string // optional
	Content  Embeddable
}

// Multipart is a multipart/form-data body.
type Multipart struct {
	boundary string
	parts    []Part
}

// NewMultipart builds a multipart body. An empty boundary is generated.
func NewMultipart(boundary string, parts ...Part) *Multipart {
	if boundary == "" {
		boundary = NewBoundary()
	}
	return &Multipart{boundary: boundary, parts: append([]Part(nil), parts...)}
}

// MultipartType returns the Content-Type value for boundary.
func MultipartType(boundary string) string {
	return "multipart/form-data; boundary=" + boundary
}

func (m *Multipart) ContentType() string { return MultipartType(m.boundary) }

// Size is always unknown; multipart bodies are sent chunked.
func (m *Multipart) Size() int64 { return UnknownSize }

// Boundary returns the delimiter token.
func (m *Multipart) Boundary() string { return m.boundary }

// Parts returns a copy of the parts in order.
func (m *Multipart) Parts() []Part { return append([]Part(nil), m.parts...) }

// Open returns the pull encoder over all parts.
func (m *Multipart) Open() (io.ReadCloser, error) {
	return NewEncoder(m), nil
}

// WriteTo pushes the encoded body into w.
func (m *Multipart) WriteTo(w io.Writer) (int64, error) {
	enc := NewEncoder(m)
	defer enc.Close()
	return enc.WriteTo(w)
}

func (*Multipart) sealed() {}

// MultipartBuilder collects parts before the boundary is fixed.
type MultipartBuilder struct {
	boundary string
	parts    []Part
}

// Boundary overrides the generated boundary.
func (b *MultipartBuilder) Boundary(boundary string) *MultipartBuilder {
	b.boundary = boundary
	return b
}

// AddPart appends a part.
func (b *MultipartBuilder) AddPart(part Part) *MultipartBuilder {
	b.parts = append(b.parts, part)
	return b
}

// AddField appends a plain text field without a content type.
func (b *MultipartBuilder) AddField(name, value string) *MultipartBuilder {
	return b.AddPart(Part{Name: name, Content: NewString("", value)})
}

// AddFile appends a file field.
func (b *MultipartBuilder) AddFile(name, fileName string, c Embeddable) *MultipartBuilder {
	return b.AddPart(Part{Name: name, FileName: fileName, Content: c})
}

// Len returns the number of parts added so far.
func (b *MultipartBuilder) Len() int { return len(b.parts) }

// Build returns the multipart body.
func (b *MultipartBuilder) Build() *Multipart {
	return NewMultipart(b.boundary, b.parts...)
}
