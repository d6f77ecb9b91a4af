package content

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/keepmind9/chatlink/pkg/constants"
)

type encoderState int

const (
	stateBoundary encoderState = iota
	stateHeaders
	stateBody
	stateDone
)

func (s encoderState) String() string {
	switch s {
	case stateBoundary:
		return "boundary"
	case stateHeaders:
		return "headers"
	case stateBody:
		return "body"
	default:
		return "done"
	}
}

var crlf = []byte("\r\n")

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encoder streams a Multipart in multipart/form-data framing.
//
// It is pull driven: every Read advances the state machine
// boundary -> headers -> body -> (boundary | done) only as far as needed to
// fill the caller's buffer. Part bodies are read directly into that buffer.
type Encoder struct {
	parts        []Part
	next         int
	state        encoderState
	pending      []byte
	current      *Part
	body         io.ReadCloser
	boundaryNext []byte
	boundaryLast []byte
}

// NewEncoder returns an encoder positioned before the first boundary.
func NewEncoder(m *Multipart) *Encoder {
	return &Encoder{
		parts:        m.parts,
		boundaryNext: []byte("--" + m.boundary + "\r\n"),
		boundaryLast: []byte("--" + m.boundary + "--\r\n"),
	}
}

// Read implements io.Reader.
func (e *Encoder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if len(e.pending) > 0 {
			n := copy(p, e.pending)
			e.pending = e.pending[n:]
			return n, nil
		}

		switch e.state {
		case stateBoundary:
			if e.next < len(e.parts) {
				e.current = &e.parts[e.next]
				e.next++
				e.pending = e.boundaryNext
				e.state = stateHeaders
			} else {
				e.current = nil
				e.pending = e.boundaryLast
				e.state = stateDone
			}

		case stateHeaders:
			e.pending = partHeaders(e.current)
			e.state = stateBody

		case stateBody:
			if e.body == nil {
				body, err := e.current.Content.Open()
				if err != nil {
					return 0, e.fail(fmt.Errorf("open part %q: %w", e.current.Name, err))
				}
				e.body = body
			}
			n, err := e.body.Read(p)
			if err == io.EOF {
				e.finishBody()
				if n > 0 {
					return n, nil
				}
				continue
			}
			if err != nil {
				return n, e.fail(fmt.Errorf("%w: read part %q: %w", ErrIO, e.current.Name, err))
			}
			return n, nil

		case stateDone:
			return 0, io.EOF
		}
	}
}

func (e *Encoder) finishBody() {
	e.body.Close()
	e.body = nil
	e.pending = crlf
	e.state = stateBoundary
}

func (e *Encoder) fail(err error) error {
	e.Close()
	return err
}

// WriteTo pushes the remaining encoded bytes into w through a single
// fixed-size buffer. Output is identical to draining Read.
func (e *Encoder) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, constants.StreamBufferSize)
	var written int64
	for {
		n, rerr := e.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				e.Close()
				return written, werr
			}
			if m != n {
				e.Close()
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// Close releases the part currently being read and ends the stream.
func (e *Encoder) Close() error {
	var err error
	if e.body != nil {
		err = e.body.Close()
		e.body = nil
	}
	e.pending = nil
	e.state = stateDone
	return err
}

func partHeaders(p *Part) []byte {
	var sb strings.Builder
	sb.WriteString(`Content-Disposition: form-data; name="`)
	sb.WriteString(quoteEscaper.Replace(p.Name))
	sb.WriteByte('"')
	if p.FileName != "" {
		sb.WriteString(`; filename="`)
		sb.WriteString(quoteEscaper.Replace(p.FileName))
		sb.WriteByte('"')
	}
	sb.WriteString("\r\n")
	if ct := p.Content.ContentType(); ct != "" {
		sb.WriteString("Content-Type: ")
		sb.WriteString(ct)
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return []byte(sb.String())
}

var boundaryCounter atomic.Uint64

// NewBoundary returns a fresh boundary token. Body content is not scanned
// for it, so uniqueness rests on the entropy of the token alone.
func NewBoundary() string {
	id := uuid.New()
	var sb strings.Builder
	sb.WriteString("chatlink")
	sb.WriteString(strconv.FormatInt(int64(os.Getpid()), 36))
	sb.WriteString(strconv.FormatUint(boundaryCounter.Add(1), 36))
	sb.WriteString(strconv.FormatInt(time.Now().UnixNano(), 36))
	sb.WriteString(strings.ReplaceAll(id.String(), "-", ""))
	return sb.String()
}

// IsNotFound reports whether err carries ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
