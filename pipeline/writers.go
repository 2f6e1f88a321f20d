package pipeline

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aluiziolira/openbox-deals/models"
)

// ErrStreamingUnsupported is returned when a response cannot be flushed.
var ErrStreamingUnsupported = errors.New("pipeline: response writer does not support flushing")

var errWriterClosed = errors.New("pipeline: writer closed")

// EventWriter receives the ordered events of one session.
type EventWriter interface {
	WriteEvent(ev models.Event) error
}

// SSEWriter writes events as server-sent event frames, flushing each one.
// Every frame must reach the connection within the write timeout, so a peer
// that stops reading fails the write instead of blocking it.
type SSEWriter struct {
	w            io.Writer
	rc           *http.ResponseController
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

// NewSSEWriter wraps an HTTP response. A zero writeTimeout leaves the
// connection's deadline alone.
func NewSSEWriter(w http.ResponseWriter, writeTimeout time.Duration) (*SSEWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, ErrStreamingUnsupported
	}
	return &SSEWriter{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}, nil
}

// WriteEvent sends one `data: <json>` frame.
func (sw *SSEWriter) WriteEvent(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.closed {
		return errWriterClosed
	}
	if sw.writeTimeout > 0 {
		err := sw.rc.SetWriteDeadline(time.Now().Add(sw.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := sw.rc.Flush(); err != nil {
		return fmt.Errorf("flush event: %w", err)
	}
	return nil
}

// Close waits for an in-flight write and refuses later ones. Call it before
// the handler returns so nothing touches the response afterwards.
func (sw *SSEWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.closed = true
	return nil
}

// JSONWriter writes newline-delimited JSON events.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter writes events to w.
func NewJSONWriter(w io.Writer) *JSONWriter {
	buffer := bufio.NewWriter(w)
	return &JSONWriter{
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}
}

// NewJSONFileWriter creates filename and writes events to it.
func NewJSONFileWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	jw := NewJSONWriter(f)
	jw.file = f
	return jw, nil
}

// WriteEvent appends one event line and flushes it.
func (jw *JSONWriter) WriteEvent(ev models.Event) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.encoder.Encode(ev); err != nil {
		return fmt.Errorf("encode json event: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the file the writer created, if any.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	if jw.file == nil {
		return nil
	}
	return jw.file.Close()
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
