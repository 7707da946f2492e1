package log

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects capture events. Zero fields match everything.
type Filter struct {
	SessionID    string
	ConnectionID string
	Transport    string // transport kind name
	URL          string
	ErrorKind    string // transport error kind name; implies error events

	Direction *Direction
	Layer     *Layer
	Category  *Category

	// Since and Until bound the timestamp to [Since, Until).
	Since time.Time
	Until time.Time
}

// Match reports whether event passes every set criterion.
func (f Filter) Match(event Event) bool {
	switch {
	case f.SessionID != "" && event.SessionID != f.SessionID,
		f.ConnectionID != "" && event.ConnectionID != f.ConnectionID,
		f.Transport != "" && event.Transport != f.Transport,
		f.URL != "" && event.URL != f.URL,
		f.ErrorKind != "" && (event.Error == nil || event.Error.Kind != f.ErrorKind),
		f.Direction != nil && event.Direction != *f.Direction,
		f.Layer != nil && event.Layer != *f.Layer,
		f.Category != nil && event.Category != *f.Category,
		!f.Since.IsZero() && event.Timestamp.Before(f.Since),
		!f.Until.IsZero() && !event.Timestamp.Before(f.Until):
		return false
	}
	return true
}

// Reader streams events out of a capture file.
type Reader struct {
	file   *os.File
	dec    *cbor.Decoder
	filter Filter
	empty  bool
}

// NewReader opens a capture file and yields every event.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and yields the events filter
// matches. It fails with ErrNotCapture for other files.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)
	r := &Reader{file: f, filter: filter}
	switch err := readCaptureHeader(br); {
	case errors.Is(err, io.EOF):
		r.empty = true
	case err != nil:
		f.Close()
		return nil, err
	}
	r.dec = eventDec.NewDecoder(br)
	return r, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	if r.empty {
		return Event{}, io.EOF
	}
	for {
		var event Event
		if err := r.dec.Decode(&event); err != nil {
			return Event{}, err
		}
		if r.filter.Match(event) {
			return event, nil
		}
	}
}

// Each calls fn for every remaining matching event and stops at the first
// error fn returns.
func (r *Reader) Each(fn func(Event) error) error {
	for {
		event, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// Close closes the file.
func (r *Reader) Close() error {
	return r.file.Close()
}
