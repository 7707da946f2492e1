package log

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CaptureExt is the file extension of protocol capture files.
const CaptureExt = ".rlog"

// captureMagic opens every capture file: "RLOG" and a format version.
var captureMagic = []byte{'R', 'L', 'O', 'G', 1}

// ErrNotCapture is returned for a file that does not start with the
// capture header.
var ErrNotCapture = errors.New("log: not an rlink capture file")

var (
	eventEnc cbor.EncMode
	eventDec cbor.DecMode
)

func init() {
	var err error

	// Timestamps keep nanoseconds and carry the standard date/time tag so
	// generic CBOR tooling can read a capture.
	eventEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
		TimeTag:       cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	// Captures from newer agents may carry fields this reader lacks.
	eventDec, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		TimeTag:           cbor.DecTagOptional,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// EncodeEvent encodes one event as it is stored in a capture. Frame data
// beyond MaxFrameDataSize is dropped.
func EncodeEvent(event Event) ([]byte, error) {
	return eventEnc.Marshal(clipFrame(event))
}

// DecodeEvent decodes one encoded event.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := eventDec.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// clipFrame applies the frame size cap without touching the caller's
// buffer.
func clipFrame(event Event) Event {
	f := event.Frame
	if f == nil || len(f.Data) <= MaxFrameDataSize {
		return event
	}
	clipped := *f
	clipped.Data = f.Data[:MaxFrameDataSize]
	clipped.Truncated = true
	event.Frame = &clipped
	return event
}

func writeCaptureHeader(w io.Writer) error {
	_, err := w.Write(captureMagic)
	return err
}

// readCaptureHeader consumes the header. An empty stream is io.EOF.
func readCaptureHeader(r io.Reader) error {
	got := make([]byte, len(captureMagic))
	n, err := io.ReadFull(r, got)
	switch {
	case n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF):
		return io.EOF
	case err != nil && err != io.ErrUnexpectedEOF:
		return err
	case !bytes.Equal(got[:n], captureMagic):
		return ErrNotCapture
	}
	return nil
}
