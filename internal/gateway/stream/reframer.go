// Package stream re-frames an upstream chat-completion SSE stream for the
// gateway's client.
//
// Each upstream "data: " line is one event. JSON events get their "id"
// replaced with chatcmpl-<n>, where n counts forwarded events from zero for
// this stream only. "[DONE]" is passed through, undecodable events are
// dropped, and the output always ends with a single "data: [DONE]" frame.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
	idPrefix   = "chatcmpl-"

	readBufferSize = 64 * 1024
)

var (
	doneFrame = []byte("data: [DONE]\n\n")

	errorFrame = []byte(`data: {"error":{"message":"upstream stream interrupted","type":"upstream_error","code":"stream_error"}}` + "\n\n")
)

// ErrMalformedEvent marks an upstream event payload that is not a JSON object.
var ErrMalformedEvent = errors.New("malformed upstream event")

// Writer is the downstream side. Flush is called after every frame.
type Writer interface {
	io.Writer
	Flush() error
}

// Stats summarises one stream.
type Stats struct {
	Forwarded int // rewritten JSON events
	Dropped   int // malformed events
	Done      int // [DONE] frames written
}

// Reframer converts one upstream stream. It is not safe for concurrent use
// and must not be reused across streams.
type Reframer struct {
	w   Writer
	log *zap.Logger

	counter  int
	lastDone bool
	stats    Stats
}

func NewReframer(w Writer, log *zap.Logger) *Reframer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reframer{w: w, log: log}
}

// Stats returns counters for the frames handled so far.
func (r *Reframer) Stats() Stats {
	return r.stats
}

// Run consumes upstream until EOF, an upstream error, cancellation of ctx, or a
// failed downstream write. A partial line at the end of one read is kept and
// completed by the next. Run does not close upstream.
//
// On EOF the terminal [DONE] is written and nil returned. On an upstream read
// error an error frame and [DONE] are written and the error returned. When ctx
// is cancelled or the client is gone nothing more is written.
func (r *Reframer) Run(ctx context.Context, upstream io.Reader) error {
	br := bufio.NewReaderSize(upstream, readBufferSize)

	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			if err := r.handleLine(line); err != nil {
				return err
			}
		}

		if readErr == nil {
			continue
		}

		if errors.Is(readErr, io.EOF) {
			return r.finish()
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		r.log.Warn("upstream stream read failed", zap.Error(readErr))
		if err := r.emit(errorFrame); err != nil {
			return err
		}
		r.lastDone = false
		if err := r.finish(); err != nil {
			return err
		}
		return fmt.Errorf("read upstream: %w", readErr)
	}
}

func (r *Reframer) handleLine(line []byte) error {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return nil
	}
	payload := line[len(dataPrefix):]

	if string(payload) == doneMarker {
		return r.emitDone()
	}

	frame, err := r.rewrite(payload)
	if err != nil {
		r.stats.Dropped++
		r.log.Warn("dropping upstream event", zap.Error(err), zap.ByteString("payload", truncate(payload, 256)))
		return nil
	}

	if err := r.emit(frame); err != nil {
		return err
	}
	r.lastDone = false
	r.stats.Forwarded++
	return nil
}

// rewrite sets the id of a JSON object payload and returns the full frame.
// The counter only advances for events that are actually forwarded.
func (r *Reframer) rewrite(payload []byte) ([]byte, error) {
	if !gjson.ValidBytes(payload) || !gjson.ParseBytes(payload).IsObject() {
		return nil, ErrMalformedEvent
	}

	out, err := sjson.SetBytes(payload, "id", idPrefix+strconv.Itoa(r.counter))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	r.counter++

	frame := make([]byte, 0, len(dataPrefix)+len(out)+2)
	frame = append(frame, dataPrefix...)
	frame = append(frame, out...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}

func (r *Reframer) emitDone() error {
	if err := r.emit(doneFrame); err != nil {
		return err
	}
	r.lastDone = true
	r.stats.Done++
	return nil
}

// finish writes the terminal sentinel unless the last frame already was one.
func (r *Reframer) finish() error {
	if r.lastDone {
		return nil
	}
	return r.emitDone()
}

func (r *Reframer) emit(frame []byte) error {
	if _, err := r.w.Write(frame); err != nil {
		return fmt.Errorf("write downstream: %w", err)
	}
	if err := r.w.Flush(); err != nil {
		return fmt.Errorf("flush downstream: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
