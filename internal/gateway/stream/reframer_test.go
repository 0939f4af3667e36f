package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

type bufferWriter struct {
	bytes.Buffer
	flushes int
}

func (w *bufferWriter) Flush() error {
	w.flushes++
	return nil
}

// failingWriter accepts n writes and then reports the client as gone.
type failingWriter struct {
	n      int
	writes int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.writes >= w.n {
		return 0, errors.New("broken pipe")
	}
	w.writes++
	return len(p), nil
}

func (w *failingWriter) Flush() error { return nil }

// frames splits the downstream output into "data: " payloads.
func frames(t *testing.T, out string) []string {
	t.Helper()
	if out != "" && !strings.HasSuffix(out, "\n\n") {
		t.Fatalf("output does not end on a frame boundary: %q", out)
	}
	var got []string
	for _, f := range strings.Split(strings.TrimSuffix(out, "\n\n"), "\n\n") {
		if f == "" {
			continue
		}
		if !strings.HasPrefix(f, "data: ") {
			t.Fatalf("frame without data prefix: %q", f)
		}
		got = append(got, strings.TrimPrefix(f, "data: "))
	}
	return got
}

func decode(t *testing.T, payload string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		t.Fatalf("payload %q is not JSON: %v", payload, err)
	}
	return m
}

func run(t *testing.T, upstream io.Reader) (*bufferWriter, *Reframer, error) {
	t.Helper()
	w := &bufferWriter{}
	r := NewReframer(w, nil)
	err := r.Run(context.Background(), upstream)
	return w, r, err
}

func TestRun_RewritesIDsAndTerminates(t *testing.T) {
	upstream := "data: {\"id\":\"a\",\"x\":1}\n\n" +
		"data: {\"id\":\"b\",\"x\":2}\n\n" +
		"data: [DONE]\n\n"

	w, r, err := run(t, strings.NewReader(upstream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := frames(t, w.String())
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3: %q", len(got), got)
	}

	first, second := decode(t, got[0]), decode(t, got[1])
	if first["id"] != "chatcmpl-0" || first["x"] != float64(1) {
		t.Errorf("first event = %v", first)
	}
	if second["id"] != "chatcmpl-1" || second["x"] != float64(2) {
		t.Errorf("second event = %v", second)
	}
	if got[2] != "[DONE]" {
		t.Errorf("last frame = %q, want [DONE]", got[2])
	}

	if s := r.Stats(); s.Forwarded != 2 || s.Dropped != 0 || s.Done != 1 {
		t.Errorf("stats = %+v", s)
	}
	if w.flushes != 3 {
		t.Errorf("flushes = %d, want one per frame", w.flushes)
	}
}

func TestRun_AppendsDoneWhenUpstreamOmitsIt(t *testing.T) {
	w, _, err := run(t, strings.NewReader("data: {\"id\":\"a\"}\n\n"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 2 || got[1] != "[DONE]" {
		t.Fatalf("frames = %q", got)
	}
}

func TestRun_EmptyUpstreamStillTerminates(t *testing.T) {
	w, _, err := run(t, strings.NewReader(""))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.String() != "data: [DONE]\n\n" {
		t.Errorf("output = %q", w.String())
	}
}

func TestRun_MalformedEventDroppedWithoutAdvancingCounter(t *testing.T) {
	upstream := "data: {\"id\":\"a\"}\n\n" +
		"data: {not json\n\n" +
		"data: 42\n\n" +
		"data: {\"id\":\"c\"}\n\n"

	w, r, err := run(t, strings.NewReader(upstream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 3 {
		t.Fatalf("frames = %q", got)
	}
	if id := decode(t, got[1])["id"]; id != "chatcmpl-1" {
		t.Errorf("id after malformed events = %v, want chatcmpl-1", id)
	}
	if s := r.Stats(); s.Dropped != 2 || s.Forwarded != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRun_IgnoresNonDataLines(t *testing.T) {
	upstream := ": keep-alive\n\n" +
		"event: message\n" +
		"id: 7\n" +
		"data:{\"id\":\"no-space\"}\n" +
		"data: {\"id\":\"a\"}\n\n" +
		"retry: 100\n\n"

	w, _, err := run(t, strings.NewReader(upstream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 2 || decode(t, got[0])["id"] != "chatcmpl-0" {
		t.Fatalf("frames = %q", got)
	}
}

func TestRun_EventSplitAcrossReads(t *testing.T) {
	upstream := "data: {\"id\":\"a\",\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"id\":\"b\",\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: [DONE]\n\n"

	w, r, err := run(t, iotest.OneByteReader(strings.NewReader(upstream)))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 3 {
		t.Fatalf("frames = %q", got)
	}
	if s := r.Stats(); s.Forwarded != 2 || s.Dropped != 0 {
		t.Errorf("stats = %+v; split lines must be reassembled", s)
	}
}

func TestRun_CRLFLineEndings(t *testing.T) {
	upstream := "data: {\"id\":\"a\"}\r\n\r\ndata: [DONE]\r\n\r\n"

	w, _, err := run(t, strings.NewReader(upstream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 2 || got[1] != "[DONE]" {
		t.Fatalf("frames = %q", got)
	}
}

func TestRun_FinalLineWithoutNewline(t *testing.T) {
	w, _, err := run(t, strings.NewReader("data: {\"id\":\"a\"}"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 2 || decode(t, got[0])["id"] != "chatcmpl-0" {
		t.Fatalf("frames = %q", got)
	}
}

func TestRun_AddsIDWhenMissing(t *testing.T) {
	w, _, err := run(t, strings.NewReader("data: {\"object\":\"chat.completion.chunk\"}\n\n"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	ev := decode(t, got[0])
	if ev["id"] != "chatcmpl-0" || ev["object"] != "chat.completion.chunk" {
		t.Errorf("event = %v", ev)
	}
}

func TestRun_EventsAfterDoneAreForwardedAndStreamEndsOnDone(t *testing.T) {
	upstream := "data: {\"id\":\"a\"}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"id\":\"late\"}\n\n"

	w, r, err := run(t, strings.NewReader(upstream))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 4 || got[1] != "[DONE]" {
		t.Fatalf("frames = %q", got)
	}
	if decode(t, got[2])["id"] != "chatcmpl-1" {
		t.Errorf("late event = %q", got[2])
	}
	if got[3] != "[DONE]" {
		t.Errorf("last frame = %q", got[3])
	}
	if r.Stats().Done != 2 {
		t.Errorf("Done = %d", r.Stats().Done)
	}
}

func TestRun_DuplicateUpstreamDoneIsForwarded(t *testing.T) {
	w, _, err := run(t, strings.NewReader("data: [DONE]\n\ndata: [DONE]\n\n"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := frames(t, w.String())
	if len(got) != 2 {
		t.Fatalf("frames = %q", got)
	}
}

func TestRun_UpstreamErrorEmitsErrorThenDone(t *testing.T) {
	boom := errors.New("connection reset")
	upstream := io.MultiReader(
		strings.NewReader("data: {\"id\":\"a\"}\n\n"),
		iotest.ErrReader(boom),
	)

	w, _, err := run(t, upstream)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	got := frames(t, w.String())
	if len(got) != 3 {
		t.Fatalf("frames = %q", got)
	}
	if _, ok := decode(t, got[1])["error"]; !ok {
		t.Errorf("second frame should carry an error: %q", got[1])
	}
	if got[2] != "[DONE]" {
		t.Errorf("last frame = %q", got[2])
	}
}

func TestRun_CancelledContextStopsWithoutWriting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := &bufferWriter{}
	r := NewReframer(w, nil)
	err := r.Run(ctx, iotest.ErrReader(context.Canceled))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if w.Len() != 0 {
		t.Errorf("wrote %q after cancellation", w.String())
	}
}

func TestRun_DownstreamGoneStopsReading(t *testing.T) {
	upstream := &countingReader{r: strings.NewReader(strings.Repeat("data: {\"id\":\"a\"}\n\n", 1000))}
	w := &failingWriter{n: 1}

	err := NewReframer(w, nil).Run(context.Background(), upstream)
	if err == nil {
		t.Fatal("expected write error")
	}
	if upstream.reads > 1 {
		t.Errorf("kept reading upstream after the client left: %d reads", upstream.reads)
	}
}

type countingReader struct {
	r     io.Reader
	reads int
}

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads++
	return c.r.Read(p)
}
