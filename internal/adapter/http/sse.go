package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Strob0t/AgentForge/internal/port/llm"
)

// writeSSE drains stream to the client as server-sent events. Each chunk is
// one "data:" frame; the stream ends with "data: [DONE]".
func writeSSE(w http.ResponseWriter, r *http.Request, stream llm.Stream) {
	defer func() { _ = stream.Close() }()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if r.Context().Err() == nil {
				slog.WarnContext(r.Context(), "stream aborted", "error", err)
				writeFrame(w, map[string]string{"type": "error", "error": err.Error()})
				flush()
			}
			return
		}
		writeFrame(w, chunk)
		flush()
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flush()
}

func writeFrame(w io.Writer, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode stream chunk", "error", err)
		return
	}
	_, _ = io.WriteString(w, "data: ")
	_, _ = w.Write(b)
	_, _ = io.WriteString(w, "\n\n")
}
