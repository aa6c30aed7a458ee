package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/KamdynS/advisor/frame"
	"github.com/KamdynS/advisor/llm"
)

type deltaRecord struct {
	Choices []deltaChoice `json:"choices"`
}

type deltaChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type metadataRecord struct {
	Type string `json:"type"`
	*frame.Metadata
}

type recvResult struct {
	delta llm.Delta
	err   error
}

// StreamFrames writes s to w as data lines: an optional metadata record, one
// generation-delta record per text delta, then the [DONE] sentinel. A ": ping"
// comment is sent whenever the upstream is idle for heartbeat (default 15s).
// A client disconnect ends the stream without error.
func StreamFrames(ctx context.Context, w http.ResponseWriter, s llm.Stream, md *frame.Metadata, heartbeat time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if md != nil {
		b, err := json.Marshal(metadataRecord{Type: frame.MetadataType, Metadata: md})
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	hb := time.NewTicker(heartbeat)
	defer hb.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	deltas := make(chan recvResult)
	go func() {
		defer close(deltas)
		for {
			d, err := s.Recv(ctx)
			select {
			case deltas <- recvResult{d, err}:
			case <-ctx.Done():
				return
			}
			if err != nil || d.Type == llm.DeltaTypeDone {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case r, ok := <-deltas:
			if !ok {
				return nil
			}
			if r.err != nil {
				fmt.Fprint(w, ": upstream error\n\n")
				flusher.Flush()
				return fmt.Errorf("upstream stream: %w", r.err)
			}
			switch r.delta.Type {
			case llm.DeltaTypeText:
				var rec deltaRecord
				rec.Choices = make([]deltaChoice, 1)
				rec.Choices[0].Delta.Content = r.delta.Text
				b, err := json.Marshal(rec)
				if err != nil {
					return fmt.Errorf("marshal delta: %w", err)
				}
				fmt.Fprintf(w, "data: %s\n\n", b)
				flusher.Flush()
				hb.Reset(heartbeat)
			case llm.DeltaTypeDone:
				fmt.Fprintf(w, "data: %s\n\n", frame.DoneSentinel)
				flusher.Flush()
				return nil
			}
		}
	}
}
