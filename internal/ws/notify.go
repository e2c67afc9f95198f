package ws

import (
	"encoding/json"
	"time"

	"github.com/progprogect/steamids-parser/internal/pipeline"
)

const EventProgress = "progress"

type ProgressEvent struct {
	Type      string                    `json:"type"`
	Source    string                    `json:"source"`
	Data      pipeline.ProgressSnapshot `json:"data"`
	Timestamp string                    `json:"timestamp"`
}

// Publish implements pipeline.ProgressSink.
func (h *Hub) Publish(s pipeline.ProgressSnapshot) {
	if h == nil {
		return
	}
	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	b, err := json.Marshal(ProgressEvent{
		Type:      EventProgress,
		Source:    string(s.Source),
		Data:      s,
		Timestamp: ts.Format(time.RFC3339),
	})
	if err != nil {
		h.log.WithError(err).Warn("progress event encode failed")
		return
	}
	h.Broadcast(b)
}
