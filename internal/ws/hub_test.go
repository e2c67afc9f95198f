package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pipeline"
)

func TestHub_PublishReachesClients(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := &Client{hub: h, send: make(chan []byte, 4)}
	h.Register(c)
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	h.Publish(pipeline.ProgressSnapshot{Source: item.SourceITAD, Total: 10, Completed: 4})

	select {
	case msg := <-c.send:
		var evt ProgressEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if evt.Type != EventProgress || evt.Source != "itad" || evt.Data.Completed != 4 {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no message delivered")
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	log, _ := test.NewNullLogger()
	h := NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{hub: h, send: make(chan []byte)}
	h.Register(slow)
	deadline := time.Now().Add(time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	h.Broadcast([]byte("x"))
	deadline = time.Now().Add(time.Second)
	for h.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if h.ClientCount() != 0 {
		t.Fatalf("slow client must be dropped")
	}
	if _, ok := <-slow.send; ok {
		t.Fatalf("dropped client's channel must be closed")
	}
}

func TestHub_NilIsSafe(t *testing.T) {
	var h *Hub
	h.Publish(pipeline.ProgressSnapshot{})
	h.Broadcast(nil)
	if h.ClientCount() != 0 {
		t.Fatalf("nil hub has no clients")
	}
}
