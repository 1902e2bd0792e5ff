//go:build integration

package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("INTERVIEW_TEST_NATS_URL")
	if url == "" {
		t.Skip("INTERVIEW_TEST_NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_FeedbackRoundTrip(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, natsURL, "", slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan FeedbackRequested, 1)
	err = client.Subscribe(SubjectFeedbackRequested, func(_ string, data []byte) {
		var msg FeedbackRequested
		if json.Unmarshal(data, &msg) == nil {
			received <- msg
		}
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(SubjectFeedbackRequested, FeedbackRequested{InterviewID: "iv-it", UserID: "u-it"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.InterviewID != "iv-it" {
			t.Errorf("interview_id=%q", msg.InterviewID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
