package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxEnhancedPromptBytes bounds a workflow-provided prompt.
const MaxEnhancedPromptBytes = 32 << 10

var errInvalidPrompt = errors.New("invalid enhanced prompt")

// EnhancedPrompt is published by the prompt-enhancement workflow once it has
// tailored interviewer guidance for an interview.
type EnhancedPrompt struct {
	InterviewID string    `json:"interview_id"`
	UserID      string    `json:"user_id"`
	Prompt      string    `json:"prompt"`
	GeneratedAt time.Time `json:"generated_at,omitempty"`
}

func (m EnhancedPrompt) Validate() error {
	if strings.TrimSpace(m.InterviewID) == "" {
		return fmt.Errorf("%w: interview_id is required", errInvalidPrompt)
	}
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("%w: user_id is required", errInvalidPrompt)
	}
	if strings.TrimSpace(m.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", errInvalidPrompt)
	}
	if len(m.Prompt) > MaxEnhancedPromptBytes {
		return fmt.Errorf("%w: prompt exceeds %d bytes", errInvalidPrompt, MaxEnhancedPromptBytes)
	}
	if !utf8.ValidString(m.Prompt) {
		return fmt.Errorf("%w: prompt is not valid utf-8", errInvalidPrompt)
	}
	return nil
}

// PromptStore saves enhanced prompts for the next session.
type PromptStore interface {
	SaveEnhancedPrompt(ctx context.Context, interviewID, userID, prompt string) error
}

type PromptListener struct {
	store   PromptStore
	logger  *slog.Logger
	timeout time.Duration
}

func NewPromptListener(store PromptStore, logger *slog.Logger) *PromptListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptListener{store: store, logger: logger, timeout: 5 * time.Second}
}

// Listen subscribes to enhanced-prompt messages.
func (l *PromptListener) Listen(sub Subscriber) error {
	return sub.Subscribe(SubjectEnhancedPrompt, func(subject string, data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.Handle(ctx, data); err != nil {
			l.logger.Warn("enhanced prompt dropped", "subject", subject, "error", err)
		}
	})
}

// Handle validates one message and stores its prompt.
func (l *PromptListener) Handle(ctx context.Context, data []byte) error {
	var msg EnhancedPrompt
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", errInvalidPrompt, err)
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := l.store.SaveEnhancedPrompt(ctx, msg.InterviewID, msg.UserID, msg.Prompt); err != nil {
		return fmt.Errorf("save enhanced prompt: %w", err)
	}
	l.logger.Info("enhanced prompt stored",
		"interview_id", msg.InterviewID,
		"user_id", msg.UserID,
		"prompt_bytes", len(msg.Prompt),
	)
	return nil
}
