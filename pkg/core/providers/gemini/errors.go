package gemini

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
)

// classifyError maps live API failures onto the realtime sentinel errors so the
// session coordinator can tell capacity problems from ordinary faults.
func classifyError(err error) error {
	if err == nil || realtime.IsCapacityError(err) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || strings.EqualFold(apiErr.Status, "RESOURCE_EXHAUSTED") {
			return fmt.Errorf("%w: %v", realtime.ErrQuotaExceeded, err)
		}
		if apiErr.Code == http.StatusServiceUnavailable || strings.EqualFold(apiErr.Status, "UNAVAILABLE") {
			return fmt.Errorf("%w: %v", realtime.ErrConnectionClosed, err)
		}
		return err
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if mentionsQuota(closeErr.Text) {
			return fmt.Errorf("%w: %v", realtime.ErrQuotaExceeded, err)
		}
		return fmt.Errorf("%w: %v", realtime.ErrConnectionClosed, err)
	}

	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("%w: %v", realtime.ErrConnectionClosed, err)
	}
	if mentionsQuota(err.Error()) {
		return fmt.Errorf("%w: %v", realtime.ErrQuotaExceeded, err)
	}
	return err
}

func mentionsQuota(text string) bool {
	text = strings.ToLower(text)
	return strings.Contains(text, "quota") || strings.Contains(text, "resource_exhausted") || strings.Contains(text, "resource exhausted")
}
