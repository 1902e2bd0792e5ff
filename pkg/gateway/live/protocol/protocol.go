package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client text message types. Binary frames carry raw PCM16 mono 16kHz audio.
const (
	TypeUserAudioEnd = "USER_AUDIO_END"
	TypeEndInterview = "END_INTERVIEW"
)

// Server text message types. Binary frames carry WAV-wrapped model audio.
const (
	TypeAITurnComplete = "AI_TURN_COMPLETE"
	TypeError          = "ERROR"
	TypeWarning        = "WARNING"
)

// Close reasons sent with websocket.ClosePolicyViolation.
const (
	CloseReasonRateLimit     = "Rate limit"
	CloseReasonQuotaExceeded = "Quota exceeded"
)

// User-facing error messages.
const (
	MessageRateLimited    = "Please wait a minute before starting another interview."
	MessageUnavailable    = "The interviewer is temporarily unavailable. Please try again in a few minutes."
	MessageContextFailed  = "We could not load this interview."
	MessageInternalFailed = "The interview could not be started."
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// ClientUserAudioEnd ends the current user turn. Transcription is the client's
// final speech-to-text result and is optional.
type ClientUserAudioEnd struct {
	Type          string  `json:"type"`
	Transcription *string `json:"transcription,omitempty"`
}

// ClientEndInterview ends the interview normally.
type ClientEndInterview struct {
	Type string `json:"type"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeUserAudioEnd:
		var msg ClientUserAudioEnd
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid USER_AUDIO_END", "transcription")
		}
		return msg, nil
	case TypeEndInterview:
		return ClientEndInterview{Type: typ}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

type ServerTurnComplete struct {
	Type string `json:"type"`
}

type ServerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewTurnComplete() ServerTurnComplete {
	return ServerTurnComplete{Type: TypeAITurnComplete}
}

func NewError(message string) ServerError {
	return ServerError{Type: TypeError, Message: message}
}

func NewWarning(code, message string) ServerWarning {
	return ServerWarning{Type: TypeWarning, Code: code, Message: message}
}
