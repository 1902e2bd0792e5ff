package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-interview/pkg/core/realtime"
)

const (
	// DefaultModel is the native-audio live model used for interviews.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultVoice is the prebuilt interviewer voice.
	DefaultVoice = "Puck"

	inputMIMEType = "audio/pcm;rate=16000"
)

// liveSession is the subset of *genai.Session the stream depends on.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

// Provider opens Gemini Live sessions.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
	voice      string

	connect connectFunc
}

var _ realtime.Provider = (*Provider)(nil)

// New creates a new Gemini Live provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
		model:  DefaultModel,
		voice:  DefaultVoice,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.connect == nil {
		p.connect = p.dial
	}
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Connect opens a live session configured for spoken interviews.
func (p *Provider) Connect(ctx context.Context, opts realtime.Options) (realtime.Stream, error) {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = p.model
	}
	voice := strings.TrimSpace(opts.Voice)
	if voice == "" {
		voice = p.voice
	}

	session, err := p.connect(ctx, model, liveConfig(opts.SystemInstruction, voice))
	if err != nil {
		return nil, classifyError(fmt.Errorf("gemini live connect: %w", err))
	}
	return newStream(session), nil
}

func (p *Provider) dial(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:     p.apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, err
	}
	session, err := client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func liveConfig(instruction, voice string) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if strings.TrimSpace(instruction) != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		}
	}
	if voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		}
	}
	return cfg
}
