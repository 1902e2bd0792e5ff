// Package gemini implements realtime.Provider on top of the Gemini Live API.
package gemini

import "net/http"

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint, mainly for tests and regional proxies.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets the HTTP client used for the initial handshake.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// WithModel sets the default live model used when Options.Model is empty.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default prebuilt voice used when Options.Voice is empty.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}
