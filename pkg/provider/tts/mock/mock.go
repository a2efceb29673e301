// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelgate/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Req is the request passed to Synthesize.
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Synthesize when SynthesizeFunc is unset. If nil,
	// a small MP3-tagged clip is returned.
	Result *tts.Result

	// Err, if non-nil, is returned by every Synthesize call.
	Err error

	// SynthesizeFunc, if set, overrides Result/Err entirely.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (*tts.Result, error)

	// SynthesizeCalls records every call in order.
	SynthesizeCalls []SynthesizeCall
}

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (*tts.Result, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Req: req})
	fn := p.SynthesizeFunc
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return &tts.Result{Format: "audio/mpeg", Data: []byte("mp3:" + req.Text)}, nil
}

// Calls returns a snapshot of recorded calls. Thread-safe.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

var _ tts.Provider = (*Provider)(nil)
