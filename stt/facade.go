package stt

import (
	"context"
	"time"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/logger"
	"github.com/AuralStack/ScribeFlow/transcript"
)

const (
	// facadeMaxAttempts is how many times the primary provider is tried
	// before falling back.
	facadeMaxAttempts = 3

	// facadeBaseBackoff doubles per attempt: 2s, 4s, 8s.
	facadeBaseBackoff = 2 * time.Second
)

// Facade wraps a primary and optional fallback provider behind the
// Service interface, adding the retry policy and word-timing
// synthesis the engine depends on:
//
//   - transient failures are retried up to 3 times with exponential
//     backoff (2s, 4s, 8s);
//   - an explicit provider rate limit surfaces as RateLimited rather
//     than empty text;
//   - bad media surfaces immediately, retrying identical bytes cannot
//     succeed;
//   - when the primary stays unavailable the fallback is tried with
//     the identical request;
//   - results without word timings get uniform synthetic intervals at
//     confidence 0 so timed words always win overlap resolution.
type Facade struct {
	primary  Service
	fallback Service
	sleep    func(context.Context, time.Duration) error
}

// FacadeOption configures a Facade.
type FacadeOption func(*Facade)

// WithFallback sets the secondary provider.
func WithFallback(fallback Service) FacadeOption {
	return func(f *Facade) {
		f.fallback = fallback
	}
}

// withSleep overrides the backoff sleeper in tests.
func withSleep(sleep func(context.Context, time.Duration) error) FacadeOption {
	return func(f *Facade) {
		f.sleep = sleep
	}
}

// NewFacade creates the provider façade.
func NewFacade(primary Service, opts ...FacadeOption) *Facade {
	f := &Facade{
		primary: primary,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name identifies the façade by its primary provider.
func (f *Facade) Name() string {
	return f.primary.Name()
}

// SupportedFormats reports the primary provider's formats.
func (f *Facade) SupportedFormats() []string {
	return f.primary.SupportedFormats()
}

// Transcribe runs the retry/fallback policy and normalizes the result.
func (f *Facade) Transcribe(ctx context.Context, audio []byte, config TranscriptionConfig) (*Result, error) {
	result, err := f.attempt(ctx, f.primary, audio, config)
	if err != nil && f.fallback != nil && fault.IsKind(err, fault.KindProviderUnavailable) {
		logger.Warn("primary STT provider unavailable, using fallback",
			"primary", f.primary.Name(), "fallback", f.fallback.Name())
		result, err = f.attempt(ctx, f.fallback, audio, config)
	}
	if err != nil {
		return nil, err
	}
	return f.normalize(result, audio, config), nil
}

// attempt calls one provider with the retry policy.
func (f *Facade) attempt(ctx context.Context, svc Service, audio []byte, config TranscriptionConfig) (*Result, error) {
	var lastErr error
	for i := 0; i < facadeMaxAttempts; i++ {
		if i > 0 {
			backoff := facadeBaseBackoff << (i - 1)
			if err := f.sleep(ctx, backoff); err != nil {
				return nil, fault.Timeout("provider_timeout", "transcription timed out", err)
			}
		}

		result, err := svc.Transcribe(ctx, audio, config)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch fault.KindOf(err) {
		case fault.KindRateLimited:
			// Never substitute empty text for a quota rejection.
			return nil, err
		case fault.KindProviderBadMedia, fault.KindInvalidInput:
			return nil, err
		case fault.KindTimeout, fault.KindProviderUnavailable:
			if !fault.IsRetryable(err) {
				return nil, err
			}
			logger.ProviderError(svc.Name(), "transcribe", err, "attempt", i+1)
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

// normalize guarantees the word-timing contract: when the provider
// returned no word list, uniform intervals are synthesized across the
// chunk duration at confidence 0.
func (f *Facade) normalize(result *Result, audio []byte, config TranscriptionConfig) *Result {
	if len(result.Words) > 0 || result.Text == "" {
		return result
	}

	durationMs := int64(result.DurationS * 1000)
	if durationMs <= 0 {
		config = config.withDefaults()
		durationMs = pcmDurationMs(audio, config)
	}
	if durationMs <= 0 {
		return result
	}

	result.Words = transcript.SynthesizeUniform(result.Text, 0, durationMs)
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Service = (*Facade)(nil)
