package challenge

import (
	"context"
	"errors"
	"time"
)

var ErrNoChallenge = errors.New("no challenge available for requested categories")
var ErrProviderTimeout = errors.New("challenge provider timed out")

// Provider supplies challenge prompts and rubric judgments. Real deployments
// back this with a content service; the orchestration core only depends on
// this contract.
type Provider interface {
	GetChallenge(ctx context.Context, categories []Category, difficulty Difficulty) (Challenge, error)
	ScoreAgainstRubric(ctx context.Context, text string, timeUsed time.Duration, ch Challenge) (int, error)
}

// TimeoutProvider bounds every call to the wrapped provider. A slow content
// service must never stall a round, so callers treat ErrProviderTimeout as a
// signal to fall back rather than fail.
type TimeoutProvider struct {
	Inner   Provider
	Timeout time.Duration
}

func (p TimeoutProvider) GetChallenge(ctx context.Context, categories []Category, difficulty Difficulty) (Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	type result struct {
		ch  Challenge
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := p.Inner.GetChallenge(ctx, categories, difficulty)
		done <- result{ch, err}
	}()

	select {
	case r := <-done:
		return r.ch, r.err
	case <-ctx.Done():
		return Challenge{}, ErrProviderTimeout
	}
}

func (p TimeoutProvider) ScoreAgainstRubric(ctx context.Context, text string, timeUsed time.Duration, ch Challenge) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	type result struct {
		score int
		err   error
	}
	done := make(chan result, 1)
	go func() {
		s, err := p.Inner.ScoreAgainstRubric(ctx, text, timeUsed, ch)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		return r.score, r.err
	case <-ctx.Done():
		return 0, ErrProviderTimeout
	}
}
