package loadgen

import (
	"context"
	"fmt"
	"net/http"
)

type WarmupStep string

const (
	StepHealth   WarmupStep = "health"
	StepBackend  WarmupStep = "backend"
	StepGenerate WarmupStep = "generate"
)

const defaultWarmupPrompt = "Hello"

// WarmupError names the step that stopped the warmup.
type WarmupError struct {
	Step   WarmupStep
	Status int
	Err    error
}

func (e *WarmupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("warmup %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("warmup %s: status %d", e.Step, e.Status)
}

func (e *WarmupError) Unwrap() error { return e.Err }

// Warmup checks /health and /health/ollama, then sends one /chat so the
// backend loads the model before real traffic arrives. onStep runs after each
// step passes.
func Warmup(ctx context.Context, c *Client, model, prompt string, onStep func(WarmupStep)) (*ChatReply, error) {
	if prompt == "" {
		prompt = defaultWarmupPrompt
	}
	for _, s := range []struct {
		step WarmupStep
		path string
	}{
		{StepHealth, "/health"},
		{StepBackend, "/health/ollama"},
	} {
		status, err := c.Get(ctx, s.path)
		if err != nil || status != http.StatusOK {
			return nil, &WarmupError{Step: s.step, Status: status, Err: err}
		}
		if onStep != nil {
			onStep(s.step)
		}
	}

	reply, err := c.Chat(ctx, prompt, model)
	if err != nil {
		return nil, &WarmupError{Step: StepGenerate, Err: err}
	}
	if onStep != nil {
		onStep(StepGenerate)
	}
	return reply, nil
}
