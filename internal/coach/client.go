// Package coach turns conversations into prompts for the language model and
// reports failures as typed errors. It is the only place prompt templates
// live.
package coach

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/llm"
	"github.com/kalambet/innercompass/internal/metrics"
	"github.com/kalambet/innercompass/internal/progress"
	"github.com/sony/gobreaker"
)

const (
	OpTurn    = "turn"
	OpSummary = "summary"
	OpReport  = "report"

	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

// Completer is implemented by llm.Client and llm.Mock.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

type Options struct {
	Model string
	// Temperature zero means DefaultTemperature; config validation rejects a
	// configured zero.
	Temperature float64
	Timeout     time.Duration
	Metrics     *metrics.Collector

	// BreakerThreshold is the number of consecutive failures that opens the
	// circuit. Zero means 5.
	BreakerThreshold uint32
	// BreakerCooldown is how long the circuit stays open. Zero means 30s.
	BreakerCooldown time.Duration
}

// Client generates coach text. Every call is a single attempt bounded by the
// configured timeout; nothing is retried.
type Client struct {
	llm         Completer
	model       string
	temperature float64
	timeout     time.Duration
	breaker     *gobreaker.CircuitBreaker
	metrics     *metrics.Collector
	logger      *slog.Logger
}

func NewClient(c Completer, opts Options) *Client {
	if opts.Model == "" {
		opts.Model = llm.DefaultModel
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	logger := slog.Default()
	threshold := opts.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coach",
		MaxRequests: 1,
		Timeout:     opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not the model's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		llm:         c,
		model:       opts.Model,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		breaker:     cb,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// TurnResponse asks the model for the coach's next reply given the full
// conversation so far.
func (c *Client) TurnResponse(ctx context.Context, topic catalog.Topic, history []progress.Message, displayName string) (string, error) {
	return c.complete(ctx, OpTurn, turnPrompt(topic, history, displayName))
}

// TopicSummary asks for the AI insight summary of a finished topic.
func (c *Client) TopicSummary(ctx context.Context, topic catalog.Topic, history []progress.Message, userSummary string) (string, error) {
	return c.complete(ctx, OpSummary, summaryPrompt(topic, history, userSummary))
}

// HolisticReport asks for the cross-module report over completed topics,
// which must already be in catalog order.
func (c *Client) HolisticReport(ctx context.Context, entries []ReportEntry) (string, error) {
	prompt, err := reportPrompt(entries)
	if err != nil {
		return "", &ServiceError{Op: OpReport, Kind: KindUnavailable, Err: err}
	}
	return c.complete(ctx, OpReport, prompt)
}

func (c *Client) complete(ctx context.Context, op, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.llm.Complete(ctx, llm.CompletionRequest{
			Model:       c.model,
			Messages:    []llm.ChatMessage{{Role: "user", Content: prompt}},
			Temperature: c.temperature,
		})
	})
	elapsed := time.Since(start)

	if err != nil {
		kind := classify(err)
		c.metrics.ObserveCoachCall(op, string(kind), elapsed)
		c.logger.Warn("coach call failed", "op", op, "kind", kind, "elapsed", elapsed, "error", err)
		return "", &ServiceError{Op: op, Kind: kind, Err: err}
	}

	c.metrics.ObserveCoachCall(op, "ok", elapsed)
	c.logger.Debug("coach call", "op", op, "elapsed", elapsed)
	return out.(string), nil
}
