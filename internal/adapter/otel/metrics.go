package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "agentforge"

// Metrics holds all AgentForge metric instruments.
type Metrics struct {
	TriggerRuns     metric.Int64Counter
	ToolCalls       metric.Int64Counter
	ToolFailures    metric.Int64Counter
	Generations     metric.Int64Counter
	WalletDenied    metric.Int64Counter
	TokensUsed      metric.Int64Counter
	TriggerDuration metric.Float64Histogram
	TTFBSeconds     metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.TriggerRuns, err = meter.Int64Counter("agentforge.trigger.runs",
		metric.WithDescription("Trigger runs by type and status")); err != nil {
		return nil, err
	}
	if m.ToolCalls, err = meter.Int64Counter("agentforge.tool.calls",
		metric.WithDescription("Tool invocations")); err != nil {
		return nil, err
	}
	if m.ToolFailures, err = meter.Int64Counter("agentforge.tool.failures",
		metric.WithDescription("Failed tool invocations that evicted the tool set")); err != nil {
		return nil, err
	}
	if m.Generations, err = meter.Int64Counter("agentforge.agent.generations",
		metric.WithDescription("Model generations by operation")); err != nil {
		return nil, err
	}
	if m.WalletDenied, err = meter.Int64Counter("agentforge.wallet.denied",
		metric.WithDescription("Generations rejected for insufficient funds")); err != nil {
		return nil, err
	}
	if m.TokensUsed, err = meter.Int64Counter("agentforge.llm.tokens",
		metric.WithDescription("Tokens consumed"), metric.WithUnit("{token}")); err != nil {
		return nil, err
	}
	if m.TriggerDuration, err = meter.Float64Histogram("agentforge.trigger.duration_seconds",
		metric.WithDescription("Trigger run duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.TTFBSeconds, err = meter.Float64Histogram("agentforge.stream.ttfb_seconds",
		metric.WithDescription("Time to first streamed chunk"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}
