package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/boddenberg/finledger-go/internal/infra/observability"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("fraud")

// Config holds the recognized risk-policy options.
type Config struct {
	MaxAmount         decimal.Decimal
	MerchantDenylist  []string
	VelocityMaxPerMin int
	VelocityWindow    time.Duration
}

// DefaultRules builds the standard rule set in its fixed evaluation order:
// hard blocks first, soft signals last. The velocity tracker is created here
// and owned by the returned rule.
func DefaultRules(cfg Config) []Rule {
	return []Rule{
		NewAmountThresholdRule(cfg.MaxAmount),
		NewMerchantDenylistRule(cfg.MerchantDenylist),
		NewVelocityRule(NewVelocityTracker(cfg.VelocityWindow), cfg.VelocityMaxPerMin),
	}
}

// Engine orchestrates the configured rules into one verdict per attempt.
type Engine struct {
	rules   []Rule
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewEngine creates a risk evaluator over the given rules. Rule order is
// evaluation order.
func NewEngine(rules []Rule, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	return &Engine{rules: rules, metrics: metrics, logger: logger}
}

// Check runs every rule against the attempt, in order, and collapses the
// violations into a single verdict. A violated hard-block rule (weight >= 1.0)
// sets Blocked and stops evaluation immediately; later rules never run and
// never record state for the blocked attempt. A rule that fails internally is
// logged and skipped; it can never itself block a transaction.
func (e *Engine) Check(ctx context.Context, a Attempt) *Verdict {
	ctx, span := tracer.Start(ctx, "Engine.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.id", a.AccountID),
		attribute.String("merchant", a.MerchantName),
	)

	v := newVerdict()

	for _, rule := range e.rules {
		violated, reason, err := e.evaluate(ctx, rule, a)
		if err != nil {
			e.logger.Error("fraud rule failed, skipping",
				zap.String("rule", rule.Name()),
				zap.String("account_id", a.AccountID),
				zap.Error(err),
			)
			continue
		}
		if !violated {
			continue
		}

		v.addRisk(rule.Weight(), reason)
		e.metrics.IncrRuleViolation(rule.Name())
		e.logger.Warn("fraud rule violated",
			zap.String("rule", rule.Name()),
			zap.String("account_id", a.AccountID),
			zap.String("reason", reason),
		)

		if rule.Weight().GreaterThanOrEqual(hardBlockWeight) {
			v.Blocked = true
			v.Passed = false
			e.logger.Warn("transaction blocked by hard rule",
				zap.String("rule", rule.Name()),
				zap.String("account_id", a.AccountID),
			)
			break
		}
	}

	span.SetAttributes(
		attribute.Bool("verdict.passed", v.Passed),
		attribute.Bool("verdict.blocked", v.Blocked),
	)
	return v
}

// evaluate shields the engine from misbehaving rule implementations: both
// returned errors and panics surface as an error, never as a block.
func (e *Engine) evaluate(ctx context.Context, rule Rule, a Attempt) (violated bool, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			violated = false
			reason = ""
			err = &panicError{rule: rule.Name(), value: r}
		}
	}()
	return rule.Evaluate(ctx, a)
}

type panicError struct {
	rule  string
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("rule %s panicked: %v", e.rule, e.value)
}
