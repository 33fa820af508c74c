package fraud

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Attempt is the transaction data a rule judges. Context carries free-form
// extras for custom rules; the built-in rules ignore it.
type Attempt struct {
	AccountID    string
	Amount       decimal.Decimal
	MerchantName string
	Context      map[string]any
}

// Rule evaluates one fraud pattern against an attempt. A rule whose weight is
// >= 1.0 is a hard-block rule: its violation alone rejects the attempt and
// stops evaluation. Evaluate errors never block an attempt; the engine logs
// and skips the rule.
type Rule interface {
	Name() string
	Weight() decimal.Decimal
	Evaluate(ctx context.Context, a Attempt) (violated bool, reason string, err error)
}

// ============================================================
// Amount threshold
// ============================================================

// AmountThresholdRule rejects transactions above a configured ceiling.
// Larger amounts belong in a separate approval workflow.
type AmountThresholdRule struct {
	maxAmount decimal.Decimal
}

func NewAmountThresholdRule(maxAmount decimal.Decimal) *AmountThresholdRule {
	return &AmountThresholdRule{maxAmount: maxAmount}
}

func (r *AmountThresholdRule) Name() string            { return "amount_threshold" }
func (r *AmountThresholdRule) Weight() decimal.Decimal { return hardBlockWeight }

func (r *AmountThresholdRule) Evaluate(_ context.Context, a Attempt) (bool, string, error) {
	if a.Amount.GreaterThan(r.maxAmount) {
		return true, fmt.Sprintf("transaction amount %s exceeds maximum allowed %s",
			a.Amount, r.maxAmount), nil
	}
	return false, "", nil
}

// ============================================================
// Merchant denylist
// ============================================================

// MerchantDenylistRule rejects transactions whose merchant matches a denied
// term, either exactly or by substring containment. Matching is
// case-insensitive; terms are normalized at construction.
type MerchantDenylistRule struct {
	terms []string
}

func NewMerchantDenylistRule(denylist []string) *MerchantDenylistRule {
	terms := make([]string, 0, len(denylist))
	for _, t := range denylist {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			terms = append(terms, t)
		}
	}
	return &MerchantDenylistRule{terms: terms}
}

func (r *MerchantDenylistRule) Name() string            { return "merchant_denylist" }
func (r *MerchantDenylistRule) Weight() decimal.Decimal { return hardBlockWeight }

func (r *MerchantDenylistRule) Evaluate(_ context.Context, a Attempt) (bool, string, error) {
	merchant := strings.ToUpper(strings.TrimSpace(a.MerchantName))
	for _, term := range r.terms {
		if merchant == term {
			return true, fmt.Sprintf("merchant %q is on the denylist", a.MerchantName), nil
		}
		if strings.Contains(merchant, term) {
			return true, fmt.Sprintf("merchant %q matches denylist pattern %q", a.MerchantName, term), nil
		}
	}
	return false, "", nil
}

// ============================================================
// Velocity
// ============================================================

// VelocityTracker holds per-account attempt timestamps inside a sliding
// window. It is owned by the engine instance that uses it, never a package
// global, so tests can isolate instances.
type VelocityTracker struct {
	mu       sync.Mutex
	window   time.Duration
	attempts map[string][]time.Time
}

func NewVelocityTracker(window time.Duration) *VelocityTracker {
	return &VelocityTracker{
		window:   window,
		attempts: make(map[string][]time.Time),
	}
}

// Hit prunes expired timestamps for the account, reports how many attempts
// are already inside the window, and records the current attempt only when
// the cap is not yet reached. The whole sequence runs under one lock so
// concurrent attempts for the same account do not lose counts.
func (t *VelocityTracker) Hit(accountID string, now time.Time, cap int) (count int, violated bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.window)
	kept := t.attempts[accountID][:0]
	for _, ts := range t.attempts[accountID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= cap {
		t.attempts[accountID] = kept
		return len(kept), true
	}

	t.attempts[accountID] = append(kept, now)
	return len(kept), false
}

// VelocityRule flags rapid successive attempts on the same account
// (card-testing pattern). It is a soft signal: weight 0.3, never a hard block.
//
// The current attempt's timestamp is recorded only when this rule actually
// runs, so a hard-block short-circuit earlier in the rule order leaves no
// velocity state behind for the blocked attempt.
type VelocityRule struct {
	tracker      *VelocityTracker
	maxPerWindow int
	now          func() time.Time
}

func NewVelocityRule(tracker *VelocityTracker, maxPerWindow int) *VelocityRule {
	return &VelocityRule{tracker: tracker, maxPerWindow: maxPerWindow, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (r *VelocityRule) WithClock(now func() time.Time) *VelocityRule {
	r.now = now
	return r
}

func (r *VelocityRule) Name() string            { return "velocity" }
func (r *VelocityRule) Weight() decimal.Decimal { return decimal.RequireFromString("0.3") }

func (r *VelocityRule) Evaluate(_ context.Context, a Attempt) (bool, string, error) {
	count, violated := r.tracker.Hit(a.AccountID, r.now(), r.maxPerWindow)
	if violated {
		return true, fmt.Sprintf("too many transactions in short period (%d in sliding window)", count), nil
	}
	return false, "", nil
}
