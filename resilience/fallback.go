package resilience

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/leofalp/aigo/protocol"
)

// FallbackTarget is one entry in a FallbackChain.
type FallbackTarget struct {
	Name      string
	Operation func(ctx context.Context) (any, error)
	Weight    float64
	Enabled   bool

	// Signals, if set, reports this target's current resilience state,
	// typically an Executor.Signals bound to the target's own Executor.
	// When present the chain orders by Weight*HealthScore() instead of
	// Weight alone, so a degraded target (open breaker, throttled
	// limiter, saturated backpressure gate) sinks below a healthier
	// lower-weight target rather than always being tried first.
	Signals func() Signals
}

// effectiveWeight is Weight scaled by the target's current health, or
// Weight unscaled if it reports no Signals.
func (t *FallbackTarget) effectiveWeight() float64 {
	if t.Signals == nil {
		return t.Weight
	}
	return t.Weight * t.Signals().HealthScore()
}

// FallbackConfig configures chain-execution behavior.
type FallbackConfig struct {
	MaxAttemptsPerTarget  int
	DelayBetweenTargets   time.Duration
}

// DefaultFallbackConfig defaults to one attempt per target.
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{MaxAttemptsPerTarget: 1}
}

// FallbackResult reports the outcome of a FallbackChain.Execute call.
type FallbackResult struct {
	Success      bool
	Value        any
	TargetUsed   string
	TargetsTried []string
	Errors       map[string]error
}

// ErrNoEnabledTargets is returned when a chain has no enabled targets to try.
var ErrNoEnabledTargets = errors.New("fallback: no enabled targets in chain")

// FallbackChain executes an operation across weighted targets in
// descending-weight order, advancing to the next target only when the
// failing error's Kind is fallbackable; a non-fallbackable error aborts
// the chain immediately rather than trying the remaining targets.
type FallbackChain struct {
	cfg     FallbackConfig
	targets []*FallbackTarget
}

// NewFallbackChain constructs an empty FallbackChain.
func NewFallbackChain(cfg FallbackConfig) *FallbackChain {
	if cfg.MaxAttemptsPerTarget <= 0 {
		cfg.MaxAttemptsPerTarget = 1
	}
	return &FallbackChain{cfg: cfg}
}

// AddTarget appends a target and returns the chain for call chaining.
func (c *FallbackChain) AddTarget(name string, op func(ctx context.Context) (any, error), weight float64, enabled bool) *FallbackChain {
	c.targets = append(c.targets, &FallbackTarget{Name: name, Operation: op, Weight: weight, Enabled: enabled})
	return c
}

// AddTargetWithSignals appends a target whose ordering also accounts for
// its current health, as reported by signals (typically an Executor's
// Signals method, bound via a closure).
func (c *FallbackChain) AddTargetWithSignals(name string, op func(ctx context.Context) (any, error), weight float64, enabled bool, signals func() Signals) *FallbackChain {
	c.targets = append(c.targets, &FallbackTarget{Name: name, Operation: op, Weight: weight, Enabled: enabled, Signals: signals})
	return c
}

// RemoveTarget drops a target by name, reporting whether it was present.
func (c *FallbackChain) RemoveTarget(name string) bool {
	for i, t := range c.targets {
		if t.Name == name {
			c.targets = append(c.targets[:i], c.targets[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled toggles a target's enabled flag, reporting whether it was found.
func (c *FallbackChain) SetEnabled(name string, enabled bool) bool {
	for _, t := range c.targets {
		if t.Name == name {
			t.Enabled = enabled
			return true
		}
	}
	return false
}

// Targets returns enabled target names in descending-weight order.
func (c *FallbackChain) Targets() []string {
	sorted := c.enabledSortedTargets()
	names := make([]string, len(sorted))
	for i, t := range sorted {
		names[i] = t.Name
	}
	return names
}

func (c *FallbackChain) enabledSortedTargets() []*FallbackTarget {
	var enabled []*FallbackTarget
	for _, t := range c.targets {
		if t.Enabled {
			enabled = append(enabled, t)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool { return enabled[i].effectiveWeight() > enabled[j].effectiveWeight() })
	return enabled
}

func shouldFallback(err error) bool {
	pe, ok := protocol.As(err)
	if !ok {
		return false
	}
	return pe.Fallbackable()
}

// Execute runs the chain, trying each enabled target in descending-weight
// order until one succeeds, a non-fallbackable error is hit, or every
// target is exhausted. onFallback, if non-nil, is called with (from, to,
// error) immediately before advancing to the next target.
func (c *FallbackChain) Execute(ctx context.Context, onFallback func(from, to string, err error)) FallbackResult {
	targets := c.enabledSortedTargets()
	if len(targets) == 0 {
		return FallbackResult{Success: false, Errors: map[string]error{"_chain": ErrNoEnabledTargets}}
	}

	errs := make(map[string]error)
	var tried []string

	for i, target := range targets {
		tried = append(tried, target.Name)

		for attempt := 0; attempt < c.cfg.MaxAttemptsPerTarget; attempt++ {
			value, err := target.Operation(ctx)
			if err == nil {
				return FallbackResult{Success: true, Value: value, TargetUsed: target.Name, TargetsTried: tried, Errors: errs}
			}
			errs[target.Name] = err

			if !shouldFallback(err) {
				return FallbackResult{Success: false, TargetsTried: tried, Errors: errs}
			}
		}

		if onFallback != nil && i+1 < len(targets) {
			onFallback(target.Name, targets[i+1].Name, errs[target.Name])
		}

		if i+1 < len(targets) && c.cfg.DelayBetweenTargets > 0 {
			timer := time.NewTimer(c.cfg.DelayBetweenTargets)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return FallbackResult{Success: false, TargetsTried: tried, Errors: errs}
			}
		}
	}

	return FallbackResult{Success: false, TargetsTried: tried, Errors: errs}
}

// FallbackRegistry manages multiple named FallbackChains, letting a
// caller route an operation through the chain appropriate to its
// scenario (e.g. one chain per logical request type).
type FallbackRegistry struct {
	chains map[string]*FallbackChain
}

// NewFallbackRegistry constructs an empty registry.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{chains: make(map[string]*FallbackChain)}
}

// Register installs a chain under name, returning the registry for chaining.
func (m *FallbackRegistry) Register(name string, chain *FallbackChain) *FallbackRegistry {
	m.chains[name] = chain
	return m
}

// Chain returns the chain registered under name, if any.
func (m *FallbackRegistry) Chain(name string) (*FallbackChain, bool) {
	c, ok := m.chains[name]
	return c, ok
}

// Execute runs the named chain. Returns an error if no chain is
// registered under that name.
func (m *FallbackRegistry) Execute(ctx context.Context, name string, onFallback func(from, to string, err error)) (FallbackResult, error) {
	chain, ok := m.chains[name]
	if !ok {
		return FallbackResult{}, protocol.New(protocol.KindValidation, "unknown fallback chain: "+name)
	}
	return chain.Execute(ctx, onFallback), nil
}

// ChainNames returns the names of every registered chain.
func (m *FallbackRegistry) ChainNames() []string {
	names := make([]string, 0, len(m.chains))
	for name := range m.chains {
		names = append(names, name)
	}
	return names
}
