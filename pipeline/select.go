package pipeline

import "github.com/leofalp/aigo/protocol"

// Selector decides whether a decoded Frame carries payload worth mapping
// to events, filtering out provider-specific keepalive/ping frames.
type Selector interface {
	Select(frame Frame) bool
}

// PredicateSelector selects frames matching a compiled predicate, the
// same AST the Manifest compiles its frame_selector expression into at
// load time.
type PredicateSelector struct {
	pred *protocol.Predicate
}

// NewPredicateSelector wraps a compiled predicate as a Selector.
func NewPredicateSelector(pred *protocol.Predicate) *PredicateSelector {
	return &PredicateSelector{pred: pred}
}

func (s *PredicateSelector) Select(frame Frame) bool {
	return s.pred.Eval(frame.Data)
}

// PassThroughSelector selects every frame.
type PassThroughSelector struct{}

func (PassThroughSelector) Select(Frame) bool { return true }

// NewSelector builds the Selector for a Manifest's compiled frame
// selector, falling back to PassThroughSelector when none was declared.
func NewSelector(m *protocol.Manifest) Selector {
	if pred := m.FrameSelectorPredicate(); pred != nil {
		return NewPredicateSelector(pred)
	}
	return PassThroughSelector{}
}
