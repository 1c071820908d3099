package protocol

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// idPattern constrains Manifest.ID per the external-interface contract.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// supportedProtocolVersions is the closed set of protocol_version strings
// this loader accepts. A version outside this set fails with
// KindProtocolIncompat.
var supportedProtocolVersions = map[string]bool{
	"1.0": true,
	"1.1": true,
	"1.5": true,
	"2.0": true,
}

// Endpoint describes where and how to reach a provider.
type Endpoint struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	Protocol  string `yaml:"protocol" json:"protocol"`
	TimeoutMs int    `yaml:"timeout_ms" json:"timeout_ms"`
	ChatPath  string `yaml:"chat_path" json:"chat_path"`
}

// Auth describes how a credential is resolved and attached to requests.
type Auth struct {
	Type       string `yaml:"type" json:"type"` // "bearer" | "api_key"
	TokenEnv   string `yaml:"token_env" json:"token_env"`
	HeaderName string `yaml:"header_name" json:"header_name"`
}

// Capabilities are the declared feature flags of a provider.
type Capabilities struct {
	Streaming bool `yaml:"streaming" json:"streaming"`
	Tools     bool `yaml:"tools" json:"tools"`
	Vision    bool `yaml:"vision" json:"vision"`
	Reasoning bool `yaml:"reasoning" json:"reasoning"`
}

// DecoderConfig selects and parameterizes a stream Decoder.
type DecoderConfig struct {
	Format     string `yaml:"format" json:"format"` // "sse" | "json_lines" | "anthropic_sse"
	Delimiter  string `yaml:"delimiter" json:"delimiter"`
	Prefix     string `yaml:"prefix" json:"prefix"`
	DoneSignal string `yaml:"done_signal" json:"done_signal"`
}

// AccumulatorConfig toggles stateful per-frame tool-call accumulation.
type AccumulatorConfig struct {
	StatefulToolParsing bool `yaml:"stateful_tool_parsing" json:"stateful_tool_parsing"`
}

// EventMapRule is one entry of a manifest's rule-driven event_map.
type EventMapRule struct {
	Match  string            `yaml:"match" json:"match"`
	Emit   string            `yaml:"emit" json:"emit"`
	Fields map[string]string `yaml:"fields" json:"fields"`
}

// StreamingConfig groups the whole streaming sub-configuration of a Manifest.
type StreamingConfig struct {
	Decoder       DecoderConfig     `yaml:"decoder" json:"decoder"`
	FrameSelector string            `yaml:"frame_selector" json:"frame_selector"`
	Accumulator   AccumulatorConfig `yaml:"accumulator" json:"accumulator"`
	EventMap      []EventMapRule    `yaml:"event_map" json:"event_map"`
	ContentPath   string            `yaml:"content_path" json:"content_path"`
	ToolCallPath  string            `yaml:"tool_call_path" json:"tool_call_path"`
	UsagePath     string            `yaml:"usage_path" json:"usage_path"`
}

// RetryPolicyConfig is the manifest-declared retry policy.
type RetryPolicyConfig struct {
	MaxRetries        int    `yaml:"max_retries" json:"max_retries"`
	MinDelayMs        int    `yaml:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMs        int    `yaml:"max_delay_ms" json:"max_delay_ms"`
	Jitter            string `yaml:"jitter" json:"jitter"` // "none" | "full" | "equal"
	RetryOnHTTPStatus []int  `yaml:"retry_on_http_status" json:"retry_on_http_status"`
}

// RateLimitHeaders names the response headers an adaptive rate limiter reads.
type RateLimitHeaders struct {
	RequestsLimit     string `yaml:"requests_limit" json:"requests_limit"`
	RequestsRemaining string `yaml:"requests_remaining" json:"requests_remaining"`
	RequestsReset     string `yaml:"requests_reset" json:"requests_reset"`
	RetryAfter        string `yaml:"retry_after" json:"retry_after"`
}

// ErrorClassificationConfig maps HTTP statuses (as strings, per the wire
// manifest format) to declared ErrorKind names.
type ErrorClassificationConfig struct {
	ByHTTPStatus map[string]string `yaml:"by_http_status" json:"by_http_status"`
}

// Manifest is the immutable, versioned description of one provider. It is
// the single source of truth every other component consults to adapt its
// behavior to that provider's wire format.
type Manifest struct {
	ID                 string                    `yaml:"id" json:"id"`
	ProtocolVersion     string                    `yaml:"protocol_version" json:"protocol_version"`
	Endpoint           Endpoint                  `yaml:"endpoint" json:"endpoint"`
	Auth               Auth                      `yaml:"auth" json:"auth"`
	Capabilities       Capabilities              `yaml:"capabilities" json:"capabilities"`
	ParameterMappings  map[string]string         `yaml:"parameter_mappings" json:"parameter_mappings"`
	Streaming          StreamingConfig           `yaml:"streaming" json:"streaming"`
	RetryPolicy        RetryPolicyConfig         `yaml:"retry_policy" json:"retry_policy"`
	RateLimitHeaders   RateLimitHeaders          `yaml:"rate_limit_headers" json:"rate_limit_headers"`
	ErrorClassification ErrorClassificationConfig `yaml:"error_classification" json:"error_classification"`

	// compiled holds the predicate ASTs parsed from FrameSelector and each
	// EventMapRule's Match expression at load time, never re-parsed at
	// event time.
	compiled *compiledManifest
}

type compiledManifest struct {
	frameSelector *Predicate
	ruleMatchers  []*Predicate
}

// Validate checks a Manifest against the validation rules declared in the
// external-interface contract, failing fast in strict mode. When strict is
// false, only structural errors (not coverage gates) are enforced.
func (m *Manifest) Validate(strict bool) error {
	if !idPattern.MatchString(m.ID) {
		return New(KindManifestInvalid, fmt.Sprintf("manifest id %q does not match %s", m.ID, idPattern.String()))
	}
	if m.Endpoint.BaseURL == "" {
		return New(KindManifestInvalid, "endpoint.base_url is required")
	}
	if _, err := url.ParseRequestURI(m.Endpoint.BaseURL); err != nil {
		return Wrap(KindManifestInvalid, "endpoint.base_url is not a well-formed URL", err)
	}
	if m.ProtocolVersion != "" && !supportedProtocolVersions[m.ProtocolVersion] {
		return New(KindProtocolIncompat, fmt.Sprintf("unsupported protocol_version %q", m.ProtocolVersion))
	}

	if strict && m.Capabilities.Streaming {
		if m.Streaming.Decoder.Format == "" {
			return New(KindManifestInvalid, "streaming.decoder.format is required when capabilities.streaming is true")
		}
		hasEventMap := len(m.Streaming.EventMap) > 0
		hasContentPath := m.Streaming.ContentPath != ""
		if !hasEventMap && !hasContentPath {
			return New(KindManifestInvalid, "streaming requires either event_map or content_path")
		}
		if m.Capabilities.Tools && !hasEventMap && m.Streaming.ToolCallPath == "" {
			return New(KindManifestInvalid, "streaming.tool_call_path is required when capabilities.tools is true and no event_map is declared")
		}
	}
	return nil
}

// Compile parses every predicate string the Manifest declares into an AST,
// so that event-time evaluation never re-parses a string (per the
// re-architecture design note). Compile is idempotent; Validate does not
// call it automatically because a manifest may be validated non-strictly
// before capabilities are known to require streaming.
func (m *Manifest) Compile() error {
	cm := &compiledManifest{}
	if m.Streaming.FrameSelector != "" {
		pred, err := ParsePredicate(m.Streaming.FrameSelector)
		if err != nil {
			return Wrap(KindManifestInvalid, "invalid streaming.frame_selector", err)
		}
		cm.frameSelector = pred
	}
	cm.ruleMatchers = make([]*Predicate, len(m.Streaming.EventMap))
	for i, rule := range m.Streaming.EventMap {
		pred, err := ParsePredicate(rule.Match)
		if err != nil {
			return Wrap(KindManifestInvalid, fmt.Sprintf("invalid event_map[%d].match", i), err)
		}
		cm.ruleMatchers[i] = pred
	}
	m.compiled = cm
	return nil
}

// FrameSelectorPredicate returns the compiled frame selector, or nil if none
// was declared. Panics if Compile has not been called; callers always
// receive compiled manifests from Loader.
func (m *Manifest) FrameSelectorPredicate() *Predicate {
	if m.compiled == nil {
		return nil
	}
	return m.compiled.frameSelector
}

// RuleMatcher returns the compiled predicate for EventMap[i].
func (m *Manifest) RuleMatcher(i int) *Predicate {
	if m.compiled == nil || i >= len(m.compiled.ruleMatchers) {
		return nil
	}
	return m.compiled.ruleMatchers[i]
}

// ChatEndpointPath returns the path to append to Endpoint.BaseURL for chat
// completion requests.
func (m *Manifest) ChatEndpointPath() string {
	if m.Endpoint.ChatPath != "" {
		return m.Endpoint.ChatPath
	}
	return "/chat/completions"
}

// ParameterName maps a standard request parameter name to this provider's
// wire name. Total: an unmapped name returns itself unchanged (P1).
func (m *Manifest) ParameterName(standardName string) string {
	if mapped, ok := m.ParameterMappings[standardName]; ok {
		return mapped
	}
	return standardName
}

// ErrorKindForHTTPStatus consults the manifest's declared
// error_classification table for an HTTP status code.
func (m *Manifest) ErrorKindForHTTPStatus(status int) (ErrorKind, bool) {
	if m.ErrorClassification.ByHTTPStatus == nil {
		return "", false
	}
	name, ok := m.ErrorClassification.ByHTTPStatus[strconv.Itoa(status)]
	if !ok {
		return "", false
	}
	return ErrorKind(name), true
}

// SupportsStreaming, SupportsTools, SupportsVision are convenience
// accessors over Capabilities.
func (m *Manifest) SupportsStreaming() bool { return m.Capabilities.Streaming }
func (m *Manifest) SupportsTools() bool     { return m.Capabilities.Tools }
func (m *Manifest) SupportsVision() bool    { return m.Capabilities.Vision }

// EffectiveTimeoutMs resolves the manifest's declared timeout, defaulting
// to 10000ms when unset.
func (m *Manifest) EffectiveTimeoutMs() int {
	if m.Endpoint.TimeoutMs > 0 {
		return m.Endpoint.TimeoutMs
	}
	return 10000
}

// AuthHeaderName returns the header name auth should be attached under.
func (m *Manifest) AuthHeaderName() string {
	if m.Auth.HeaderName != "" {
		return m.Auth.HeaderName
	}
	return "Authorization"
}

// FormatAuthValue formats a resolved credential per the manifest's auth type.
func (m *Manifest) FormatAuthValue(credential string) string {
	switch strings.ToLower(m.Auth.Type) {
	case "api_key":
		return credential
	default: // "bearer"
		return "Bearer " + credential
	}
}
