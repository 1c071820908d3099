package protocol

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/leofalp/aigo/internal/config"
	"github.com/leofalp/aigo/providers/observability"
)

// defaultSearchPaths are tried, in order, for a manifest directory when no
// explicit base path and no environment variable resolve one.
var defaultSearchPaths = []string{
	"protocols",
	"manifests",
	filepath.Join("config", "protocols"),
	filepath.Join(".", "protocol", "manifests"),
}

const githubRawBase = "https://raw.githubusercontent.com"

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithBasePath pins the directory manifests are read from, taking priority
// over AI_PROTOCOL_DIR/AI_PROTOCOL_PATH and the built-in search paths.
func WithBasePath(path string) LoaderOption {
	return func(l *Loader) { l.basePath = path }
}

// WithGitHubFallback enables fetching "{owner}/{repo}" manifests from
// raw.githubusercontent.com when no local file is found.
func WithGitHubFallback(ownerRepo, ref string) LoaderOption {
	return func(l *Loader) {
		l.githubOwnerRepo = ownerRepo
		l.githubRef = ref
	}
}

// WithHTTPClient overrides the http.Client used for the GitHub fallback.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) { l.httpClient = c }
}

// WithObservability attaches an observability.Provider so loads, cache
// hits, and GitHub fallbacks are traced and logged the way every other
// component in the client is.
func WithObservability(p observability.Provider) LoaderOption {
	return func(l *Loader) { l.obs = p }
}

// Loader resolves provider manifests by id: from an explicit base path, an
// environment variable, a set of conventional relative directories, or
// (optionally) a GitHub raw-content fallback. Resolved manifests are
// validated, predicate-compiled, and cached by id.
type Loader struct {
	basePath        string
	githubOwnerRepo string
	githubRef       string
	httpClient      *http.Client
	obs             observability.Provider

	mu    sync.RWMutex
	cache map[string]*Manifest
}

// NewLoader constructs a Loader, resolving its base path per the documented
// search order: explicit WithBasePath > AI_PROTOCOL_DIR > AI_PROTOCOL_PATH >
// conventional relative paths (first one that exists on disk).
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		httpClient: http.DefaultClient,
		cache:      make(map[string]*Manifest),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.basePath == "" {
		l.basePath = resolveBasePath()
	}
	return l
}

func resolveBasePath() string {
	if v := os.Getenv("AI_PROTOCOL_DIR"); v != "" {
		return v
	}
	if v := os.Getenv("AI_PROTOCOL_PATH"); v != "" {
		return v
	}
	for _, p := range defaultSearchPaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	return defaultSearchPaths[0]
}

// providerPath returns the candidate file paths for a provider id, tried in
// order: a compiled-dist JSON form first, then a source YAML form.
func (l *Loader) providerPath(id string) []string {
	return []string{
		filepath.Join(l.basePath, "dist", "v1", "providers", id+".json"),
		filepath.Join(l.basePath, "v1", "providers", id+".yaml"),
		filepath.Join(l.basePath, id+".yaml"),
		filepath.Join(l.basePath, id+".json"),
	}
}

// LoadProvider resolves, parses, validates, and compiles the manifest for
// id. Results are cached; call Invalidate or ClearCache to force a re-read.
func (l *Loader) LoadProvider(ctx context.Context, id string) (*Manifest, error) {
	if l.obs != nil {
		var span observability.Span
		ctx, span = l.obs.StartSpan(ctx, "protocol.loader.load_provider",
			observability.String("provider.id", id))
		defer span.End()
	}

	l.mu.RLock()
	if m, ok := l.cache["provider:"+id]; ok {
		l.mu.RUnlock()
		if l.obs != nil {
			l.obs.Debug(ctx, "manifest cache hit", observability.String("provider.id", id))
		}
		return m, nil
	}
	l.mu.RUnlock()

	data, source, err := l.readManifestBytes(ctx, id)
	if err != nil {
		return nil, err
	}

	m, err := parseManifest(data, source)
	if err != nil {
		return nil, err
	}
	if err := m.Validate(config.StrictStreaming()); err != nil {
		return nil, err
	}
	if err := m.Compile(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache["provider:"+id] = m
	l.mu.Unlock()

	if l.obs != nil {
		l.obs.Info(ctx, "manifest loaded", observability.String("provider.id", id), observability.String("source", source))
	}
	return m, nil
}

func (l *Loader) readManifestBytes(ctx context.Context, id string) (data []byte, source string, err error) {
	for _, p := range l.providerPath(id) {
		b, readErr := os.ReadFile(p)
		if readErr == nil {
			return b, p, nil
		}
	}
	if l.githubOwnerRepo != "" {
		b, ghErr := l.loadFromGitHub(ctx, id)
		if ghErr == nil {
			return b, "github:" + l.githubOwnerRepo, nil
		}
		return nil, "", Wrap(KindManifestNotFound, fmt.Sprintf("manifest %q not found locally or on GitHub", id), ghErr)
	}
	return nil, "", New(KindManifestNotFound, fmt.Sprintf("manifest %q not found under %q", id, l.basePath))
}

func (l *Loader) loadFromGitHub(ctx context.Context, id string) ([]byte, error) {
	ref := l.githubRef
	if ref == "" {
		ref = "main"
	}
	url := fmt.Sprintf("%s/%s/%s/v1/providers/%s.yaml", githubRawBase, l.githubOwnerRepo, ref, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github raw fetch for %q returned status %d", id, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parseManifest(data []byte, source string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, Wrap(KindManifestParseError, fmt.Sprintf("failed to parse manifest %q", source), err)
	}
	return &m, nil
}

// Register installs a Manifest directly into the cache, bypassing disk/
// network resolution. Used for runtime-constructed or test manifests.
func (l *Loader) Register(m *Manifest) error {
	if err := m.Validate(config.StrictStreaming()); err != nil {
		return err
	}
	if err := m.Compile(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache["provider:"+m.ID] = m
	return nil
}

// Invalidate drops a single cached manifest by id, forcing the next
// LoadProvider call to re-resolve it from disk or the network.
func (l *Loader) Invalidate(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.cache, "provider:"+id)
}

// ClearCache drops every cached manifest.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Manifest)
}
