package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"oneiric/internal/api"
	"oneiric/internal/config"
	"oneiric/internal/events"
	"oneiric/internal/manifest"
	"oneiric/internal/registry"
	"oneiric/internal/resilience"
	"oneiric/pkg/logging"
)

// ArtifactDirName is the digest-keyed artifact cache under the cache
// directory.
const ArtifactDirName = "artifacts"

// maxManifestBytes bounds how much of a manifest response is read.
const maxManifestBytes = 8 << 20

// maxArtifactBytes bounds a single artifact download.
const maxArtifactBytes = 512 << 20

// Loader fetches signed manifests, verifies them, caches their artifacts
// and registers their entries as remote candidates. Transient fetch
// failures retry per policy; sustained failures open a circuit breaker
// that short-circuits syncs until its reset window elapses.
type Loader struct {
	registry *registry.Registry
	bus      *events.Bus
	cfg      config.RemoteSettings
	cacheDir string
	trusted  []ed25519.PublicKey
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewLoader creates a remote loader. Trusted keys come pre-parsed from
// the environment; an empty set means only unsigned manifests can pass
// (and only when signatures are not required).
func NewLoader(reg *registry.Registry, bus *events.Bus, cfg config.RemoteSettings, cacheDir string, trusted []ed25519.PublicKey) *Loader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRemoteTimeout
	}
	return &Loader{
		registry: reg,
		bus:      bus,
		cfg:      cfg,
		cacheDir: cacheDir,
		trusted:  trusted,
		client:   &http.Client{Timeout: timeout},
		breaker:  resilience.NewBreaker("remote-manifest", cfg.Breaker),
	}
}

// Sync performs one full manifest sync against url: fetch, parse,
// validate, verify, cache artifacts, register candidates. The returned
// SyncResult is non-nil on success and on per-entry partial failures;
// fetch, parse, schema and signature failures return an error and no
// result.
func (l *Loader) Sync(ctx context.Context, url string) (*SyncResult, error) {
	started := time.Now()

	result, err := l.sync(ctx, url, started)
	if err != nil {
		outcome := "failure"
		if resilience.IsBreakerOpen(err) {
			outcome = "breaker_open"
			l.publish(events.Event{Reason: events.ReasonRemoteBreakerOpen, Message: url})
		} else {
			l.publish(events.Event{Reason: events.ReasonRemoteSyncFailed, Message: url, Error: err.Error()})
		}
		if sink := l.metricsSink(); sink != nil {
			sink.ObserveRemoteSync(outcome)
		}
		l.persistStatus(&Status{URL: url, SyncedAt: started, LastError: err.Error()})
		return nil, err
	}

	l.publish(events.Event{
		Reason: events.ReasonRemoteSyncSucceeded, Message: url,
		Fields: map[string]interface{}{
			"registered":  result.Registered,
			"skipped":     result.Skipped,
			"duration_ms": result.DurationMS,
		},
	})
	if sink := l.metricsSink(); sink != nil {
		sink.ObserveRemoteSync("success")
	}
	l.persistStatus(&Status{
		URL:        url,
		SyncedAt:   started,
		DurationMS: result.DurationMS,
		Registered: result.Registered,
		Skipped:    result.Skipped,
		PerDomain:  result.PerDomain,
	})
	return result, nil
}

func (l *Loader) sync(ctx context.Context, url string, started time.Time) (*SyncResult, error) {
	data, err := l.fetchManifest(ctx, url)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	if err := manifest.Verify(m, l.trusted, l.cfg.RequireSignature); err != nil {
		return nil, err
	}

	result := &SyncResult{
		Source:    m.Source,
		URL:       url,
		PerDomain: make(map[string]int),
		Digests:   make(map[string]int),
	}
	for i := range m.Entries {
		entry := &m.Entries[i]
		if err := l.registerEntry(ctx, entry, result); err != nil {
			result.Skipped++
			logging.Warn("Remote", "Skipping manifest entry %s: %v", entry.String(), err)
			l.publish(events.Event{
				Reason: events.ReasonManifestEntrySkipped,
				Domain: entry.DomainLabel(), Key: entry.Key, Provider: entry.Provider,
				Error: err.Error(),
			})
		}
	}
	result.DurationMS = time.Since(started).Milliseconds()
	return result, nil
}

// fetchManifest downloads the manifest body under the retry policy,
// gated by the circuit breaker.
func (l *Loader) fetchManifest(ctx context.Context, url string) ([]byte, error) {
	body, err := l.breaker.Execute(func() (interface{}, error) {
		var data []byte
		err := resilience.Retry(ctx, l.cfg.Retry, "Remote", func(ctx context.Context) error {
			var fetchErr error
			data, fetchErr = l.httpGet(ctx, url, maxManifestBytes)
			return fetchErr
		})
		return data, err
	})
	if err != nil {
		if resilience.IsBreakerOpen(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if api.IsRemoteSyncError(err, "") {
			return nil, err
		}
		return nil, api.NewRemoteSyncError(api.RemoteSyncNetwork, url, "manifest fetch failed", err)
	}
	return body.([]byte), nil
}

func (l *Loader) httpGet(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, api.NewRemoteSyncError(api.RemoteSyncNetwork, url, "building request", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// registerEntry caches the entry's artifact (when present) and registers
// it as a remote candidate carrying the full manifest record as audit
// metadata.
func (l *Loader) registerEntry(ctx context.Context, entry *manifest.Entry, result *SyncResult) error {
	metadata := entry.AuditMetadata()
	if result.Source != "" {
		metadata["manifest_source"] = result.Source
	}

	if entry.URI != "" {
		cached, outcome, err := l.ensureArtifact(ctx, entry)
		if outcome != "" {
			result.Digests[outcome]++
			if sink := l.metricsSink(); sink != nil {
				sink.ObserveDigestCheck(outcome)
			}
		}
		if err != nil {
			return err
		}
		metadata["artifact_path"] = cached
	}

	_, err := l.registry.Register(registry.Candidate{
		Domain:     entry.DomainLabel(),
		Key:        entry.Key,
		Provider:   entry.Provider,
		Factory:    entry.Factory,
		StackLevel: entry.StackLevel,
		Priority:   entry.Priority,
		Source:     api.SourceRemote,
		Version:    entry.Version,
		Metadata:   metadata,
	})
	if err != nil {
		return err
	}
	result.Registered++
	result.PerDomain[entry.Domain]++
	if sink := l.metricsSink(); sink != nil {
		sink.ObserveRegistration(entry.Domain, api.SourceRemote)
	}
	return nil
}

// ensureArtifact makes the entry's artifact available in the digest-keyed
// cache, fetching and verifying it when absent. The cache key is the
// content digest, so the same artifact served from a new URL reuses the
// cached copy. The outcome is "cached", "match" or "mismatch"; empty when
// the fetch itself failed.
func (l *Loader) ensureArtifact(ctx context.Context, entry *manifest.Entry) (string, string, error) {
	if entry.SHA256 == "" {
		return "", "", api.NewRemoteSyncError(api.RemoteSyncSchema, entry.URI,
			fmt.Sprintf("entry %s: artifact URI requires a sha256 digest", entry.String()), nil)
	}

	cachedPath := filepath.Join(l.cacheDir, ArtifactDirName, entry.SHA256)
	if _, err := os.Stat(cachedPath); err == nil {
		return cachedPath, "cached", nil
	}

	data, err := l.fetchArtifact(ctx, entry.URI)
	if err != nil {
		return "", "", err
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if digest != entry.SHA256 {
		l.publish(events.Event{
			Reason: events.ReasonArtifactDigestMismatch,
			Domain: entry.DomainLabel(), Key: entry.Key, Provider: entry.Provider,
			Error: fmt.Sprintf("expected %s, got %s", entry.SHA256, digest),
		})
		return "", "mismatch", api.NewRemoteSyncError(api.RemoteSyncDigest, entry.URI,
			fmt.Sprintf("artifact digest mismatch for %s", entry.String()), nil)
	}

	if err := os.MkdirAll(filepath.Dir(cachedPath), 0o755); err != nil {
		return "", "", fmt.Errorf("creating artifact cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(cachedPath), ".artifact-*.tmp")
	if err != nil {
		return "", "", fmt.Errorf("creating temp artifact file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("closing artifact file: %w", err)
	}
	if err := os.Rename(tmpName, cachedPath); err != nil {
		os.Remove(tmpName)
		return "", "", fmt.Errorf("placing artifact in cache: %w", err)
	}
	return cachedPath, "match", nil
}

// fetchArtifact reads the artifact from its URI: HTTP(S) with the retry
// policy, or a file path confined to the cache directory.
func (l *Loader) fetchArtifact(ctx context.Context, uri string) ([]byte, error) {
	if isHTTP(uri) {
		var data []byte
		err := resilience.Retry(ctx, l.cfg.Retry, "Remote", func(ctx context.Context) error {
			var fetchErr error
			data, fetchErr = l.httpGet(ctx, uri, maxArtifactBytes)
			return fetchErr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, api.NewRemoteSyncError(api.RemoteSyncNetwork, uri, "artifact fetch failed", err)
		}
		return data, nil
	}

	path, err := manifest.SanitizePath(l.cacheDir, uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.NewRemoteSyncError(api.RemoteSyncNetwork, uri, "reading local artifact", err)
	}
	return data, nil
}

func isHTTP(uri string) bool {
	return len(uri) > 7 && (uri[:7] == "http://" || (len(uri) > 8 && uri[:8] == "https://"))
}

func (l *Loader) publish(event events.Event) {
	if l.bus != nil {
		l.bus.Publish(event)
	}
}

func (l *Loader) metricsSink() *events.Metrics {
	if l.bus == nil {
		return nil
	}
	return l.bus.MetricsSink()
}
