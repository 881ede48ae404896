package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"oneiric/internal/api"
	"oneiric/internal/bridge"
	"oneiric/internal/config"
	"oneiric/internal/events"
	"oneiric/pkg/logging"
)

// debounceWindow coalesces bursts of file notifications into one wake-up.
const debounceWindow = 100 * time.Millisecond

// Watcher drives one domain's selections: it polls a selection source for
// the desired {key: provider} mapping and funnels differences through the
// bridge, honoring the activity veto. File-backed sources additionally
// wake the watcher on fsnotify events, so edits apply ahead of the next
// poll tick.
type Watcher struct {
	bridge *bridge.Bridge
	source config.SelectionSource
	bus    *events.Bus
	cfg    config.WatcherSettings

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// kick wakes the loop outside the poll cadence: fsnotify events and
	// drain-deferral retries land here.
	kick chan struct{}
}

// New creates a watcher for the bridge's domain over the given source.
func New(b *bridge.Bridge, source config.SelectionSource, bus *events.Bus, cfg config.WatcherSettings) *Watcher {
	return &Watcher{
		bridge: b,
		source: source,
		bus:    bus,
		cfg:    cfg,
		kick:   make(chan struct{}, 1),
	}
}

// Start launches the watch loop. Starting a running watcher is an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher for domain %s is already running", w.bridge.Domain())
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(loopCtx, w.done)
	w.publish(events.Event{Reason: events.ReasonWatcherStarted, Domain: w.bridge.Domain()})
	return nil
}

// Stop cancels the watch loop and awaits its completion. Stopping a
// stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel, done := w.cancel, w.done
	w.running = false
	w.cancel = nil
	w.done = nil
	w.mu.Unlock()

	cancel()
	<-done
	w.publish(events.Event{Reason: events.ReasonWatcherStopped, Domain: w.bridge.Domain()})
}

// Running reports whether the watch loop is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce performs a single poll cycle: load the mapping and apply every
// differing key. Source load failures are returned; per-key swap failures
// are events, not errors, so one bad key cannot starve the rest.
func (w *Watcher) RunOnce(ctx context.Context) error {
	selections, err := w.source.Load()
	if err != nil {
		return err
	}
	for key, provider := range selections {
		w.applyKey(ctx, key, provider)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	notifier := w.startFileNotifier(ctx)
	if notifier != nil {
		defer notifier.Close()
	}

	for {
		if err := w.RunOnce(ctx); err != nil {
			logging.Warn("Watcher", "Selection poll for %s failed: %v", w.bridge.Domain(), err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.kick:
		}
	}
}

// applyKey reconciles one key toward its desired provider. The activity
// store is consulted first: paused skips, draining defers with a retry
// nudge after the configured delay.
func (w *Watcher) applyKey(ctx context.Context, key, provider string) {
	if !w.needsSwap(key, provider) {
		return
	}

	decision, err := w.bridge.ShouldAcceptWork(ctx, key)
	if err != nil {
		logging.Warn("Watcher", "Activity check for %s/%s failed: %v", w.bridge.Domain(), key, err)
		return
	}
	switch decision {
	case api.ActivityReject:
		logging.Info("Watcher", "Skipping swap of %s/%s to %s: paused", w.bridge.Domain(), key, provider)
		w.publish(events.Event{
			Reason: events.ReasonSwapSkippedPaused, Domain: w.bridge.Domain(), Key: key, Provider: provider,
			Fields: map[string]interface{}{"reason": "paused"},
		})
		w.observeSkip("paused")
		return
	case api.ActivityDefer:
		delay := w.cfg.DrainRetryDelay
		if delay <= 0 {
			delay = config.DefaultDrainRetryDelay
		}
		logging.Info("Watcher", "Deferring swap of %s/%s to %s: draining, retry in %s", w.bridge.Domain(), key, provider, delay)
		w.publish(events.Event{
			Reason: events.ReasonSwapDeferredDraining, Domain: w.bridge.Domain(), Key: key, Provider: provider,
			Fields: map[string]interface{}{"reason": "draining", "retry_after": delay.String()},
		})
		w.observeSkip("draining")
		time.AfterFunc(delay, w.nudge)
		return
	}

	if _, err := w.bridge.Use(ctx, key, provider, false); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.Warn("Watcher", "Swap of %s/%s to %s failed: %v", w.bridge.Domain(), key, provider, err)
		w.publish(events.Event{
			Reason: events.ReasonWatcherSwapFailed, Domain: w.bridge.Domain(), Key: key, Provider: provider,
			Error: err.Error(),
		})
	}
}

// needsSwap reports whether the desired provider differs from the bound,
// ready one. Comparing against applied state (not the previous poll)
// means a selection skipped while paused is retried once unpaused.
func (w *Watcher) needsSwap(key, provider string) bool {
	status, ok := w.bridge.Status(key)
	if !ok {
		return true
	}
	return status.State != api.StateReady || status.CurrentProvider != provider
}

// startFileNotifier wires fsnotify wake-ups for file-backed sources.
// Failures degrade to plain polling.
func (w *Watcher) startFileNotifier(ctx context.Context) *fsnotify.Watcher {
	fileSource, ok := w.source.(config.FilePath)
	if !ok {
		return nil
	}
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Watcher", "File notifications unavailable for %s, polling only: %v", w.bridge.Domain(), err)
		return nil
	}
	// Watch the directory: editors replace files, which drops a watch on
	// the file itself.
	dir := filepath.Dir(fileSource.Path())
	if err := notifier.Add(dir); err != nil {
		logging.Warn("Watcher", "Could not watch %s, polling only: %v", dir, err)
		notifier.Close()
		return nil
	}

	target := filepath.Clean(fileSource.Path())
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-notifier.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceWindow, w.nudge)
			case err, ok := <-notifier.Errors:
				if !ok {
					return
				}
				logging.Warn("Watcher", "File notification error for %s: %v", w.bridge.Domain(), err)
			}
		}
	}()
	return notifier
}

// nudge wakes the loop without waiting for the next poll tick.
func (w *Watcher) nudge() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watcher) publish(event events.Event) {
	if w.bus != nil {
		w.bus.Publish(event)
	}
}

func (w *Watcher) observeSkip(reason string) {
	if w.bus == nil {
		return
	}
	if sink := w.bus.MetricsSink(); sink != nil {
		sink.ObserveWatcherSkip(string(w.bridge.Domain()), reason)
	}
}
