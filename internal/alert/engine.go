// Package alert decides whether a verified EventSub notification becomes a
// streamAlert on the relay. Processing is delayed so the stream-data source
// has caught up, filtered by operator settings and deduplicated per stream.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"streamrelay/internal/eventsub"
	"streamrelay/internal/relay"
	"streamrelay/internal/types"
)

// StreamSource is the authoritative stream-data collaborator. A nil record
// with a nil error means not found.
type StreamSource interface {
	GetStreamByID(ctx context.Context, broadcasterID string) (*types.StreamRecord, error)
	GetUserByID(ctx context.Context, id string) (*types.UserRecord, error)
}

// Publisher sends an event to the relay.
type Publisher interface {
	Publish(ctx context.Context, event relay.EventName, payload any) error
}

// EngineConfig holds the engine timings.
type EngineConfig struct {
	Delay         time.Duration
	Cooldown      time.Duration
	MaxEntryAge   time.Duration
	SweepInterval time.Duration
	FetchTimeout  time.Duration
	// DrainOnShutdown runs pending evaluations during Shutdown instead of
	// cancelling them.
	DrainOnShutdown bool
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxEntryAge <= 0 {
		c.MaxEntryAge = DefaultMaxEntryAge
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
	return c
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock replaces the real clock. Tests pass a types.FakeClock.
func WithEngineClock(c types.TimerClock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithDedupCache injects the dedup cache.
func WithDedupCache(c *DedupCache) EngineOption {
	return func(e *Engine) { e.cache = c }
}

// Engine implements eventsub.Dispatcher.
type Engine struct {
	cfg       EngineConfig
	source    StreamSource
	publisher Publisher
	settings  SettingsSource
	logger    *slog.Logger
	clock     types.TimerClock
	cache     *DedupCache
	scheduler *Scheduler

	// mu guards the dedup decision and inflight. Upstream calls and the
	// publish run outside it.
	mu       sync.Mutex
	inflight map[string]int

	received        atomic.Int64
	ignored         atomic.Int64
	scheduleErrors  atomic.Int64
	fetchFailures   atomic.Int64
	notFound        atomic.Int64
	filtered        atomic.Int64
	suppressed      atomic.Int64
	alerted         atomic.Int64
	publishFailures atomic.Int64
	swept           atomic.Int64
}

var _ eventsub.Dispatcher = (*Engine)(nil)

// NewEngine wires an Engine. settings may be nil, which disables filtering.
func NewEngine(cfg EngineConfig, source StreamSource, publisher Publisher, settings SettingsSource, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		cfg:       cfg.withDefaults(),
		source:    source,
		publisher: publisher,
		settings:  settings,
		logger:    logger.With("component", "alert_engine"),
		clock:     types.RealClock{},
		inflight:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.settings == nil {
		e.settings = StaticSettings{}
	}
	if e.cache == nil {
		e.cache = NewDedupCache(e.cfg.MaxEntryAge)
	}
	e.scheduler = NewScheduler(e.clock, e.logger)
	return e
}

// OnNotification schedules evaluation of env after the configured delay. It
// never blocks on upstream calls.
func (e *Engine) OnNotification(env eventsub.Envelope) {
	e.received.Add(1)
	log := e.logger.With("message_id", env.MessageID, "subscription_type", env.SubscriptionType)

	eventType, ok := ParseEventType(env.SubscriptionType)
	if !ok {
		e.ignored.Add(1)
		log.Debug("notification is not alert-relevant")
		return
	}

	taskID, err := e.scheduler.Schedule(e.cfg.Delay, func() { e.process(env, eventType) })
	if err != nil {
		e.scheduleErrors.Add(1)
		log.Warn("dropping notification", "error", err)
		return
	}
	log.Debug("alert evaluation scheduled", "task_id", taskID, "delay", e.cfg.Delay.String())
}

func (e *Engine) process(env eventsub.Envelope, eventType EventType) {
	log := e.logger.With("message_id", env.MessageID, "event_type", string(eventType))

	broadcasterID := env.Condition["broadcaster_user_id"]
	if broadcasterID == "" {
		broadcasterID = broadcasterFromEvent(env.Event)
	}
	if broadcasterID == "" {
		log.Warn("notification has no broadcaster id")
		return
	}
	log = log.With("broadcaster_id", broadcasterID)

	ctx, cancel := context.WithTimeout(types.WithMessageID(context.Background(), env.MessageID), e.cfg.FetchTimeout)
	defer cancel()

	stream, err := e.source.GetStreamByID(ctx, broadcasterID)
	if err != nil {
		e.fetchFailures.Add(1)
		log.Error("stream lookup failed; no alert this cycle", "error", err)
		return
	}
	if stream == nil {
		e.notFound.Add(1)
		log.Info("no stream data returned; no alert")
		return
	}

	if eventType == EventChannelUpdate {
		if err := overlayChannelUpdate(stream, env.Event); err != nil {
			log.Warn("channel.update event could not be decoded", "error", err)
		}
	}
	log = log.With("stream_id", stream.ID)

	if stream.IsLive() {
		if ok, reason := Allows(e.settings.AlertSettings(), stream); !ok {
			e.filtered.Add(1)
			log.Info("alert filtered", "reason", string(reason), "game_id", stream.GameID)
			return
		}
	}

	now := e.clock.Now()
	decision, ok := e.claim(stream, eventType, now, log)
	if !ok {
		e.suppressed.Add(1)
		log.Info("alert suppressed", "reason", string(decision.Reason))
		return
	}

	e.completeBroadcaster(ctx, stream, broadcasterID, log)
	payload := NewPayload(eventType, broadcasterID, stream)

	err = e.publisher.Publish(ctx, relay.EventStreamAlert, payload)
	e.release(stream.ID, now, err == nil)
	if err != nil {
		e.publishFailures.Add(1)
		log.Error("publishing stream alert failed", "error", err)
		return
	}
	e.alerted.Add(1)
	log.Info("stream alert published", "reason", string(decision.Reason), "game_id", stream.GameID)
}

// claim sweeps the cache, runs ShouldAlert and marks the stream in flight
// when it alerts. A channel.update for a stream whose alert is still being
// published is suppressed, so each stream gets at most one alert per
// cooldown window.
func (e *Engine) claim(stream *types.StreamRecord, eventType EventType, now time.Time, log *slog.Logger) (Decision, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := e.cache.Sweep(now); n > 0 {
		e.swept.Add(int64(n))
		log.Debug("swept expired dedup entries", "count", n)
	}

	entry, found := e.cache.Lookup(stream.ID, now)
	decision := ShouldAlert(stream, eventType, entry, found, now, e.cfg.Cooldown)
	if !decision.Alert {
		return decision, false
	}
	if eventType != EventStreamOnline && e.inflight[stream.ID] > 0 {
		return Decision{Alert: false, Reason: ReasonInFlight}, false
	}
	e.inflight[stream.ID]++
	return decision, true
}

// release clears the in-flight mark and records the alert when it was
// published.
func (e *Engine) release(streamID string, at time.Time, published bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if published {
		e.cache.Record(streamID, at)
	}
	if e.inflight[streamID]--; e.inflight[streamID] <= 0 {
		delete(e.inflight, streamID)
	}
}

// completeBroadcaster looks up the broadcaster when the stream record lacks
// login or display name. A failed lookup keeps the stream fields.
func (e *Engine) completeBroadcaster(ctx context.Context, stream *types.StreamRecord, broadcasterID string, log *slog.Logger) {
	if stream.UserLogin != "" && stream.UserName != "" {
		return
	}
	id := stream.UserID
	if id == "" {
		id = broadcasterID
	}
	user, err := e.source.GetUserByID(ctx, id)
	if err != nil {
		log.Warn("broadcaster lookup failed", "error", err)
		return
	}
	if user == nil {
		return
	}
	if stream.UserID == "" {
		stream.UserID = user.ID
	}
	if stream.UserLogin == "" {
		stream.UserLogin = user.Login
	}
	if stream.UserName == "" {
		stream.UserName = user.DisplayName
	}
}

// Sweep evicts expired dedup entries.
func (e *Engine) Sweep() int {
	n := e.cache.Sweep(e.clock.Now())
	e.swept.Add(int64(n))
	return n
}

// Run sweeps the dedup cache every SweepInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := e.Sweep(); n > 0 {
				e.logger.Info("dedup sweep", "removed", n, "remaining", e.cache.Len())
			}
		}
	}
}

// Shutdown stops accepting notifications. Pending evaluations are drained
// when DrainOnShutdown is set and cancelled otherwise.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.cfg.DrainOnShutdown {
		pending := e.scheduler.Len()
		if err := e.scheduler.Drain(ctx); err != nil {
			e.logger.Warn("alert drain incomplete", "error", err)
		} else if pending > 0 {
			e.logger.Info("drained pending alert evaluations", "count", pending)
		}
	}
	return e.scheduler.Shutdown(ctx)
}

// Pending returns the ids of scheduled evaluations that have not started.
func (e *Engine) Pending() []string {
	return e.scheduler.Pending()
}

// EngineStats is a point-in-time view of the engine counters.
type EngineStats struct {
	Received        int64 `json:"notificationsReceived"`
	Ignored         int64 `json:"ignored"`
	Scheduled       int64 `json:"scheduled"`
	Pending         int   `json:"pending"`
	Cancelled       int64 `json:"cancelled"`
	Alerted         int64 `json:"alerted"`
	Suppressed      int64 `json:"suppressed"`
	Filtered        int64 `json:"filtered"`
	NotFound        int64 `json:"notFound"`
	FetchFailures   int64 `json:"fetchFailures"`
	PublishFailures int64 `json:"publishFailures"`
	CacheSize       int   `json:"cacheSize"`
	Swept           int64 `json:"swept"`
}

// Snapshot returns the current counters.
func (e *Engine) Snapshot() EngineStats {
	return EngineStats{
		Received:        e.received.Load(),
		Ignored:         e.ignored.Load(),
		Scheduled:       e.scheduler.scheduled.Load(),
		Pending:         e.scheduler.Len(),
		Cancelled:       e.scheduler.cancelled.Load(),
		Alerted:         e.alerted.Load(),
		Suppressed:      e.suppressed.Load(),
		Filtered:        e.filtered.Load(),
		NotFound:        e.notFound.Load(),
		FetchFailures:   e.fetchFailures.Load(),
		PublishFailures: e.publishFailures.Load(),
		CacheSize:       e.cache.Len(),
		Swept:           e.swept.Load(),
	}
}

// Stats implements core.StatsReporter.
func (e *Engine) Stats() map[string]any {
	return map[string]any{"alerts": e.Snapshot()}
}
