package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/habitstack/realtime/internal/clock"
	"github.com/habitstack/realtime/internal/model"
	"github.com/habitstack/realtime/internal/session"
	"github.com/habitstack/realtime/internal/subscription"
)

// ActivitySource reports when the last change event was received. The
// router maintains this; the supervisor's staleness check reads it because
// a socket can report "joined" while the underlying transport is silently
// dead, so liveness must be inferred from recent activity.
type ActivitySource interface {
	LastEventAt() time.Time
}

// ActivityFunc adapts a function to ActivitySource.
type ActivityFunc func() time.Time

// LastEventAt returns f().
func (f ActivityFunc) LastEventAt() time.Time { return f() }

// SupervisorConfig tunes the connection state machine.
type SupervisorConfig struct {
	Client  ClientConfig  // Feed endpoint settings (token filled per connect)
	Backoff BackoffPolicy // Full-reconnect retry policy

	// Partial-connectivity retry: when some but not all channels settle,
	// retry only the failed ones at a shorter fixed interval.
	PartialRetryInterval time.Duration
	PartialMaxAttempts   int

	// Health check (foreground only).
	HealthInterval            time.Duration
	StalenessThreshold        time.Duration
	SafetyResubscribeInterval time.Duration

	// Reconnect storm guard.
	MinReconnectInterval time.Duration

	// Minimum background duration before a foreground transition forces a
	// reconnect; short suspensions keep the dropped state silently.
	BackgroundGrace time.Duration

	// Events channel buffer.
	EventBufferSize int
}

// DefaultSupervisorConfig returns production settings.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Client:                    DefaultClientConfig(),
		Backoff:                   DefaultBackoffPolicy(),
		PartialRetryInterval:      5 * time.Second,
		PartialMaxAttempts:        3,
		HealthInterval:            30 * time.Second,
		StalenessThreshold:        2 * time.Minute,
		SafetyResubscribeInterval: 5 * time.Minute,
		MinReconnectInterval:      2 * time.Second,
		BackgroundGrace:           5 * time.Second,
		EventBufferSize:           4096,
	}
}

// SupervisorStats is an observability snapshot. Degraded connectivity is
// exposed only here, never as a user-visible error.
type SupervisorStats struct {
	State        model.ConnectionState
	Live         int
	Total        int
	Attempts     int
	Reconnecting bool
}

// Supervisor owns the single realtime connection for the current session
// and keeps it alive or visibly broken.
//
// State machine:
//
//	disconnected --connect--> connecting --subscribe ack--> connected
//	connected --error/timeout/closed--> error --backoff--> connecting
//	connected --app backgrounded--> disconnected
//	disconnected --app foregrounded (long enough)--> connecting
type Supervisor struct {
	cfg       SupervisorConfig
	tokens    session.TokenProvider
	registry  *subscription.Registry
	activity  ActivitySource
	clk       clock.Clock
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	out chan Frame

	mu              sync.Mutex
	baseCtx         context.Context
	state           model.ConnectionState
	sessionID       string
	client          Client
	foreground      bool
	backgroundedAt  time.Time
	networkDown     bool
	reconnecting    bool
	connectInFlight bool
	lastReconnectAt time.Time
	lastSafetyAt    time.Time
	attempt         int
	partialAttempts int
	retryTimer      clock.Timer
	partialTimer    clock.Timer
	healthStop      chan struct{}
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithClientFactory injects the client constructor (tests).
func WithClientFactory(f func(ClientConfig, *slog.Logger) Client) SupervisorOption {
	return func(s *Supervisor) { s.newClient = f }
}

// WithClock injects the clock (tests).
func WithClock(clk clock.Clock) SupervisorOption {
	return func(s *Supervisor) { s.clk = clk }
}

// NewSupervisor creates a stopped supervisor.
func NewSupervisor(cfg SupervisorConfig, tokens session.TokenProvider, registry *subscription.Registry, activity ActivitySource, logger *slog.Logger, opts ...SupervisorOption) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		cfg:        cfg,
		tokens:     tokens,
		registry:   registry,
		activity:   activity,
		clk:        clock.New(),
		logger:     logger,
		newClient:  NewClient,
		out:        make(chan Frame, cfg.EventBufferSize),
		state:      model.StateDisconnected,
		foreground: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the stream of change frames for the router.
func (s *Supervisor) Events() <-chan Frame {
	return s.out
}

// State returns the connection state.
func (s *Supervisor) State() model.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns an observability snapshot.
func (s *Supervisor) Stats() SupervisorStats {
	h := s.registry.Health()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SupervisorStats{
		State:        s.state,
		Live:         h.Live,
		Total:        h.Total,
		Attempts:     s.attempt,
		Reconnecting: s.reconnecting,
	}
}

// Start binds the session and connects. Idempotent: a second call for the
// same session while connected is a no-op.
func (s *Supervisor) Start(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if s.sessionID == sessionID && (s.state == model.StateConnected || s.state == model.StateConnecting) {
		s.mu.Unlock()
		return nil
	}
	s.baseCtx = ctx
	s.sessionID = sessionID
	s.attempt = 0
	s.mu.Unlock()

	go s.connect()
	return nil
}

// Stop tears down the connection and all channel subscriptions. When
// preserveSession is false the session id is forgotten (logout); otherwise
// a later foreground or network event silently resumes.
func (s *Supervisor) Stop(preserveSession bool) {
	s.teardown()

	s.mu.Lock()
	s.state = model.StateDisconnected
	if !preserveSession {
		s.sessionID = ""
	}
	s.mu.Unlock()
}

// HandleAppBackground deliberately drops the connection without retrying:
// a live socket across a background suspension is unreliable.
func (s *Supervisor) HandleAppBackground() {
	s.mu.Lock()
	s.foreground = false
	s.backgroundedAt = s.clk.Now()
	s.mu.Unlock()

	s.logger.Debug("app backgrounded, dropping feed connection")
	s.teardown()

	s.mu.Lock()
	s.state = model.StateDisconnected
	s.mu.Unlock()
}

// HandleAppForeground resumes the connection if the app was backgrounded
// long enough for the drop to have happened.
func (s *Supervisor) HandleAppForeground() {
	s.mu.Lock()
	s.foreground = true
	wasLong := s.clk.Now().Sub(s.backgroundedAt) >= s.cfg.BackgroundGrace
	bound := s.sessionID != ""
	s.mu.Unlock()

	if bound && wasLong {
		s.forceReconnect("app foregrounded")
	}
}

// HandleNetworkLost stops health checks and marks disconnected without
// reconnecting; attempts resume when the network returns.
func (s *Supervisor) HandleNetworkLost() {
	s.mu.Lock()
	s.networkDown = true
	s.mu.Unlock()

	s.teardown()

	s.mu.Lock()
	s.state = model.StateDisconnected
	s.mu.Unlock()
}

// HandleNetworkRegained forces a reconnect if a session is bound.
func (s *Supervisor) HandleNetworkRegained() {
	s.mu.Lock()
	s.networkDown = false
	bound := s.sessionID != ""
	s.mu.Unlock()

	if bound {
		s.forceReconnect("network regained")
	}
}

// forceReconnect collapses simultaneous triggers (foreground, network
// regained, health-check failure) into a single attempt: a boolean
// in-flight guard plus a minimum-interval debounce.
func (s *Supervisor) forceReconnect(reason string) {
	s.mu.Lock()
	now := s.clk.Now()
	if s.reconnecting || now.Sub(s.lastReconnectAt) < s.cfg.MinReconnectInterval {
		s.mu.Unlock()
		s.logger.Debug("reconnect suppressed", "reason", reason)
		return
	}
	s.reconnecting = true
	s.lastReconnectAt = now
	s.mu.Unlock()

	s.logger.Info("forcing reconnect", "reason", reason)

	go func() {
		s.teardown()
		s.connect()

		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()
}

// connect runs one connection attempt end to end. Attempts are
// single-flight: a second entry (Start during backoff, the retry timer
// firing, a forced reconnect) returns instead of racing the first, and
// any armed retry timer is consumed so it cannot dial a duplicate
// client later.
func (s *Supervisor) connect() {
	s.mu.Lock()
	if s.connectInFlight || s.sessionID == "" || s.networkDown || !s.foreground {
		s.mu.Unlock()
		return
	}
	s.connectInFlight = true
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	hasClient := s.client != nil
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.state = model.StateConnecting
	s.mu.Unlock()

	// A superseded client must be fully gone before the new one dials,
	// or both would pump frames into the shared event stream.
	if hasClient {
		s.teardown()
	}

	// Bind credentials before subscribing or server-side authorization
	// filtering will not scope events to the caller.
	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		s.logger.Warn("token lookup failed", "error", err)
		s.failAttempt()
		return
	}

	cliCfg := s.cfg.Client
	cliCfg.Token = token
	cli := s.newClient(cliCfg, s.logger)

	if err := cli.Connect(ctx); err != nil {
		s.logger.Warn("feed dial failed", "error", err)
		s.failAttempt()
		return
	}

	if err := cli.Authenticate(ctx, token); err != nil {
		s.logger.Warn("credential binding failed", "error", err)
		cli.Close()
		s.failAttempt()
		return
	}

	health := s.registry.OpenAll(ctx, cli)

	if health.Live == 0 {
		cli.Close()
		s.logger.Warn("no channels settled", "total", health.Total)
		s.failAttempt()
		return
	}

	s.mu.Lock()
	s.client = cli
	s.connectInFlight = false
	s.state = model.StateConnected
	s.attempt = 0
	s.partialAttempts = 0
	s.lastSafetyAt = s.clk.Now()
	healthStop := make(chan struct{})
	s.healthStop = healthStop
	s.mu.Unlock()

	go s.pump(cli)
	go s.healthLoop(healthStop)

	if health.Partial() {
		s.logger.Warn("partially connected",
			"live", health.Live,
			"total", health.Total,
		)
		s.schedulePartialRetry()
	} else {
		s.logger.Info("feed connected", "channels", health.Live)
	}
}

// failAttempt records a failed connect and schedules the next one per the
// backoff policy. The in-flight mark clears under the same lock that arms
// the timer, so the scheduled connect can never find it still set.
func (s *Supervisor) failAttempt() {
	s.mu.Lock()
	s.connectInFlight = false
	s.state = model.StateError
	attempt := s.attempt
	s.attempt++
	if s.sessionID == "" || s.networkDown {
		s.mu.Unlock()
		return
	}
	delay, exponential := s.cfg.Backoff.Delay(attempt)
	s.retryTimer = s.clk.AfterFunc(delay, s.connect)
	s.mu.Unlock()

	if exponential {
		s.logger.Info("scheduling reconnect", "attempt", attempt+1, "delay", delay)
	} else {
		s.logger.Info("scheduling background retry", "delay", delay)
	}
}

// schedulePartialRetry retargets only the still-failed collections.
func (s *Supervisor) schedulePartialRetry() {
	s.mu.Lock()
	if s.partialAttempts >= s.cfg.PartialMaxAttempts {
		s.mu.Unlock()
		s.logger.Warn("partial retry budget exhausted")
		return
	}
	s.partialAttempts++
	s.partialTimer = s.clk.AfterFunc(s.cfg.PartialRetryInterval, s.retryFailedChannels)
	s.mu.Unlock()
}

func (s *Supervisor) retryFailedChannels() {
	s.mu.Lock()
	cli := s.client
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Unlock()

	if cli == nil || !cli.IsConnected() {
		return
	}

	health := s.registry.OpenFailed(ctx, cli)
	if health.Partial() {
		s.schedulePartialRetry()
	} else if health.Connected() {
		s.logger.Info("all channels live after partial retry")
	}
}

// pump forwards change frames to the router and watches for transport
// failure.
func (s *Supervisor) pump(cli Client) {
	for {
		select {
		case err, ok := <-cli.Errors():
			if !ok {
				return
			}
			s.logger.Warn("transport failure", "error", err)
			s.mu.Lock()
			s.state = model.StateError
			s.mu.Unlock()
			s.forceReconnect("transport failure")
			return

		case frame, ok := <-cli.Frames():
			if !ok {
				return
			}
			select {
			case s.out <- frame:
			default:
				s.logger.Warn("event buffer full, dropping frame")
			}
		}
	}
}

// healthLoop periodically verifies the connection is actually alive, not
// just locally marked connected.
func (s *Supervisor) healthLoop(stop chan struct{}) {
	ticker := s.clk.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.runHealthCheck()
		}
	}
}

// runHealthCheck enforces: the client reports live, AND either an event
// arrived within the staleness threshold or a recent safety probe
// succeeded. A quiet feed is probed with a no-op auth round-trip before
// concluding the socket is dead.
func (s *Supervisor) runHealthCheck() {
	s.mu.Lock()
	if !s.foreground || s.networkDown {
		s.mu.Unlock()
		return
	}
	cli := s.client
	lastSafety := s.lastSafetyAt
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Unlock()

	if cli == nil || !cli.IsConnected() {
		s.forceReconnect("health check: client not live")
		return
	}

	now := s.clk.Now()
	if now.Sub(s.activity.LastEventAt()) <= s.cfg.StalenessThreshold {
		return
	}
	if now.Sub(lastSafety) <= s.cfg.SafetyResubscribeInterval {
		return
	}

	token, err := s.tokens.AccessToken(ctx)
	if err == nil {
		err = cli.Authenticate(ctx, token)
	}
	if err != nil {
		s.forceReconnect("health check: safety probe failed")
		return
	}

	s.mu.Lock()
	s.lastSafetyAt = now
	s.mu.Unlock()
	s.logger.Debug("safety probe ok, feed quiet but alive")
}

// teardown closes the current connection and cancels pending retries.
func (s *Supervisor) teardown() {
	s.mu.Lock()
	cli := s.client
	s.client = nil
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	if s.partialTimer != nil {
		s.partialTimer.Stop()
		s.partialTimer = nil
	}
	if s.healthStop != nil {
		close(s.healthStop)
		s.healthStop = nil
	}
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Unlock()

	if cli != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		s.registry.CloseAll(closeCtx, cli)
		cancel()
		cli.Close()
	} else {
		s.registry.Reset()
	}
}
