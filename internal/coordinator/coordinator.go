// Package coordinator drives the recurring synchronization against the
// Laddel cloud. One cycle refreshes the token, fetches every resource with
// per-step failure isolation, derives the charging state, and publishes an
// immutable snapshot for readers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/strxno/ha-laddel/internal/cache"
	"github.com/strxno/ha-laddel/internal/config"
	"github.com/strxno/ha-laddel/internal/laddel"
)

// Cache TTLs per resource volatility. Session, operating mode and history are
// always fetched live.
const (
	facilityTTL       = time.Hour
	latestChargersTTL = 15 * time.Minute
	subscriptionTTL   = 24 * time.Hour
)

// Fetcher is the subset of the API client the coordinator drives.
// *laddel.Client satisfies it.
type Fetcher interface {
	CurrentSession(ctx context.Context) (*laddel.Session, error)
	Subscription(ctx context.Context) (*laddel.Subscription, error)
	FacilityInfo(ctx context.Context, facilityID string) (*laddel.Facility, error)
	OperatingMode(ctx context.Context, chargerID string) (*laddel.OperatingMode, error)
	LatestChargers(ctx context.Context) (*laddel.ChargerList, error)
	SessionHistory(ctx context.Context, page int) (*laddel.SessionPage, error)
	StartSession(ctx context.Context, req laddel.StartSessionRequest) error
	StopSession(ctx context.Context, sessionID string) error
}

// Snapshot is the result of one cycle. A failed step leaves its slice nil and
// adds a warning; the snapshot as a whole is replaced atomically.
type Snapshot struct {
	Session        *laddel.Session
	Subscription   *laddel.Subscription
	Facility       *laddel.Facility
	LatestChargers *laddel.ChargerList
	OperatingMode  *laddel.OperatingMode
	History        []*laddel.SessionPage
	Charging       ChargingState
	Warnings       []string
	UpdatedAt      time.Time
}

// Coordinator owns the poll loop. Control actions may be invoked concurrently
// with a running cycle; they trigger an immediate re-sync on success.
type Coordinator struct {
	cfg    *config.Config
	client Fetcher
	tokens laddel.TokenSource

	cache     *cache.Cache
	tracker   tracker
	scheduler *scheduler

	mu              sync.RWMutex
	snapshot        *Snapshot
	latestChargerID string

	kick chan struct{}
}

func New(cfg *config.Config, client Fetcher, tokens laddel.TokenSource) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		tokens:    tokens,
		cache:     cache.New(),
		scheduler: newScheduler(cfg.IdleInterval(), cfg.ChargingInterval()),
		kick:      make(chan struct{}, 1),
	}
}

// Current returns the latest published snapshot, nil before the first cycle.
func (c *Coordinator) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// RequestSync asks the run loop to start the next cycle immediately.
func (c *Coordinator) RequestSync() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run executes cycles until ctx is cancelled. Delays are fixed-delay: the
// next cycle is scheduled relative to the end of the previous one.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := c.RunCycle(ctx); err != nil {
			log.Errorf("sync cycle failed: %v", err)
		}
		timer := time.NewTimer(c.scheduler.Interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		case <-c.kick:
			timer.Stop()
		}
	}
}

// RunCycle performs one full synchronization. A token refresh failure aborts
// the cycle; any resource failure degrades only its own slice of the
// snapshot.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	if _, err := c.tokens.EnsureValid(ctx); err != nil {
		return fmt.Errorf("coordinator: ensure token: %w", err)
	}

	snap := &Snapshot{UpdatedAt: time.Now()}
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Warn(msg)
		snap.Warnings = append(snap.Warnings, msg)
	}

	session, err := c.client.CurrentSession(ctx)
	if err != nil {
		warn("fetch current session failed: %v", err)
		session = nil
	}
	snap.Session = session
	c.tracker.Update(session)
	snap.Charging = c.tracker.state
	c.scheduler.Update(snap.Charging.IsCharging)

	facilityID := ""
	if session != nil {
		facilityID = session.FacilityID
	}

	if res, errSub := c.cache.GetOrFetch(ctx, "subscription", subscriptionTTL, func(ctx context.Context) (any, error) {
		return c.client.Subscription(ctx)
	}); errSub != nil {
		warn("fetch subscription failed: %v", errSub)
	} else {
		sub := res.Value.(*laddel.Subscription)
		snap.Subscription = sub
		if res.Stale {
			warn("subscription data is stale (fetched %s)", res.FetchedAt.Format(time.RFC3339))
		}
		if facilityID == "" {
			facilityID = sub.FacilityID()
		}
	}

	if facilityID != "" {
		if res, errFac := c.cache.GetOrFetch(ctx, "facility:"+facilityID, facilityTTL, func(ctx context.Context) (any, error) {
			return c.client.FacilityInfo(ctx, facilityID)
		}); errFac != nil {
			warn("fetch facility info failed: %v", errFac)
		} else {
			snap.Facility = res.Value.(*laddel.Facility)
			if res.Stale {
				warn("facility info is stale (fetched %s)", res.FetchedAt.Format(time.RFC3339))
			}
		}
	}

	latestChargerID := c.rememberedChargerID()
	if res, errList := c.cache.GetOrFetch(ctx, "latest-chargers", latestChargersTTL, func(ctx context.Context) (any, error) {
		return c.client.LatestChargers(ctx)
	}); errList != nil {
		warn("fetch latest chargers failed: %v", errList)
	} else {
		list := res.Value.(*laddel.ChargerList)
		snap.LatestChargers = list
		if res.Stale {
			warn("latest chargers list is stale (fetched %s)", res.FetchedAt.Format(time.RFC3339))
		}
		if id := list.LatestChargerID(); id != "" {
			latestChargerID = id
		}
	}

	chargerID := latestChargerID
	if session != nil && session.ChargerID != "" {
		chargerID = session.ChargerID
	}
	if chargerID != "" {
		mode, errMode := c.client.OperatingMode(ctx, chargerID)
		if errMode != nil {
			warn("fetch operating mode failed: %v", errMode)
		} else {
			snap.OperatingMode = mode
		}
	}

	for page := 0; page < c.cfg.HistoryPages; page++ {
		history, errHist := c.client.SessionHistory(ctx, page)
		if errHist != nil {
			warn("fetch session history page %d failed: %v", page, errHist)
			break
		}
		snap.History = append(snap.History, history)
	}

	c.mu.Lock()
	c.snapshot = snap
	c.latestChargerID = latestChargerID
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) rememberedChargerID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestChargerID
}

// StartCharging starts a session. With no charger id in the request the most
// recently used charger is targeted. A successful start triggers an
// immediate re-sync so the snapshot reflects the new session sooner.
func (c *Coordinator) StartCharging(ctx context.Context, req laddel.StartSessionRequest) error {
	if req.ChargerID == "" {
		req.ChargerID = c.rememberedChargerID()
	}
	if req.ChargerID == "" {
		return errors.New("coordinator: no charger id available to start a session")
	}
	if err := c.client.StartSession(ctx, req); err != nil {
		return err
	}
	log.Infof("requested session start on charger %s", req.ChargerID)
	c.RequestSync()
	return nil
}

// StopCharging stops a session. With no session id the currently active
// session from the last snapshot is targeted.
func (c *Coordinator) StopCharging(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		if snap := c.Current(); snap != nil && snap.Session != nil {
			sessionID = snap.Session.SessionID
		}
	}
	if sessionID == "" {
		return errors.New("coordinator: no active session to stop")
	}
	if err := c.client.StopSession(ctx, sessionID); err != nil {
		return err
	}
	log.Infof("requested stop of session %s", sessionID)
	c.RequestSync()
	return nil
}
