package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"updock/internal/analytics"
	"updock/internal/config"
	"updock/internal/domain"
	"updock/internal/events"
	"updock/internal/lease"
	"updock/internal/match"
	"updock/internal/observability"
	"updock/internal/repo"
	"updock/internal/upstream"
)

// Collaborators are the upstream ports the engine drives during evaluation.
// Actions is keyed by endpoint ID; each inventory provider's endpoint should
// have a matching action or its containers cannot be upgraded.
type Collaborators struct {
	Providers []upstream.InventoryProvider
	Versions  upstream.VersionSource
	Actions   map[string]upstream.UpgradeAction
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Leases *lease.Registry
	Ports  Collaborators
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, ports Collaborators) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Leases: lease.NewRegistry(),
		Ports:  ports,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateIntent validates the criteria, persists the intent, and records the
// lifecycle event in the same transaction.
func (e Engine) CreateIntent(ctx context.Context, description string, criteria domain.Criteria, enabled bool, actorID string) (domain.Intent, error) {
	if err := criteria.Validate(); err != nil {
		return domain.Intent{}, err
	}
	in := domain.Intent{
		ID:          uuid.NewString(),
		Description: description,
		Enabled:     enabled,
		Criteria:    criteria,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertIntentTx(ctx, tx, in); err != nil {
		return domain.Intent{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeIntentCreated, "intent", in.ID, actorID, events.EventPayload{
		"kind":    string(criteria.Kind),
		"enabled": enabled,
	}); err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}
	return in, nil
}

// AnalyticsReport recomputes the derived ledger views from scratch; the
// aggregator is cheap enough to run on every read.
func (e Engine) AnalyticsReport(ctx context.Context) (analytics.Report, error) {
	records, err := e.Repo.ListUpgrades(ctx, repo.HistoryFilters{})
	if err != nil {
		return analytics.Report{}, err
	}
	return analytics.Aggregate(records), nil
}

func (e Engine) GetIntent(ctx context.Context, id string) (domain.Intent, error) {
	return e.Repo.GetIntent(ctx, id)
}

func (e Engine) ListIntents(ctx context.Context) ([]domain.Intent, error) {
	return e.Repo.ListIntents(ctx)
}

// SetIntentEnabled toggles the intent and returns its updated state. The
// operation is idempotent; re-enabling an enabled intent still succeeds and
// still records an event.
func (e Engine) SetIntentEnabled(ctx context.Context, id string, enabled bool, actorID string) (domain.Intent, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Intent{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SetIntentEnabled(ctx, tx, id, enabled); err != nil {
		return domain.Intent{}, err
	}
	evtType := events.TypeIntentEnabled
	if !enabled {
		evtType = events.TypeIntentDisabled
	}
	if err := e.Events.Append(ctx, tx, evtType, "intent", id, actorID, nil); err != nil {
		return domain.Intent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Intent{}, err
	}
	return e.Repo.GetIntent(ctx, id)
}

func (e Engine) DeleteIntent(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.DeleteIntent(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeIntentDeleted, "intent", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// Evaluate resolves the intent's criteria against the inventory and attaches
// version state to each match. It is pure: same inputs, same result, no side
// effects, so callers may repeat it freely.
func Evaluate(intent domain.Intent, inventory []domain.ContainerSnapshot, lookup match.Lookup) domain.MatchResult {
	res := domain.MatchResult{IntentID: intent.ID}
	for _, snap := range match.Resolve(intent.Criteria, inventory) {
		rec := match.Compare(snap, lookup)
		m := domain.MatchedContainer{
			ContainerID:  snap.ID,
			Name:         snap.Name,
			ImageRepo:    snap.ImageRepo,
			EndpointName: snap.EndpointName,
			HasUpdate:    rec.HasUpdate,
		}
		if rec.HasUpdate && rec.Latest != nil {
			m.UpdateAvailable = *rec.Latest
		}
		res.Matches = append(res.Matches, m)
		res.MatchedCount++
		if rec.HasUpdate {
			res.WithUpdatesCount++
		}
	}
	return res
}

// TestMatch is the dry-run evaluation behind the test-match endpoint. It
// works on disabled intents too and never writes anything.
func (e Engine) TestMatch(ctx context.Context, intentID string) (domain.MatchResult, error) {
	intent, err := e.Repo.GetIntent(ctx, intentID)
	if err != nil {
		return domain.MatchResult{}, err
	}
	inventory, err := e.inventory(ctx, nil)
	if err != nil {
		return domain.MatchResult{}, err
	}
	lookup := e.lookups(ctx, match.Resolve(intent.Criteria, inventory))
	return Evaluate(intent, inventory, lookup), nil
}

// inventory pulls container snapshots from every provider passing the filter.
// An unreachable endpoint is logged and skipped so the rest still evaluate;
// the returned error is non-nil only when every selected endpoint failed.
func (e Engine) inventory(ctx context.Context, filter domain.EndpointSet) ([]domain.ContainerSnapshot, error) {
	var all []domain.ContainerSnapshot
	var firstErr error
	attempted, succeeded := 0, 0
	for _, p := range e.Ports.Providers {
		ep := p.Endpoint()
		if !filter.Allows(ep.Name) {
			continue
		}
		attempted++
		snaps, err := p.Containers(ctx)
		if err != nil {
			slog.Warn("endpoint inventory failed", "endpoint", ep.Name, "error", err)
			observability.IntentFailures.WithLabelValues(ep.Name).Inc()
			if firstErr == nil {
				firstErr = &upstream.Error{Endpoint: ep.Name, Op: "inventory", Err: err}
			}
			continue
		}
		succeeded++
		all = append(all, snaps...)
	}
	if attempted > 0 && succeeded == 0 {
		return nil, firstErr
	}
	return all, nil
}

// lookups resolves latest versions for the distinct image repos of the given
// containers. A failed lookup leaves its repo out of the map, which the
// comparator reads as "no update known".
func (e Engine) lookups(ctx context.Context, containers []domain.ContainerSnapshot) match.Lookup {
	lookup := match.Lookup{}
	if e.Ports.Versions == nil {
		return lookup
	}
	seen := map[string]bool{}
	for _, c := range containers {
		if c.ImageRepo == "" || seen[c.ImageRepo] {
			continue
		}
		seen[c.ImageRepo] = true
		rec, err := e.Ports.Versions.Latest(ctx, c.ImageRepo)
		if err != nil {
			slog.Warn("version lookup failed", "image_repo", c.ImageRepo, "error", err)
			continue
		}
		if rec.Latest == nil {
			continue
		}
		lv := match.LatestVersion{Tag: *rec.Latest}
		if rec.PublishedAt != nil {
			lv.PublishedAt = *rec.PublishedAt
		}
		lookup[c.ImageRepo] = lv
	}
	return lookup
}
