package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"updock/internal/domain"
	"updock/internal/events"
	"updock/internal/match"
	"updock/internal/observability"
)

// PassResult summarizes one evaluation pass over the enabled intents.
type PassResult struct {
	StartedAt        string                 `json:"started_at" format:"date-time"`
	EndedAt          string                 `json:"ended_at" format:"date-time"`
	IntentsEvaluated int                    `json:"intents_evaluated"`
	Matched          int                    `json:"matched"`
	WithUpdates      int                    `json:"with_updates"`
	Skipped          int                    `json:"skipped"`
	Records          []domain.UpgradeRecord `json:"records"`
}

// RunPass evaluates every enabled intent in creation order and executes the
// resulting upgrades. Intents are evaluated against one shared inventory
// snapshot; a container matched by several intents is upgraded once, for the
// oldest intent. Failures are recorded per container and never abort the
// pass.
func (e Engine) RunPass(ctx context.Context, actorID string) (PassResult, error) {
	start := e.now()
	res := PassResult{StartedAt: start.UTC().Format(time.RFC3339)}

	intents, err := e.Repo.ListEnabledIntents(ctx)
	if err != nil {
		return res, err
	}
	if err := e.appendEvent(ctx, events.TypePassStarted, "pass", "", actorID, events.EventPayload{
		"intents": len(intents),
	}); err != nil {
		return res, err
	}

	inventory, invErr := e.inventory(ctx, nil)
	if invErr != nil {
		// A pass with no reachable endpoint still completes; there is
		// simply nothing to evaluate against.
		slog.Warn("no endpoint reachable for this pass", "error", invErr)
	}
	lookup := e.lookups(ctx, inventory)

	handled := map[string]bool{}
	for _, intent := range intents {
		mr := Evaluate(intent, inventory, lookup)
		res.IntentsEvaluated++
		res.Matched += mr.MatchedCount
		res.WithUpdates += mr.WithUpdatesCount

		for _, m := range mr.Matches {
			if !m.HasUpdate || handled[m.ContainerID] {
				continue
			}
			handled[m.ContainerID] = true
			snap, ok := findSnapshot(inventory, m.ContainerID)
			if !ok {
				continue
			}
			rec, executed := e.executeUpgrade(ctx, snap, lookup, actorID)
			if !executed {
				res.Skipped++
				continue
			}
			res.Records = append(res.Records, rec)
		}
	}

	end := e.now()
	res.EndedAt = end.UTC().Format(time.RFC3339)
	observability.PassesTotal.Inc()
	observability.PassDuration.Observe(end.Sub(start).Seconds())
	if err := e.appendEvent(ctx, events.TypePassCompleted, "pass", "", actorID, events.EventPayload{
		"intents_evaluated": res.IntentsEvaluated,
		"with_updates":      res.WithUpdates,
		"upgrades":          len(res.Records),
		"skipped":           res.Skipped,
	}); err != nil {
		return res, err
	}
	return res, nil
}

// executeUpgrade runs one container upgrade under its lease and persists the
// outcome. The second return is false when the lease was held elsewhere and
// nothing happened; every other outcome produces a ledger record.
func (e Engine) executeUpgrade(ctx context.Context, snap domain.ContainerSnapshot, lookup match.Lookup, actorID string) (domain.UpgradeRecord, bool) {
	if !e.Leases.TryAcquire(snap.ID) {
		slog.Info("upgrade already in flight, skipping", "container", snap.Name, "endpoint", snap.EndpointName)
		observability.LeaseSkips.Inc()
		return domain.UpgradeRecord{}, false
	}
	defer e.Leases.Release(snap.ID)

	targetTag := lookup[snap.ImageRepo].Tag
	started := e.now()
	rec := domain.UpgradeRecord{
		ID:            uuid.NewString(),
		ContainerID:   snap.ID,
		ContainerName: snap.Name,
		EndpointName:  snap.EndpointName,
		OldImage:      imageRef(snap.ImageRepo, snap.ImageTag),
		OldVersion:    snap.ImageTag,
		NewImage:      imageRef(snap.ImageRepo, targetTag),
		NewVersion:    targetTag,
		StartedAt:     started.UTC().Format(time.RFC3339),
	}

	err := e.runAction(ctx, snap, targetTag)
	ended := e.now()
	rec.EndedAt = ended.UTC().Format(time.RFC3339)
	rec.DurationMs = ended.Sub(started).Milliseconds()
	if err != nil {
		rec.Status = domain.UpgradeFailed
		rec.ErrorMessage = err.Error()
		slog.Error("upgrade failed", "container", snap.Name, "endpoint", snap.EndpointName, "error", err)
	} else {
		rec.Status = domain.UpgradeSuccess
		slog.Info("upgrade succeeded", "container", snap.Name, "endpoint", snap.EndpointName, "version", targetTag)
	}
	observability.UpgradesTotal.WithLabelValues(rec.Status).Inc()
	observability.UpgradeDuration.Observe(ended.Sub(started).Seconds())

	if err := e.recordUpgrade(ctx, rec, actorID); err != nil {
		slog.Error("record upgrade", "container", snap.Name, "error", err)
	}
	return rec, true
}

func (e Engine) runAction(ctx context.Context, snap domain.ContainerSnapshot, targetTag string) error {
	action, ok := e.Ports.Actions[snap.EndpointID]
	if !ok {
		return fmt.Errorf("no upgrade action for endpoint %s", snap.EndpointName)
	}
	if timeout := e.Config.Upgrades.Timeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return action.Upgrade(ctx, snap, targetTag)
}

// recordUpgrade appends the ledger row and its event in one transaction.
func (e Engine) recordUpgrade(ctx context.Context, rec domain.UpgradeRecord, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.AppendUpgrade(ctx, tx, rec); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeUpgradeLogged, "upgrade", rec.ID, actorID, events.EventPayload{
		"container": rec.ContainerName,
		"status":    rec.Status,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func findSnapshot(inventory []domain.ContainerSnapshot, id string) (domain.ContainerSnapshot, bool) {
	for _, s := range inventory {
		if s.ID == id {
			return s, true
		}
	}
	return domain.ContainerSnapshot{}, false
}

func imageRef(repo, tag string) string {
	if repo == "" {
		return ""
	}
	if tag == "" {
		return repo
	}
	return repo + ":" + tag
}
