// Package suggest fires the daily outfit suggestion on a cron schedule,
// for owners who keep the daily_suggestions preference enabled.
package suggest

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/user/stylecore/internal/session"
	"github.com/user/stylecore/internal/types"
)

// Trigger walks the live sessions on each tick and submits the canned
// suggestion prompt through the normal recommendation pipeline, so the
// suggestion arrives as an ordinary timeline exchange. Actually notifying
// the user is someone else's job.
type Trigger struct {
	manager  *session.Manager
	prefs    types.PreferenceStore
	schedule string
	cron     *cron.Cron
}

// New creates a Trigger with the given cron schedule (standard 5-field
// expressions plus descriptors like "@daily").
func New(manager *session.Manager, prefs types.PreferenceStore, schedule string) *Trigger {
	return &Trigger{
		manager:  manager,
		prefs:    prefs,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the schedule and starts the cron ticker.
func (t *Trigger) Start() error {
	if _, err := t.cron.AddFunc(t.schedule, t.Fire); err != nil {
		return err
	}
	t.cron.Start()
	slog.Info("daily suggestions scheduled", "schedule", t.schedule)
	return nil
}

// Stop stops the cron ticker.
func (t *Trigger) Stop() {
	t.cron.Stop()
}

// Fire runs one suggestion round. Exported so a tick can be forced
// without waiting for the schedule.
//
// One session per owner gets the prompt, the most recently created open
// one. An owner whose session already has a recommendation in flight is
// skipped for this round: the daily prompt must never preempt a request
// the user asked for themselves.
func (t *Trigger) Fire() {
	ctx := context.Background()

	newest := make(map[types.OwnerID]*session.Session)
	for _, sess := range t.manager.List() {
		if sess.Closed() {
			continue
		}
		cur, ok := newest[sess.Owner()]
		if !ok || sess.CreatedAt().After(cur.CreatedAt()) {
			newest[sess.Owner()] = sess
		}
	}

	for owner, sess := range newest {
		if sess.Busy() {
			slog.Debug("daily suggestion skipped, request in flight",
				"owner_id", string(owner),
				"conversation_id", string(sess.ID()),
			)
			continue
		}

		prefs, err := t.prefs.Get(ctx, owner)
		if err != nil {
			slog.Error("load preferences", "owner_id", string(owner), "error", err)
			continue
		}
		if !prefs.Flags[types.PrefDailySuggestions] {
			continue
		}

		if _, err := sess.RequestSuggestion(ctx); err != nil {
			slog.Error("daily suggestion",
				"owner_id", string(sess.Owner()),
				"conversation_id", string(sess.ID()),
				"error", err,
			)
			continue
		}
		slog.Info("daily suggestion fired",
			"owner_id", string(sess.Owner()),
			"conversation_id", string(sess.ID()),
		)
	}
}
