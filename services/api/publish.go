package api

import (
	"context"
	"fmt"
	"time"
)

// publishJSON emits a durable domain event. Publishing is best-effort: a
// down bus must not fail the request that triggered the event.
func (a *API) publishJSON(subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.Bus.Publish(ctx, subject, payload); err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
		return
	}
	a.metrics.eventsOut.WithLabelValues(subject).Inc()
}

// pushInsert fans an inserted row out to realtime subscribers of its scope.
// At-most-once: an absent subscriber simply misses the push and catches up on
// its next fetch.
func (a *API) pushInsert(table, scope string, row map[string]any) {
	if a.store.Bus == nil || scope == "" {
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", realtimePrefix, table, scope)
	if err := a.store.Bus.Push(subject, row); err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Msg("realtime push failed")
	}
}
