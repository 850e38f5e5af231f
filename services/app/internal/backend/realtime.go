package backend

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// rtSubjectPrefix matches the subjects the data service pushes inserted rows on.
const rtSubjectPrefix = "umkmhub.rt"

// Subscribe registers a push callback for rows inserted into table whose scope
// column matches the single filter value, e.g. {"user_id": "<id>"} on
// "notifications". The callback receives the raw inserted row JSON.
func (c *HTTPClient) Subscribe(table string, filters Filters, onInsert func(row []byte)) (io.Closer, error) {
	if c.bus == nil {
		return nil, errors.New("realtime is not configured")
	}
	if onInsert == nil {
		return nil, errors.New("nil handler")
	}

	scope, err := subscriptionScope(filters)
	if err != nil {
		return nil, err
	}

	subject := fmt.Sprintf("%s.%s.%s", rtSubjectPrefix, table, scope)
	return c.bus.Watch(subject, onInsert)
}

// subscriptionScope extracts the single scoping value a realtime subject is
// keyed by. Reserved modifier filters are not valid scopes.
func subscriptionScope(filters Filters) (string, error) {
	scope := ""
	for k, v := range filters {
		if strings.HasPrefix(k, "_") {
			return "", fmt.Errorf("modifier %q cannot scope a subscription", k)
		}
		if scope != "" {
			return "", errors.New("subscription requires exactly one filter")
		}
		if v == "" {
			return "", fmt.Errorf("empty value for filter %q", k)
		}
		scope = v
	}
	if scope == "" {
		return "", errors.New("subscription requires exactly one filter")
	}
	return scope, nil
}
