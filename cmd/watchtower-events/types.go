package main

import (
	"fmt"

	"github.com/randalmurphal/watchtower/pkg/eventstream/event"
)

// parseTypes validates event type tags. No tags means every type.
func parseTypes(tags []string) ([]event.Type, error) {
	if len(tags) == 0 {
		return event.Types(), nil
	}
	types := make([]event.Type, 0, len(tags))
	for _, tag := range tags {
		t := event.Type(tag)
		if !t.Valid() {
			return nil, fmt.Errorf("unknown event type %q", tag)
		}
		types = append(types, t)
	}
	return types, nil
}

func parseType(tag string) (event.Type, error) {
	types, err := parseTypes([]string{tag})
	if err != nil {
		return "", err
	}
	return types[0], nil
}
