package topic

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard levels and the level separator.
const (
	separator   = "/"
	singleLevel = "+"
	multiLevel  = "#"
)

// Errors returned by Validate.
var (
	// ErrEmptyFilter is returned for an empty topic filter.
	ErrEmptyFilter = errors.New("topic: filter cannot be empty")

	// ErrInvalidWildcard is returned when + or # is misplaced.
	ErrInvalidWildcard = errors.New("topic: invalid wildcard placement")
)

// Validate checks that filter is a well-formed MQTT topic filter.
//
// Wildcards must occupy a whole level, and # may only appear as the last level.
func Validate(filter string) error {
	if filter == "" {
		return ErrEmptyFilter
	}

	levels := strings.Split(filter, separator)
	for i, level := range levels {
		switch {
		case level == multiLevel:
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q must be the last level in %q", ErrInvalidWildcard, multiLevel, filter)
			}
		case level == singleLevel:
		case strings.ContainsAny(level, singleLevel+multiLevel):
			return fmt.Errorf("%w: level %q in %q", ErrInvalidWildcard, level, filter)
		}
	}
	return nil
}

// Match reports whether a published topic matches the subscription filter.
//
// Topics beginning with $ (broker-reserved, e.g. $SYS) are only matched by
// filters whose first level is literal, as MQTT 3.1.1 requires.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, separator)
	topicLevels := strings.Split(topic, separator)

	if strings.HasPrefix(topic, "$") {
		if first := filterLevels[0]; first == singleLevel || first == multiLevel {
			return false
		}
	}

	for i, level := range filterLevels {
		if level == multiLevel {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != singleLevel && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
