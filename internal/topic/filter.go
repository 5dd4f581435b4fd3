// Package topic implements the wildcard-aware topic index (C5):
// filter matching, shared-subscription groups, and the fairness
// rotor used to pick one delivery target per shared group.
//
// Grounded on internal/broker/subscription.go's TrieNode shape
// (children/subscribers/isWildcard/isMultiWild), whose Subscribe/
// Unsubscribe/Match methods the teacher declared but never defined —
// completed here.
package topic

import (
	"strings"

	"github.com/goqttd/goqttd/internal/errs"
)

const sharePrefix = "$share/"

// SplitShared parses a "$share/<group>/<filter>" subscription filter
// into its group and underlying filter. ok is false for a plain filter.
func SplitShared(filter string) (group, underlying string, ok bool) {
	if !strings.HasPrefix(filter, sharePrefix) {
		return "", filter, false
	}
	rest := filter[len(sharePrefix):]
	idx := strings.IndexByte(rest, '/')
	if idx <= 0 {
		return "", filter, false
	}
	return rest[:idx], rest[idx+1:], true
}

func segments(topic string) []string {
	return strings.Split(topic, "/")
}

// ValidateFilter checks a subscription filter per spec §4.5: '+' must
// occupy a whole segment, '#' must occupy a whole segment and must be
// the terminal segment, and no segment may be empty.
func ValidateFilter(filter string) error {
	if filter == "" {
		return errs.New("ValidateFilter: empty", errs.TopicFilterInvalid)
	}
	segs := segments(filter)
	for i, seg := range segs {
		if seg == "" {
			return errs.New("ValidateFilter: empty level", errs.TopicFilterInvalid)
		}
		if strings.Contains(seg, "#") && seg != "#" {
			return errs.New("ValidateFilter: # must occupy whole segment", errs.TopicFilterInvalid)
		}
		if seg == "#" && i != len(segs)-1 {
			return errs.New("ValidateFilter: # must be terminal", errs.TopicFilterInvalid)
		}
		if strings.Contains(seg, "+") && seg != "+" {
			return errs.New("ValidateFilter: + must occupy whole segment", errs.TopicFilterInvalid)
		}
	}
	return nil
}

// ValidateTopicName checks a publish topic name per spec §4.2: no
// wildcards, no empty levels.
func ValidateTopicName(name string) error {
	if name == "" {
		return errs.New("ValidateTopicName: empty", errs.TopicNameInvalid)
	}
	for _, seg := range segments(name) {
		if seg == "" {
			return errs.New("ValidateTopicName: empty level", errs.TopicNameInvalid)
		}
	}
	if strings.ContainsAny(name, "+#") {
		return errs.New("ValidateTopicName: wildcards not allowed", errs.TopicNameInvalid)
	}
	return nil
}

// Matches reports whether topic matches filter, per spec §4.5's
// matching rules including the '$'-prefixed system topic exclusion.
func Matches(filter, topicName string) bool {
	return matchSegments(segments(filter), segments(topicName))
}

func matchSegments(filterSegs, topicSegs []string) bool {
	fi, ti := 0, 0
	for fi < len(filterSegs) {
		f := filterSegs[fi]
		dollarGuard := ti == 0 && ti < len(topicSegs) && strings.HasPrefix(topicSegs[ti], "$") && (f == "+" || f == "#")
		if dollarGuard {
			return false
		}
		if f == "#" {
			return true
		}
		if ti >= len(topicSegs) {
			return false
		}
		t := topicSegs[ti]
		if f == "+" {
			if t == "" {
				return false // '+' matches one level but never an empty one
			}
		} else if f != t {
			return false
		}
		fi++
		ti++
	}
	return ti == len(topicSegs)
}
