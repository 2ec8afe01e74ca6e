// Package stream implements the subscription-stream dispatch core: the
// per-consumer aggregator, its priority-ordered buckets, the four
// StreamState variants and their transitions, and the demand-driven
// producer/consumer contracts that connect them to remote services.
package stream

import (
	"sort"
	"strings"
)

// ServiceKey identifies a logical service independent of its physical
// location in the cluster.
type ServiceKey string

// TopicKey identifies a named stream published by a service.
type TopicKey string

// Alias is the small positive integer a consumer connection uses to stand
// in for a Subject on the wire, once registered.
type Alias uint32

// Subject is the (ServiceKey, TopicKey, Tags) triple identifying a
// subscription target. It is immutable once constructed and comparable,
// so it can be used directly as a map key in streamToBucket.
type Subject struct {
	Service ServiceKey
	Topic   TopicKey
	tagKey  string
}

// NewSubject builds a Subject from a service, topic, and an unordered set
// of disambiguating tags. Tags are canonicalized (sorted) so that two
// Subjects built from the same logical tag set always compare equal.
func NewSubject(service ServiceKey, topic TopicKey, tags map[string]string) Subject {
	return Subject{Service: service, Topic: topic, tagKey: encodeTags(tags)}
}

// Tags decodes the canonical tag set back into a map.
func (s Subject) Tags() map[string]string {
	return decodeTags(s.tagKey)
}

func (s Subject) String() string {
	if s.tagKey == "" {
		return string(s.Service) + "/" + string(s.Topic)
	}
	return string(s.Service) + "/" + string(s.Topic) + "?" + s.tagKey
}

func encodeTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(tags[k])
	}
	return b.String()
}

func decodeTags(key string) map[string]string {
	if key == "" {
		return nil
	}
	pairs := strings.Split(key, ",")
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, _ := strings.Cut(p, "=")
		tags[k] = v
	}
	return tags
}
