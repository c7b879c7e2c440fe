package connection

import "slices"

// SubscriptionSet is an insertion-ordered set of topics.
// It is owned by the manager loop and is not safe for concurrent use.
type SubscriptionSet struct {
	topics []string
	index  map[string]struct{}
}

// NewSubscriptionSet creates an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{index: make(map[string]struct{})}
}

// Add inserts topics and returns the ones that were not already present.
func (s *SubscriptionSet) Add(topics ...string) []string {
	var added []string
	for _, t := range topics {
		if _, ok := s.index[t]; ok {
			continue
		}
		s.index[t] = struct{}{}
		s.topics = append(s.topics, t)
		added = append(added, t)
	}
	return added
}

// Remove deletes topics, ignoring unknown ones.
func (s *SubscriptionSet) Remove(topics ...string) {
	for _, t := range topics {
		if _, ok := s.index[t]; !ok {
			continue
		}
		delete(s.index, t)
		s.topics = slices.DeleteFunc(s.topics, func(v string) bool { return v == t })
	}
}

// Has reports membership.
func (s *SubscriptionSet) Has(topic string) bool {
	_, ok := s.index[topic]
	return ok
}

// Len returns the number of topics.
func (s *SubscriptionSet) Len() int {
	return len(s.topics)
}

// Topics returns a copy of the topics in insertion order.
func (s *SubscriptionSet) Topics() []string {
	return slices.Clone(s.topics)
}
