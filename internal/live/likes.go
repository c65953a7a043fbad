package live

import "sync"

// likeSet tracks which identities liked each stream instance. Lifetime
// matches the room's: the set is dropped when the stream ends.
type likeSet struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

func newLikeSet() *likeSet {
	return &likeSet{sets: make(map[string]map[string]struct{})}
}

// add records a like. Returns false when the identity already liked.
func (l *likeSet) add(streamID, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.sets[streamID]
	if set == nil {
		set = make(map[string]struct{})
		l.sets[streamID] = set
	}
	if _, ok := set[key]; ok {
		return false
	}
	set[key] = struct{}{}
	return true
}

// remove deletes a like. Returns false when the identity had not liked.
func (l *likeSet) remove(streamID, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	set := l.sets[streamID]
	if set == nil {
		return false
	}
	if _, ok := set[key]; !ok {
		return false
	}
	delete(set, key)
	return true
}

// count returns the aggregate for the stream.
func (l *likeSet) count(streamID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sets[streamID])
}

// drop discards the stream's whole set.
func (l *likeSet) drop(streamID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sets, streamID)
}
