package results

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// DefaultSubscriberBuffer is the per-subscriber update buffer used when the
// caller does not pick one.
const DefaultSubscriberBuffer = 64

// Store tracks the state of every node of one run and fans each transition
// out to subscribers. Writers never block: a subscriber that falls behind
// loses its oldest buffered updates and is marked lossy.
type Store struct {
	mu     sync.RWMutex
	states map[int]NodeState
	subs   map[*Subscription]struct{}
	bufCap int
}

// Subscription is one subscriber's view of a store's update stream.
type Subscription struct {
	store *Store

	mu     sync.Mutex
	buf    []Update
	lossy  bool
	closed bool
	wake   chan struct{}
	out    chan Update
	done   chan struct{}
}

// NewStore creates a store with every given node pending.
func NewStore(nodeIDs []int) *Store {
	s := &Store{
		states: make(map[int]NodeState, len(nodeIDs)),
		subs:   make(map[*Subscription]struct{}),
		bufCap: DefaultSubscriberBuffer,
	}
	for _, id := range nodeIDs {
		s.states[id] = NodeState{Status: StatusPending}
	}
	return s
}

// SetSubscriberBuffer overrides the per-subscriber buffer size. Must be
// called before the first Subscribe.
func (s *Store) SetSubscriberBuffer(n int) {
	if n > 0 {
		s.bufCap = n
	}
}

// MarkProcessing moves a pending node to processing with a progress message.
func (s *Store) MarkProcessing(nodeID int, detail string) error {
	return s.transition(nodeID, NodeState{Status: StatusProcessing, Detail: detail})
}

// Store records a node's successful result. The node becomes complete;
// further writes against it fail with ErrAlreadyTerminal.
func (s *Store) Store(nodeID int, result NodeResult) error {
	return s.transition(nodeID, NodeState{Status: StatusComplete, Result: &result})
}

// MarkFailed records a node failure. First terminal state wins.
func (s *Store) MarkFailed(nodeID int, reason string) error {
	return s.transition(nodeID, NodeState{Status: StatusFailed, Detail: reason})
}

func (s *Store) transition(nodeID int, next NodeState) error {
	s.mu.Lock()
	cur, ok := s.states[nodeID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	if cur.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: node %d is %s", ErrAlreadyTerminal, nodeID, cur.Status)
	}
	s.states[nodeID] = next
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	u := Update{NodeID: nodeID, State: next}
	for _, sub := range subs {
		sub.push(u)
	}
	return nil
}

// Get returns the current state of a node.
func (s *Store) Get(nodeID int) (NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[nodeID]
	if !ok {
		return NodeState{}, fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
	}
	return st, nil
}

// Result returns the result of a completed node, or false when the node is
// not complete.
func (s *Store) Result(nodeID int) (*NodeResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[nodeID]
	if !ok || st.Status != StatusComplete {
		return nil, false
	}
	return st.Result, true
}

// NodeIDs returns the tracked node ids, ascending.
func (s *Store) NodeIDs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Done reports whether every node is in a terminal state.
func (s *Store) Done() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.states {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}

// Snapshot returns a copy of every node's state keyed by id.
func (s *Store) Snapshot() map[int]NodeState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]NodeState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// ToJSON serializes the full store as a JSON object keyed by node id, keys
// in ascending numeric order so successive snapshots of the same run are
// byte-comparable.
func (s *Store) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var buf []byte
	buf = append(buf, '{')
	for i, id := range ids {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(fmt.Sprintf("%d", id))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.states[id])
		if err != nil {
			return nil, fmt.Errorf("serialize node %d: %w", id, err)
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// FromSnapshot rebuilds a store from a ToJSON document. Used when loading a
// persisted run for report assembly.
func FromSnapshot(data []byte) (*Store, error) {
	var raw map[string]NodeState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse run snapshot: %w", err)
	}
	s := &Store{
		states: make(map[int]NodeState, len(raw)),
		subs:   make(map[*Subscription]struct{}),
		bufCap: DefaultSubscriberBuffer,
	}
	for key, st := range raw {
		var id int
		if _, err := fmt.Sscanf(key, "%d", &id); err != nil {
			return nil, fmt.Errorf("parse run snapshot: bad node id %q", key)
		}
		s.states[id] = st
	}
	return s, nil
}

// Subscribe registers a new subscriber and returns its subscription. The
// subscription delivers updates in order on Updates() until Close.
func (s *Store) Subscribe() *Subscription {
	sub := &Subscription{
		store: s,
		wake:  make(chan struct{}, 1),
		out:   make(chan Update),
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	go sub.pump()
	return sub
}

// Updates is the subscriber's ordered update stream. It is closed by Close.
func (sub *Subscription) Updates() <-chan Update {
	return sub.out
}

// Lossy reports whether this subscriber has ever dropped updates because it
// fell behind.
func (sub *Subscription) Lossy() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.lossy
}

// Close detaches the subscriber from the store and closes its stream.
// Safe to call more than once.
func (sub *Subscription) Close() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	close(sub.done)
	sub.mu.Unlock()

	sub.store.mu.Lock()
	delete(sub.store.subs, sub)
	sub.store.mu.Unlock()
}

// push appends an update to the subscriber's bounded buffer, dropping the
// oldest entry on overflow. Never blocks the caller.
func (sub *Subscription) push(u Update) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	if len(sub.buf) >= sub.store.bufCap {
		drop := sub.buf[0]
		sub.buf = sub.buf[1:]
		if !sub.lossy {
			sub.lossy = true
			slog.Warn("Result subscriber fell behind, dropping oldest update",
				"dropped_node_id", drop.NodeID)
		}
	}
	sub.buf = append(sub.buf, u)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

// pump drains the buffer into the out channel at the subscriber's pace.
func (sub *Subscription) pump() {
	defer close(sub.out)
	for {
		sub.mu.Lock()
		var next *Update
		if len(sub.buf) > 0 {
			u := sub.buf[0]
			sub.buf = sub.buf[1:]
			next = &u
		}
		sub.mu.Unlock()

		if next == nil {
			select {
			case <-sub.wake:
				continue
			case <-sub.done:
				return
			}
		}

		select {
		case sub.out <- *next:
		case <-sub.done:
			return
		}
	}
}
