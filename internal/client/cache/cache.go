// Package cache holds the per-peer conversation log: one ordered,
// de-duplicated sequence of decrypted messages per peer, merged from local
// composition, inbound delivery and bulk history fetch. The cache is the
// single source of truth for every peer at once, not only the conversation
// currently on screen.
package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/securechat-dev/securechat/internal/client/models"
	"github.com/securechat-dev/securechat/internal/logging"
)

// State is the lifecycle of a per-peer bucket.
type State int

const (
	// Empty: the peer has never been selected this session.
	Empty State = iota
	// Loading: a history fetch for the peer is in flight.
	Loading
	// Ready: the bucket serves reads without further network access.
	Ready
)

// FetchFunc retrieves bulk history for the pair (localUserID, peerID).
// Results may be unordered, unfiltered and duplicated; the cache re-filters
// and re-sorts on its own.
type FetchFunc func(ctx context.Context, peerID string) ([]models.Envelope, error)

// OpenFunc decrypts one history envelope into a cache message.
type OpenFunc func(ctx context.Context, env models.Envelope) (models.Message, error)

type bucket struct {
	state State
	msgs  []models.Message
	ids   map[string]struct{}
}

// ConversationCache reconciles all message sources into one consistent view
// per peer. Safe for concurrent use: inbound delivery may interleave with
// selection at arbitrary times.
type ConversationCache struct {
	localUserID string
	fetch       FetchFunc
	open        OpenFunc
	log         logging.Logger

	mu        sync.Mutex
	anonymous bool
	buckets   map[string]*bucket
}

func New(localUserID string, fetch FetchFunc, open OpenFunc, log logging.Logger) *ConversationCache {
	return &ConversationCache{
		localUserID: localUserID,
		fetch:       fetch,
		open:        open,
		log:         log.With("component", "cache"),
		buckets:     make(map[string]*bucket),
	}
}

// SetAnonymous toggles anonymous mode: while set, selecting a conversation
// seeds it empty instead of fetching history. Messages exchanged during the
// session still accumulate normally.
func (c *ConversationCache) SetAnonymous(v bool) {
	c.mu.Lock()
	c.anonymous = v
	c.mu.Unlock()
}

func (c *ConversationCache) Anonymous() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anonymous
}

func (c *ConversationCache) getBucket(peerID string) *bucket {
	b, ok := c.buckets[peerID]
	if !ok {
		b = &bucket{ids: make(map[string]struct{})}
		c.buckets[peerID] = b
	}
	return b
}

// Select makes peerID's conversation ready and returns its ordered snapshot.
//
// Fast path: a Ready bucket is returned as is, with no network access and no
// reordering of already-displayed history. Otherwise history is fetched,
// re-filtered to exactly the (local, peer) pair in either direction,
// decrypted and merged. In anonymous mode the bucket is seeded empty.
func (c *ConversationCache) Select(ctx context.Context, peerID string) ([]models.Message, error) {
	c.mu.Lock()
	b := c.getBucket(peerID)
	if b.state == Ready {
		snap := snapshot(b)
		c.mu.Unlock()
		return snap, nil
	}
	if c.anonymous {
		b.state = Ready
		snap := snapshot(b)
		c.mu.Unlock()
		return snap, nil
	}
	b.state = Loading
	c.mu.Unlock()

	envelopes, err := c.fetch(ctx, peerID)
	if err != nil {
		c.mu.Lock()
		// Keep whatever arrived through Append while loading usable.
		if b.state == Loading {
			b.state = Empty
		}
		c.mu.Unlock()
		return nil, err
	}

	var fetched []models.Message
	for _, env := range envelopes {
		if !c.betweenPair(env, peerID) {
			continue
		}
		msg, err := c.open(ctx, env)
		if err != nil {
			// One corrupt history entry must not lose the rest.
			c.log.Warn(ctx, "skipping undecryptable history entry",
				"peer_id", peerID, "message_id", env.ID, "error", err)
			continue
		}
		fetched = append(fetched, msg)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// The bucket is keyed by the peer this fetch was issued for, so a slow
	// response can never overwrite another peer's conversation.
	for _, msg := range fetched {
		insert(b, msg)
	}
	b.state = Ready
	return snapshot(b), nil
}

// betweenPair reports whether env belongs to the conversation between the
// local user and peerID, in either direction. Upstream filtering is not
// trusted.
func (c *ConversationCache) betweenPair(env models.Envelope, peerID string) bool {
	sent := env.SenderID == c.localUserID && env.RecipientID == peerID
	received := env.SenderID == peerID && env.RecipientID == c.localUserID
	return sent || received
}

// Append adds one message to peerID's bucket, de-duplicating by message id
// and keeping the sequence non-decreasing by timestamp. Appending to an
// Empty or Loading bucket promotes it to Ready with that message; delivery
// must never wait for selection. Returns false when the id was already
// present.
func (c *ConversationCache) Append(peerID string, msg models.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.getBucket(peerID)
	inserted := insert(b, msg)
	b.state = Ready
	return inserted
}

// Snapshot is a pure read of the current ordered sequence for peerID.
func (c *ConversationCache) Snapshot(peerID string) []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[peerID]
	if !ok {
		return nil
	}
	return snapshot(b)
}

// StateOf reports the bucket state for peerID.
func (c *ConversationCache) StateOf(peerID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.buckets[peerID]
	if !ok {
		return Empty
	}
	return b.state
}

// insert places msg into the bucket preserving the non-decreasing timestamp
// invariant. Equal timestamps keep arrival order. Caller holds the lock.
func insert(b *bucket, msg models.Message) bool {
	if _, dup := b.ids[msg.ID]; dup {
		return false
	}
	b.ids[msg.ID] = struct{}{}

	i := sort.Search(len(b.msgs), func(i int) bool {
		return b.msgs[i].Timestamp.After(msg.Timestamp)
	})
	b.msgs = append(b.msgs, models.Message{})
	copy(b.msgs[i+1:], b.msgs[i:])
	b.msgs[i] = msg
	return true
}

func snapshot(b *bucket) []models.Message {
	out := make([]models.Message, len(b.msgs))
	copy(out, b.msgs)
	return out
}
