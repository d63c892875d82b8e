package mailsync

import (
	"context"
)

// DedupGate admits each message at most once per account. It checks storage
// before anything is written and remembers what it admitted during the current
// invocation. A DedupGate belongs to one invocation.
type DedupGate struct {
	store EmailStore
	seen  map[string]struct{}
}

func NewDedupGate(store EmailStore) *DedupGate {
	return &DedupGate{store: store, seen: make(map[string]struct{})}
}

// Admit reports whether the message should be persisted.
func (g *DedupGate) Admit(ctx context.Context, accountID, messageID, sourceKey string) (bool, error) {
	idKey := "id:" + messageID
	srcKey := "src:" + sourceKey
	if _, ok := g.seen[idKey]; ok {
		return false, nil
	}
	if _, ok := g.seen[srcKey]; ok {
		return false, nil
	}

	exists, err := g.store.EmailExists(ctx, accountID, messageID, sourceKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	g.seen[idKey] = struct{}{}
	g.seen[srcKey] = struct{}{}
	return true, nil
}
