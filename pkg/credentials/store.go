package credentials

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/velocity/pkg/kv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Key is the entry both tiers store the credential under.
const Key = "credential"

type Tier string

const (
	TierRemember Tier = "remember"
	TierSession  Tier = "session"
)

// Store resolves the current credential from two tiers.
//
// Precedence: the remember tier wins over the session tier. Persisting to one
// tier always removes the copy held by the other one, so both tiers only hold
// the same identity during the short window of a Persist call.
type Store struct {
	remember kv.Store
	session  kv.Store
}

func NewStore(remember kv.Store, session kv.Store) *Store {
	if remember == nil {
		remember = kv.NewInMemoryStore()
	}
	if session == nil {
		session = kv.NewInMemoryStore()
	}
	return &Store{
		remember: remember,
		session:  session,
	}
}

// Resolve returns the current credential. Missing, unreadable and malformed
// entries all resolve to absent.
func (s *Store) Resolve(ctx context.Context) (*Credential, bool) {
	if c, ok := s.read(ctx, TierRemember); ok {
		return c, true
	}
	if c, ok := s.read(ctx, TierSession); ok {
		return c, true
	}
	return nil, false
}

// ResolveTier is like Resolve but also reports which tier answered.
func (s *Store) ResolveTier(ctx context.Context) (*Credential, Tier, bool) {
	if c, ok := s.read(ctx, TierRemember); ok {
		return c, TierRemember, true
	}
	if c, ok := s.read(ctx, TierSession); ok {
		return c, TierSession, true
	}
	return nil, "", false
}

func (s *Store) Persist(ctx context.Context, c *Credential, remember bool) error {
	if !c.Valid() {
		return errors.New("cannot persist credential without token")
	}
	b, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "could not encode credential")
	}

	target, other := s.session, s.remember
	if remember {
		target, other = s.remember, s.session
	}
	if err := target.Put(ctx, Key, b); err != nil {
		return errors.Wrap(err, "could not persist credential")
	}
	if err := other.Delete(ctx, Key); err != nil {
		return errors.Wrap(err, "could not clear stale credential")
	}

	log.Debug().
		Int64("user_id", c.UserID).
		Bool("remember", remember).
		Msg("Persisted credential")
	return nil
}

// Clear removes the credential from both tiers. The second tier is cleared
// even when clearing the first one fails.
func (s *Store) Clear(ctx context.Context) error {
	errRemember := s.remember.Delete(ctx, Key)
	errSession := s.session.Delete(ctx, Key)
	if errRemember != nil {
		return errors.Wrap(errRemember, "could not clear remember tier")
	}
	if errSession != nil {
		return errors.Wrap(errSession, "could not clear session tier")
	}
	log.Debug().Msg("Cleared credential")
	return nil
}

func (s *Store) read(ctx context.Context, tier Tier) (*Credential, bool) {
	store := s.session
	if tier == TierRemember {
		store = s.remember
	}

	b, ok, err := store.Get(ctx, Key)
	if err != nil {
		log.Debug().Err(err).Str("tier", string(tier)).Msg("Could not read credential tier")
		return nil, false
	}
	if !ok || len(b) == 0 {
		return nil, false
	}

	c := &Credential{}
	if err := json.Unmarshal(b, c); err != nil {
		log.Debug().Err(err).Str("tier", string(tier)).Msg("Ignoring malformed credential")
		return nil, false
	}
	if !c.Valid() {
		log.Debug().Str("tier", string(tier)).Msg("Ignoring credential without token")
		return nil, false
	}
	return c, true
}
