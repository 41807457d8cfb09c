package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/71lols/paradigm-website/pkg/auth"
)

const profileCacheTTL = 30 * time.Second

// Profiles serves auth.ProfileFetcher off the user store with a
// read-through cache in front. Lookups run on every authenticated
// request, so a short TTL keeps the user table cool without letting
// profile edits go stale for long.
type Profiles struct {
	Users UserStore
	Cache Cache
}

func NewProfiles(users UserStore, cache Cache) *Profiles {
	return &Profiles{Users: users, Cache: cache}
}

type cachedProfile struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName"`
}

func (p *Profiles) FetchProfile(ctx context.Context, subject string) (auth.Profile, error) {
	key := "profile:" + subject
	if p.Cache != nil {
		if raw, err := p.Cache.Get(ctx, key); err == nil {
			var cached cachedProfile
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return auth.Profile{
					Email:         cached.Email,
					EmailVerified: cached.EmailVerified,
					DisplayName:   cached.DisplayName,
				}, nil
			}
		}
	}
	u, err := p.Users.GetUser(ctx, subject)
	if errors.Is(err, ErrNotFound) {
		return auth.Profile{}, auth.ErrProfileNotFound
	}
	if err != nil {
		return auth.Profile{}, err
	}
	prof := auth.Profile{Email: u.Email, EmailVerified: u.EmailVerified, DisplayName: u.DisplayName}
	if p.Cache != nil {
		raw, _ := json.Marshal(cachedProfile{
			Email:         prof.Email,
			EmailVerified: prof.EmailVerified,
			DisplayName:   prof.DisplayName,
		})
		_ = p.Cache.Set(ctx, key, string(raw), profileCacheTTL)
	}
	return prof, nil
}

// Invalidate drops the cached profile after a write to the user record.
func (p *Profiles) Invalidate(ctx context.Context, subject string) {
	if p.Cache != nil {
		_ = p.Cache.Del(ctx, "profile:"+subject)
	}
}
