package presence

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wdonsong/huntly/internal/logging"
)

const defaultMaxTabs = 512

// State is the badge decision for a tab's current resource.
type State string

const (
	StateSaved    State = "saved"
	StateNotSaved State = "not_saved"
	// StateNotApplicable marks resources the library can never hold, such as
	// internal browser pages.
	StateNotApplicable State = "not_applicable"
)

// Lookup answers whether a URL is already saved. A positive id means saved.
type Lookup interface {
	ExistsByURL(ctx context.Context, rawURL string) (int64, error)
}

type entry struct {
	url   string
	state State
}

// Checker decides the badge state for a tab, caching the last checked URL per
// tab so repeated checks against an unchanged resource skip the remote call.
// Navigation is detected by URL mismatch; a changed URL always goes remote.
type Checker struct {
	cache  *lru.Cache[string, entry]
	lookup Lookup
	group  singleflight.Group
	logger logging.Logger
}

// NewChecker builds a checker over lookup.
func NewChecker(lookup Lookup, logger logging.Logger) (*Checker, error) {
	cache, err := lru.New[string, entry](defaultMaxTabs)
	if err != nil {
		return nil, fmt.Errorf("presence cache: %w", err)
	}
	return &Checker{
		cache:  cache,
		lookup: lookup,
		logger: logging.OrNop(logger),
	}, nil
}

// Check returns the badge state for rawURL loaded in tabID. The cached
// decision is only trusted when it was made for the same URL; force bypasses
// the cache entirely. A failed or malformed remote lookup collapses to
// not-saved for the badge but is not cached, so the next check retries.
func (c *Checker) Check(ctx context.Context, tabID, rawURL string, force bool) (State, error) {
	if !IsCheckable(rawURL) {
		return StateNotApplicable, nil
	}

	if !force {
		if e, ok := c.cache.Get(tabID); ok && e.url == rawURL {
			return e.state, nil
		}
	}

	// Concurrent checks for the same tab and URL collapse into one lookup.
	key := tabID + "\x00" + rawURL
	result, err, _ := c.group.Do(key, func() (any, error) {
		id, err := c.lookup.ExistsByURL(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		state := StateNotSaved
		if id > 0 {
			state = StateSaved
		}
		c.cache.Add(tabID, entry{url: rawURL, state: state})
		return state, nil
	})
	if err != nil {
		c.logger.Warn("presence lookup for tab %s failed: %v", tabID, err)
		return StateNotSaved, err
	}
	return result.(State), nil
}

// Evict drops the cached decision for a tab. Called when the tab closes or
// after an action elsewhere changed the resource's saved state.
func (c *Checker) Evict(tabID string) {
	c.cache.Remove(tabID)
}

// IsCheckable reports whether the library could hold this resource at all.
func IsCheckable(rawURL string) bool {
	rawURL = strings.TrimSpace(strings.ToLower(rawURL))
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}
