package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"updock/internal/domain"
	"updock/internal/match"
	"updock/internal/observability"
)

// RegistryVersionSource looks up the newest tag of an image repo through the
// registry v2 tag-list API. Lookups are throttled per registry host with a
// token bucket so a large pass cannot hammer a registry.
type RegistryVersionSource struct {
	BaseURL string
	Client  *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func NewRegistryVersionSource(baseURL string, lookupsPerSecond float64, burst int) *RegistryVersionSource {
	if lookupsPerSecond <= 0 {
		lookupsPerSecond = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &RegistryVersionSource{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{Timeout: 15 * time.Second},
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(lookupsPerSecond),
		b:        burst,
	}
}

func (s *RegistryVersionSource) allow(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[host]
	if !ok {
		lim = rate.NewLimiter(s.r, s.b)
		s.limiters[host] = lim
	}
	return lim.Allow()
}

type tagListResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Latest returns the highest-sorting tag for the repo. Registries do not
// expose publish timestamps on the tag list, so PublishedAt stays unset here.
func (s *RegistryVersionSource) Latest(ctx context.Context, imageRepo string) (domain.VersionRecord, error) {
	if s.BaseURL == "" {
		return domain.VersionRecord{}, nil
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return domain.VersionRecord{}, &Error{Op: "version lookup", Err: err}
	}
	if !s.allow(u.Host) {
		observability.VersionLookups.WithLabelValues("throttled").Inc()
		return domain.VersionRecord{}, &Error{Op: "version lookup", Err: fmt.Errorf("rate limit exceeded for %s", u.Host)}
	}

	name := imageRepo
	if !strings.Contains(name, "/") {
		name = "library/" + name
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s/tags/list", s.BaseURL, name), nil)
	if err != nil {
		return domain.VersionRecord{}, &Error{Op: "version lookup", Err: err}
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		observability.VersionLookups.WithLabelValues("error").Inc()
		return domain.VersionRecord{}, &Error{Op: "version lookup", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		observability.VersionLookups.WithLabelValues("error").Inc()
		return domain.VersionRecord{}, &Error{Op: "version lookup", Err: fmt.Errorf("registry returned %s for %s", resp.Status, imageRepo)}
	}
	var body tagListResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		observability.VersionLookups.WithLabelValues("error").Inc()
		return domain.VersionRecord{}, &Error{Op: "version lookup", Err: fmt.Errorf("decode tag list for %s: %w", imageRepo, err)}
	}

	best := pickLatestTag(body.Tags)
	if best == "" {
		observability.VersionLookups.WithLabelValues("miss").Inc()
		return domain.VersionRecord{}, nil
	}
	observability.VersionLookups.WithLabelValues("hit").Inc()
	return domain.VersionRecord{Latest: &best}, nil
}

// pickLatestTag chooses the newest-looking release tag. Tags that do not
// start with a digit (after normalization) are ignored, which drops "latest",
// "stable", and architecture aliases.
func pickLatestTag(tags []string) string {
	var candidates []string
	for _, t := range tags {
		n := match.Normalize(t)
		if n == "" || n[0] < '0' || n[0] > '9' {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Slice(candidates, func(i, j int) bool {
		return lessVersion(match.Normalize(candidates[i]), match.Normalize(candidates[j]))
	})
	return candidates[len(candidates)-1]
}

// lessVersion compares dotted numeric tags component-wise, falling back to
// string order for non-numeric components.
func lessVersion(a, b string) bool {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aok := atoi(as[i])
		bi, bok := atoi(bs[i])
		switch {
		case aok && bok:
			if ai != bi {
				return ai < bi
			}
		default:
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
		}
	}
	return len(as) < len(bs)
}

func atoi(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
