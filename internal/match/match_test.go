package match_test

import (
	"reflect"
	"testing"

	"updock/internal/domain"
	"updock/internal/match"
)

func strPtr(s string) *string { return &s }

func inventory() []domain.ContainerSnapshot {
	return []domain.ContainerSnapshot{
		{ID: "c1", Name: "my-plex", ImageRepo: "linuxserver/plex", ImageTag: "1.0", StackName: "media", ServiceName: "plex", EndpointName: "local"},
		{ID: "c2", Name: "web", ImageRepo: "nginx", ImageTag: "1.25", StackName: "frontend", ServiceName: "web", EndpointName: "local"},
		{ID: "c3", Name: "web-2", ImageRepo: "nginx", ImageTag: "1.24", StackName: "staging", ServiceName: "web", EndpointName: "remote"},
	}
}

func TestResolveImageRepo(t *testing.T) {
	c, err := domain.NewImageRepoCriteria("nginx")
	if err != nil {
		t.Fatal(err)
	}
	got := match.Resolve(c, inventory())
	if len(got) != 2 {
		t.Fatalf("matched %d containers, want 2", len(got))
	}
	for _, snap := range got {
		if snap.ImageRepo != "nginx" {
			t.Fatalf("matched container with repo %q", snap.ImageRepo)
		}
	}
	// inventory order preserved
	if got[0].ID != "c2" || got[1].ID != "c3" {
		t.Fatalf("order not preserved: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestResolveStackServiceRequiresBoth(t *testing.T) {
	c, err := domain.NewStackServiceCriteria("frontend", "web")
	if err != nil {
		t.Fatal(err)
	}
	got := match.Resolve(c, inventory())
	if len(got) != 1 || got[0].ID != "c2" {
		t.Fatalf("got %v, want only c2", got)
	}
	// same service but different stack must not match
	c2, _ := domain.NewStackServiceCriteria("media", "web")
	if got := match.Resolve(c2, inventory()); len(got) != 0 {
		t.Fatalf("matched %d containers across stacks, want 0", len(got))
	}
}

func TestResolveContainerNameExact(t *testing.T) {
	c, _ := domain.NewContainerNameCriteria("my-plex")
	got := match.Resolve(c, inventory())
	if len(got) != 1 || got[0].ID != "c1" {
		t.Fatalf("got %v, want only c1", got)
	}
	// case sensitive
	c2, _ := domain.NewContainerNameCriteria("My-Plex")
	if got := match.Resolve(c2, inventory()); len(got) != 0 {
		t.Fatalf("name match should be case sensitive")
	}
}

func TestHasUpdate(t *testing.T) {
	cases := []struct {
		name    string
		current *string
		latest  *string
		want    bool
	}{
		{"leading v stripped", strPtr("v1.2.0"), strPtr("1.2.0"), false},
		{"different versions", strPtr("1.2.0"), strPtr("1.3.0"), true},
		{"both prefixed", strPtr("v2.0"), strPtr("v2.1"), true},
		{"whitespace trimmed", strPtr(" 1.2.0 "), strPtr("1.2.0"), false},
		{"missing current", nil, strPtr("1.3.0"), false},
		{"missing latest", strPtr("1.2.0"), nil, false},
		{"both missing", nil, nil, false},
		{"empty strings", strPtr(""), strPtr("1.0"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := match.HasUpdate(tc.current, tc.latest); got != tc.want {
				t.Fatalf("HasUpdate(%v, %v) = %v, want %v", tc.current, tc.latest, got, tc.want)
			}
		})
	}
}

func TestNormalizeStripsSingleV(t *testing.T) {
	if got := match.Normalize("vv1.0"); got != "v1.0" {
		t.Fatalf("Normalize(vv1.0) = %q, want v1.0", got)
	}
	if got := match.Normalize("v"); got != "v" {
		t.Fatalf("Normalize(v) = %q, a bare v is not a version prefix", got)
	}
}

func TestCompare(t *testing.T) {
	snap := domain.ContainerSnapshot{ID: "c1", ImageRepo: "nginx", ImageTag: "1.24"}
	lookup := match.Lookup{"nginx": {Tag: "1.25"}}

	rec := match.Compare(snap, lookup)
	if !rec.HasUpdate {
		t.Fatalf("expected update available")
	}
	if rec.Current == nil || *rec.Current != "1.24" || rec.Latest == nil || *rec.Latest != "1.25" {
		t.Fatalf("unexpected record %+v", rec)
	}

	// repo missing from the lookup means no update, not an error
	rec = match.Compare(snap, match.Lookup{})
	if rec.HasUpdate || rec.Latest != nil {
		t.Fatalf("missing lookup should yield no update, got %+v", rec)
	}

	// untagged container has no current side
	rec = match.Compare(domain.ContainerSnapshot{ImageRepo: "nginx"}, lookup)
	if rec.HasUpdate || rec.Current != nil {
		t.Fatalf("untagged container should yield no update, got %+v", rec)
	}
}

func TestCompareIsDeterministic(t *testing.T) {
	snap := domain.ContainerSnapshot{ID: "c1", ImageRepo: "nginx", ImageTag: "1.24"}
	lookup := match.Lookup{"nginx": {Tag: "1.25", PublishedAt: "2026-08-01T00:00:00Z"}}
	first := match.Compare(snap, lookup)
	second := match.Compare(snap, lookup)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated Compare diverged: %+v vs %+v", first, second)
	}
}
