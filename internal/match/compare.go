package match

import "updock/internal/domain"

// LatestVersion is one version-source answer.
type LatestVersion struct {
	Tag         string
	PublishedAt string
}

// Lookup caches version-source answers for the duration of one evaluation,
// keyed by image repo. A repo absent from the map means the lookup failed or
// was never attempted; Compare treats both the same way.
type Lookup map[string]LatestVersion

// Compare builds the VersionRecord for one container. Missing data on either
// side yields HasUpdate=false rather than an error, so an unreachable version
// source degrades to "nothing to do" instead of failing the evaluation.
func Compare(snap domain.ContainerSnapshot, lookup Lookup) domain.VersionRecord {
	var rec domain.VersionRecord
	if snap.ImageTag != "" {
		cur := snap.ImageTag
		rec.Current = &cur
	}
	if lv, ok := lookup[snap.ImageRepo]; ok && lv.Tag != "" {
		lat := lv.Tag
		rec.Latest = &lat
		if lv.PublishedAt != "" {
			pub := lv.PublishedAt
			rec.PublishedAt = &pub
		}
	}
	rec.HasUpdate = HasUpdate(rec.Current, rec.Latest)
	return rec
}
