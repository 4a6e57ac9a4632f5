// Package analytics derives reporting views from upgrade ledger rows. Every
// function here is a pure computation over its input slice; recomputing on
// each read is the intended usage.
package analytics

import (
	"math"
	"sort"
	"time"

	"updock/internal/domain"
)

// Stats is the headline summary behind the stats endpoint.
type Stats struct {
	Total          int     `json:"total"`
	SuccessCount   int     `json:"success_count"`
	FailedCount    int     `json:"failed_count"`
	SuccessRatePct int     `json:"success_rate_pct"`
	AvgDurationMs  float64 `json:"avg_duration_ms"`
	SpeedScore     string  `json:"speed_score"`
}

// DayBucket is one point of the per-day time series.
type DayBucket struct {
	Date           string `json:"date"`
	Total          int    `json:"total"`
	Success        int    `json:"success"`
	Failed         int    `json:"failed"`
	SuccessRatePct int    `json:"success_rate_pct"`
}

// NameCount is a grouped count keyed by container or endpoint name.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DurationBucket is one bin of the duration histogram.
type DurationBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Report carries every derived view at once.
type Report struct {
	Stats        Stats            `json:"stats"`
	PerDay       []DayBucket      `json:"per_day"`
	PerContainer []NameCount      `json:"per_container"`
	PerEndpoint  []NameCount      `json:"per_endpoint"`
	Durations    []DurationBucket `json:"duration_histogram"`
	// Heatmap counts upgrades by day of week (0=Sunday) and hour of day.
	Heatmap        [7][24]int `json:"heatmap"`
	UpgradesPerDay float64    `json:"upgrades_per_day"`
	ObservedDays   int        `json:"observed_days"`
}

const (
	ScoreExcellent = "excellent"
	ScoreFast      = "fast"
	ScoreModerate  = "moderate"
	ScoreSlow      = "slow"
	ScoreVerySlow  = "very-slow"
)

var durationBins = []struct {
	label string
	maxMs int64
}{
	{"<30s", 30_000},
	{"30s-1m", 60_000},
	{"1m-2m", 120_000},
	{"2m-5m", 300_000},
	{">=5m", math.MaxInt64},
}

// Aggregate builds the full report from ledger rows in any order.
func Aggregate(records []domain.UpgradeRecord) Report {
	var rep Report
	rep.Stats = Summarize(records)
	rep.Durations = make([]DurationBucket, len(durationBins))
	for i, b := range durationBins {
		rep.Durations[i].Label = b.label
	}

	days := map[string]*DayBucket{}
	containers := map[string]int{}
	endpoints := map[string]int{}
	var firstDay, lastDay string

	for _, r := range records {
		containers[r.ContainerName]++
		if r.EndpointName != "" {
			endpoints[r.EndpointName]++
		}
		if r.DurationMs > 0 {
			for i, b := range durationBins {
				if r.DurationMs < b.maxMs {
					rep.Durations[i].Count++
					break
				}
			}
		}
		t, err := time.Parse(time.RFC3339, r.StartedAt)
		if err != nil {
			continue
		}
		day := t.UTC().Format("2006-01-02")
		if firstDay == "" || day < firstDay {
			firstDay = day
		}
		if day > lastDay {
			lastDay = day
		}
		b, ok := days[day]
		if !ok {
			b = &DayBucket{Date: day}
			days[day] = b
		}
		b.Total++
		if r.Status == domain.UpgradeSuccess {
			b.Success++
		} else {
			b.Failed++
		}
		rep.Heatmap[int(t.UTC().Weekday())][t.UTC().Hour()]++
	}

	for _, b := range days {
		b.SuccessRatePct = ratePct(b.Success, b.Total)
		rep.PerDay = append(rep.PerDay, *b)
	}
	sort.Slice(rep.PerDay, func(i, j int) bool { return rep.PerDay[i].Date < rep.PerDay[j].Date })
	rep.PerContainer = sortedCounts(containers)
	rep.PerEndpoint = sortedCounts(endpoints)

	if firstDay != "" {
		first, _ := time.Parse("2006-01-02", firstDay)
		last, _ := time.Parse("2006-01-02", lastDay)
		rep.ObservedDays = int(last.Sub(first).Hours()/24) + 1
		rep.UpgradesPerDay = float64(len(records)) / float64(rep.ObservedDays)
	}
	return rep
}

// Summarize computes the headline stats only. The average covers rows that
// carry a duration; rows without one are excluded, not counted as zero.
func Summarize(records []domain.UpgradeRecord) Stats {
	var s Stats
	var durTotal int64
	var durCount int
	for _, r := range records {
		s.Total++
		if r.Status == domain.UpgradeSuccess {
			s.SuccessCount++
		} else {
			s.FailedCount++
		}
		if r.DurationMs > 0 {
			durTotal += r.DurationMs
			durCount++
		}
	}
	s.SuccessRatePct = ratePct(s.SuccessCount, s.Total)
	if durCount > 0 {
		s.AvgDurationMs = float64(durTotal) / float64(durCount)
	}
	s.SpeedScore = speedScore(s.AvgDurationMs, durCount)
	return s
}

// speedScore buckets the average duration into a qualitative tier.
func speedScore(avgMs float64, samples int) string {
	if samples == 0 {
		return ""
	}
	switch {
	case avgMs < 30_000:
		return ScoreExcellent
	case avgMs < 60_000:
		return ScoreFast
	case avgMs < 120_000:
		return ScoreModerate
	case avgMs < 300_000:
		return ScoreSlow
	default:
		return ScoreVerySlow
	}
}

func ratePct(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

func sortedCounts(m map[string]int) []NameCount {
	out := make([]NameCount, 0, len(m))
	for name, count := range m {
		out = append(out, NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
