package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/splax/etlwatch/internal/domain"
)

// runBucket accumulates the runs sharing one key (a pipeline name or a date).
type runBucket struct {
	key           string
	total         int
	succeeded     int
	failed        int
	durationSum   int64
	durationCount int64
	durationMin   int64
	durationMax   int64
	lastStart     time.Time
	lastFailure   *time.Time
}

func (b *runBucket) add(run domain.PipelineRun) {
	b.total++
	switch run.Status {
	case domain.StatusSucceeded:
		b.succeeded++
	case domain.StatusFailed:
		b.failed++
		if run.EndTime != nil && (b.lastFailure == nil || run.EndTime.After(*b.lastFailure)) {
			end := *run.EndTime
			b.lastFailure = &end
		}
	}
	if run.StartTime.After(b.lastStart) {
		b.lastStart = run.StartTime
	}
	if secs, ok := run.DurationSeconds(); ok {
		if b.durationCount == 0 || secs < b.durationMin {
			b.durationMin = secs
		}
		if b.durationCount == 0 || secs > b.durationMax {
			b.durationMax = secs
		}
		b.durationSum += secs
		b.durationCount++
	}
}

// avgDuration truncates like an integer SQL AVG; runs without an end time are ignored.
func (b *runBucket) avgDuration() int64 {
	if b.durationCount == 0 {
		return 0
	}
	return b.durationSum / b.durationCount
}

func (b *runBucket) successRate() float64 {
	return percent(b.succeeded, b.total)
}

func (b *runBucket) failureRate() float64 {
	return percent(b.failed, b.total)
}

type bucketSet struct {
	order   []string
	buckets map[string]*runBucket
}

func groupRuns(runs []domain.PipelineRun, keyFn func(domain.PipelineRun) string) *bucketSet {
	set := &bucketSet{buckets: make(map[string]*runBucket)}
	for _, run := range runs {
		key := keyFn(run)
		bucket := set.buckets[key]
		if bucket == nil {
			bucket = &runBucket{key: key}
			set.buckets[key] = bucket
			set.order = append(set.order, key)
		}
		bucket.add(run)
	}
	return set
}

// sorted returns buckets ordered by less, falling back to key order so
// repeated calls over the same rows give identical results.
func (s *bucketSet) sorted(less func(a, b *runBucket) bool) []*runBucket {
	out := make([]*runBucket, 0, len(s.buckets))
	for _, key := range s.order {
		out = append(out, s.buckets[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if less != nil {
			if less(out[i], out[j]) {
				return true
			}
			if less(out[j], out[i]) {
				return false
			}
		}
		return out[i].key < out[j].key
	})
	return out
}

// percent returns 100*part/whole rounded to two decimals, or 0 for an empty whole.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return round2(float64(part) * 100 / float64(whole))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
