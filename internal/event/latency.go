package event

import "time"

// LatencyBucket classifies a request duration into a closed set of ranges.
type LatencyBucket string

const (
	// BucketFast - under the fast threshold.
	BucketFast LatencyBucket = "<50ms"

	// BucketModerate - fast threshold up to the moderate threshold.
	BucketModerate LatencyBucket = "50-200ms"

	// BucketSlow - moderate threshold up to the slow threshold.
	BucketSlow LatencyBucket = "200-500ms"

	// BucketVerySlow - slow threshold up to the very-slow threshold.
	BucketVerySlow LatencyBucket = "500-1000ms"

	// BucketCritical - at or above the very-slow threshold.
	BucketCritical LatencyBucket = ">1000ms"

	// BucketUnknown - duration was absent.
	BucketUnknown LatencyBucket = "unknown"
)

// LatencyThresholds holds the bucket boundaries. Each boundary belongs to
// the bucket it opens: a duration of exactly Moderate classifies as
// BucketSlow's lower neighbour's upper bound, i.e. "200-500ms" for the
// default 200ms boundary.
type LatencyThresholds struct {
	Fast     time.Duration
	Moderate time.Duration
	Slow     time.Duration
	VerySlow time.Duration
}

// DefaultLatencyThresholds returns the standard 50/200/500/1000ms boundaries.
func DefaultLatencyThresholds() LatencyThresholds {
	return LatencyThresholds{
		Fast:     50 * time.Millisecond,
		Moderate: 200 * time.Millisecond,
		Slow:     500 * time.Millisecond,
		VerySlow: 1000 * time.Millisecond,
	}
}

// Valid reports whether the thresholds are strictly increasing and positive.
func (t LatencyThresholds) Valid() bool {
	return t.Fast > 0 && t.Fast < t.Moderate && t.Moderate < t.Slow && t.Slow < t.VerySlow
}

// ClassifyLatency maps a duration to its bucket using the default
// thresholds. A nil duration classifies as BucketUnknown.
func ClassifyLatency(d *time.Duration) LatencyBucket {
	return ClassifyLatencyWith(DefaultLatencyThresholds(), d)
}

// ClassifyLatencyWith maps a duration to its bucket using custom
// thresholds. Boundaries are inclusive-lower: exactly 200ms falls into
// "200-500ms". Total over all inputs, including nil and negatives
// (negative durations classify as the fastest bucket).
func ClassifyLatencyWith(t LatencyThresholds, d *time.Duration) LatencyBucket {
	if d == nil {
		return BucketUnknown
	}
	if !t.Valid() {
		t = DefaultLatencyThresholds()
	}

	switch v := *d; {
	case v < t.Fast:
		return BucketFast
	case v < t.Moderate:
		return BucketModerate
	case v < t.Slow:
		return BucketSlow
	case v < t.VerySlow:
		return BucketVerySlow
	default:
		return BucketCritical
	}
}

// ClassifyLatencyMS is a convenience for millisecond values as stored on
// WideEvent records.
func ClassifyLatencyMS(ms *int64) LatencyBucket {
	if ms == nil {
		return BucketUnknown
	}
	d := time.Duration(*ms) * time.Millisecond
	return ClassifyLatency(&d)
}
