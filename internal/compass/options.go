package compass

import "time"

const (
	// DefaultEqualityThreshold is the similarity two elements must exceed to share an identity.
	DefaultEqualityThreshold = 0.8
	// DefaultWaitingListSize is the number of submissions kept ready for assessors.
	DefaultWaitingListSize = 10
	// DefaultConflictTolerance is the credit difference above which two judgements conflict.
	DefaultConflictTolerance = 0.01
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	threshold       float64
	waitingListSize int
	tolerance       float64
	similarity      SimilarityFunc
	now             func() time.Time
}

func defaultOptions() options {
	return options{
		threshold:       DefaultEqualityThreshold,
		waitingListSize: DefaultWaitingListSize,
		tolerance:       DefaultConflictTolerance,
		now:             time.Now,
	}
}

// WithEqualityThreshold sets the similarity cutoff for identity assignment.
func WithEqualityThreshold(threshold float64) Option {
	return func(o *options) {
		if threshold >= 0 && threshold <= 1 {
			o.threshold = threshold
		}
	}
}

// WithWaitingListSize sets the target size of the waiting list.
func WithWaitingListSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.waitingListSize = size
		}
	}
}

// WithConflictTolerance sets the credit difference tolerated between equivalent judgements.
func WithConflictTolerance(tolerance float64) Option {
	return func(o *options) {
		if tolerance >= 0 {
			o.tolerance = tolerance
		}
	}
}

// WithSimilarity installs the element similarity capability.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(o *options) { o.similarity = fn }
}

// WithClock overrides the clock used for last-used bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
