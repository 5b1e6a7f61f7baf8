package sampling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNoData is returned when every sample attempt failed and there is
// nothing to average.
var ErrNoData = errors.New("sampling: no successful samples")

// Source produces one raw reading of a metric. Sources are allowed to be
// slow or flaky; Average tolerates individual failures.
type Source func() (float64, error)

// Options control how Average collects and filters readings.
type Options struct {
	// Samples is how many readings to attempt per call.
	Samples int
	// Delay is the pause between consecutive readings.
	Delay time.Duration
	// OutlierThreshold is the maximum relative distance from the median a
	// reading may have and still count toward the mean.
	OutlierThreshold float64
}

// DefaultOptions returns the sampling parameters used by the collector when
// the configuration does not override them.
func DefaultOptions() Options {
	return Options{
		Samples:          5,
		Delay:            200 * time.Millisecond,
		OutlierThreshold: 0.2,
	}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.Samples <= 0 {
		o.Samples = def.Samples
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.OutlierThreshold <= 0 {
		o.OutlierThreshold = def.OutlierThreshold
	}
	return o
}

// Average reads src opts.Samples times, drops readings that failed, filters
// the survivors against the median and returns the mean of what remains.
//
// A reading counts as an outlier when |v-median| / |median| exceeds the
// threshold. If the median itself is zero the metric is idle and Average
// returns 0 without filtering. If filtering rejects every reading the median
// is returned instead, so a noisy burst can never produce an empty result.
// ErrNoData is returned only when all attempts failed.
func Average(ctx context.Context, src Source, opts Options) (float64, error) {
	opts = opts.normalized()

	values := make([]float64, 0, opts.Samples)
	for i := 0; i < opts.Samples; i++ {
		v, err := src()
		if err != nil {
			log.Debug().Err(err).Int("attempt", i+1).Msg("Sample attempt failed")
		} else {
			values = append(values, v)
		}
		if i == opts.Samples-1 || opts.Delay == 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(opts.Delay):
		}
	}

	if len(values) == 0 {
		return 0, ErrNoData
	}

	med := median(values)
	if med == 0 {
		return 0, nil
	}

	var sum float64
	var kept int
	for _, v := range values {
		if abs(v-med)/abs(med) <= opts.OutlierThreshold {
			sum += v
			kept++
		}
	}
	if kept == 0 {
		return med, nil
	}
	return sum / float64(kept), nil
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
