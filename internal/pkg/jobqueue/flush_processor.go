package jobqueue

import (
	"github.com/keygate-io/keygate/internal/pkg/metrics/counter"
)

// processUsageFlushJob drains the Redis usage counters into the
// usage_counters table.
func (q *Queue) processUsageFlushJob() error {
	return counter.FlushUsageCounters()
}
