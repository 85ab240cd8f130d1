package counter

import (
	"context"
	"log"
	"strconv"
	"strings"

	"github.com/keygate-io/keygate/app/repository"
	"github.com/keygate-io/keygate/internal/pkg/cache"
)

const usageKeyPattern = "usage:*"

// FlushUsageCounters drains the Redis daily usage counters into the
// usage_counters table. Redis stays authoritative for the hot path; the
// relational rows exist for audit and reporting and survive cache eviction.
func FlushUsageCounters() error {
	ctx := context.Background()
	rdb := cache.GetClient()
	usageRepo := repository.GetGlobalFactory().GetUsageRepository()

	var cursor uint64
	flushed := 0
	for {
		keys, next, err := rdb.Scan(ctx, cursor, usageKeyPattern, 200).Result()
		if err != nil {
			return err
		}

		for _, key := range keys {
			licenseID, day, ok := parseUsageKey(key)
			if !ok {
				continue
			}
			count, err := rdb.Get(ctx, key).Int64()
			if err != nil {
				continue
			}
			if err := usageRepo.UpsertCount(licenseID, day, count); err != nil {
				log.Printf("usage flush failed for key %s: %v", key, err)
				continue
			}
			flushed++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if flushed > 0 {
		log.Printf("flushed %d usage counters to database", flushed)
	}
	return nil
}

// parseUsageKey splits "usage:<licenseID>:<YYYY-MM-DD>" into its parts.
func parseUsageKey(key string) (uint, string, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "usage" {
		return 0, "", false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, "", false
	}
	if len(parts[2]) != len("2006-01-02") {
		return 0, "", false
	}
	return uint(id), parts[2], true
}
