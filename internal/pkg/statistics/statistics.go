package statistics

import (
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/keygate-io/keygate/app/models"
	"github.com/keygate-io/keygate/app/repository"
	"github.com/keygate-io/keygate/internal/pkg/cache"
)

const (
	CacheKeyUsers          = "statistics:users:total"
	CacheKeyActiveLicenses = "statistics:licenses:active"
	CacheKeyCallsToday     = "statistics:calls:today"
	CacheExpiration        = 30 * time.Minute
)

// StatisticsData holds the service totals exposed by the stats endpoint.
type StatisticsData struct {
	TotalUsers     int   `json:"total_users"`
	ActiveLicenses int   `json:"active_licenses"`
	CallsToday     int64 `json:"calls_today"`
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// ShouldUpdateCache reports whether the cached totals are due for a refresh.
func ShouldUpdateCache() bool {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	return time.Since(lastCacheUpdate) > cacheUpdateInterval
}

// UpdateCacheIfNeeded refreshes the cached totals when the interval elapsed.
func UpdateCacheIfNeeded() {
	if ShouldUpdateCache() {
		cacheUpdateMutex.Lock()
		defer cacheUpdateMutex.Unlock()

		if err := UpdateStatisticsCache(); err != nil {
			log.Printf("failed to update statistics cache: %v", err)
		} else {
			lastCacheUpdate = time.Now()
		}
	}
}

// UpdateStatisticsCache recomputes all totals from the database and stores
// them in the cache.
func UpdateStatisticsCache() error {
	repos := repository.GetGlobalRepositories()

	totalUsers, err := repos.User.Count()
	if err != nil {
		log.Printf("error counting users: %v", err)
		return err
	}

	activeLicenses, err := repos.License.CountActive()
	if err != nil {
		log.Printf("error counting active licenses: %v", err)
		return err
	}

	today := time.Now().UTC().Format("2006-01-02")
	callsToday, err := repos.Usage.SumForDay(today)
	if err != nil {
		log.Printf("error summing today's calls: %v", err)
		return err
	}

	if err := cache.Set(CacheKeyUsers, int(totalUsers), CacheExpiration); err != nil {
		return err
	}
	if err := cache.Set(CacheKeyActiveLicenses, int(activeLicenses), CacheExpiration); err != nil {
		return err
	}
	return cache.Set(CacheKeyCallsToday, strconv.FormatInt(callsToday, 10), CacheExpiration)
}

// DefaultSeriesDays is the range DailyCallSeries covers when the caller
// does not ask for one.
const DefaultSeriesDays = 7

// MaxSeriesDays caps how far back a daily series may reach.
const MaxSeriesDays = 90

// DailyCallSeries returns per-day call totals for the trailing number of
// days, today included. Out-of-range values collapse to the defaults.
func DailyCallSeries(days int) ([]models.DailyStats, error) {
	start, end := seriesWindow(days, time.Now())
	return repository.GetGlobalRepositories().Usage.GetDailyStats(start, end)
}

// seriesWindow clamps the requested day count and returns the inclusive UTC
// date range ending on the day of now.
func seriesWindow(days int, now time.Time) (time.Time, time.Time) {
	if days <= 0 {
		days = DefaultSeriesDays
	}
	if days > MaxSeriesDays {
		days = MaxSeriesDays
	}
	end := now.UTC()
	return end.AddDate(0, 0, -(days - 1)), end
}

// GetStatistics returns the cached totals, refreshing the cache on miss.
func GetStatistics() StatisticsData {
	UpdateCacheIfNeeded()

	data := StatisticsData{}
	if v, err := cache.GetInt(CacheKeyUsers); err == nil {
		data.TotalUsers = v
	}
	if v, err := cache.GetInt(CacheKeyActiveLicenses); err == nil {
		data.ActiveLicenses = v
	}
	if raw, err := cache.Get(CacheKeyCallsToday); err == nil {
		if v, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			data.CallsToday = v
		}
	}
	return data
}
