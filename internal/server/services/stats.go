package services

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/flicapp/identity/internal/common"
	"github.com/flicapp/identity/internal/server/models"
	"github.com/flicapp/identity/internal/server/repositories/repomanager"
	"github.com/shopspring/decimal"
)

const maxStatsMonths = 24

var hundred = decimal.NewFromInt(100)

type StatusStats struct {
	Count int64
	Total decimal.Decimal
}

// MonthStats aggregates one calendar month (UTC). The deltas compare with
// the previous month in the window; the first month compares with zero.
type MonthStats struct {
	Month        string
	Count        int64
	Total        decimal.Decimal
	ByStatus     map[string]StatusStats
	CountDelta   decimal.Decimal
	RevenueDelta decimal.Decimal
}

type StatsService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	now         clock
}

func NewStatsService(db *sql.DB, m repomanager.RepositoryManager) *StatsService {
	return &StatsService{db: db, repomanager: m, now: utcNow}
}

// MonthlyOrders returns the last months calendar months, oldest first,
// including months without orders.
func (s *StatsService) MonthlyOrders(ctx context.Context, months int) ([]MonthStats, error) {
	if months < 1 || months > maxStatsMonths {
		return nil, common.NewValidationError("months", "must be between 1 and 24")
	}

	now := s.now().UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	buckets, err := s.repomanager.Orders(s.db).MonthlyBuckets(ctx, first)
	if err != nil {
		return nil, internal("monthly buckets", err)
	}
	return aggregate(first, months, buckets), nil
}

func aggregate(first time.Time, months int, buckets []models.OrderBucket) []MonthStats {
	out := make([]MonthStats, months)
	index := make(map[string]int, months)
	for i := range out {
		key := first.AddDate(0, i, 0).Format("2006-01")
		out[i] = MonthStats{Month: key, Total: decimal.Zero, ByStatus: map[string]StatusStats{}}
		index[key] = i
	}

	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Month.Before(buckets[j].Month) })
	for _, b := range buckets {
		i, ok := index[b.Month.UTC().Format("2006-01")]
		if !ok {
			continue
		}
		st := out[i].ByStatus[b.Status]
		st.Count += b.Count
		st.Total = st.Total.Add(b.Total)
		out[i].ByStatus[b.Status] = st
		out[i].Count += b.Count
		out[i].Total = out[i].Total.Add(b.Total)
	}

	prevCount, prevTotal := decimal.Zero, decimal.Zero
	for i := range out {
		count := decimal.NewFromInt(out[i].Count)
		out[i].CountDelta = PercentDelta(prevCount, count)
		out[i].RevenueDelta = PercentDelta(prevTotal, out[i].Total)
		prevCount, prevTotal = count, out[i].Total
	}
	return out
}

// PercentDelta is the change from previous to current in percent, rounded to
// two places. A zero previous value gives 100 when current is positive and
// 0 otherwise.
func PercentDelta(previous, current decimal.Decimal) decimal.Decimal {
	if previous.IsZero() {
		if current.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return current.Sub(previous).Div(previous).Mul(hundred).Round(2)
}
