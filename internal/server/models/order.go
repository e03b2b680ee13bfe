package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderBucket is one month/status group of orders.
type OrderBucket struct {
	Month  time.Time
	Status string
	Count  int64
	Total  decimal.Decimal
}
