package model

import "time"

// Plan is a sellable subscription plan.
type Plan struct {
	Code              string    `db:"code"`
	Name              string    `db:"name"`
	AnalysesPerPeriod int       `db:"analyses_per_period"`
	Active            bool      `db:"active"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}
