// Package repository defines data access interfaces.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/finopsmind/backend/internal/model"
)

// ErrNotFound is returned when a lookup by id (optionally scoped to a
// tenant) matches no row. Cross-tenant reads return this rather than a
// permission error.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

// EndpointRepository manages monitored endpoint configurations.
type EndpointRepository interface {
	Create(ctx context.Context, ep *model.EndpointSpec) error
	Get(ctx context.Context, id, tenantID uuid.UUID) (*model.EndpointSpec, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*model.EndpointSpec, error)
	ListAll(ctx context.Context) ([]*model.EndpointSpec, error)
	Update(ctx context.Context, ep *model.EndpointSpec) error
	Delete(ctx context.Context, id, tenantID uuid.UUID) error
}

// RunRepository persists monitoring run outcomes and the rolling signals
// the pipeline derives from run history.
type RunRepository interface {
	// InsertRun, InsertAnomaly (optional), and InsertRiskScore execute
	// within a single atomic session so that either all rows for a run
	// become visible, or none do.
	WithTx(ctx context.Context, fn func(tx RunTx) error) error

	// RecentResponseTimes returns up to limit response_time_ms values for
	// prior successful-or-not runs of endpointID, most recent first,
	// excluding excludeRunID.
	RecentResponseTimes(ctx context.Context, endpointID, excludeRunID uuid.UUID, limit int) ([]float64, error)

	// FailureRate returns the percentage of failed runs for endpointID
	// over all runs ever recorded, rounded to two decimals.
	FailureRate(ctx context.Context, endpointID uuid.UUID) (float64, error)

	ListRuns(ctx context.Context, endpointID uuid.UUID, limit int) ([]*model.Run, error)
}

// RunTx is the set of writes available inside one atomic run-persistence
// session.
type RunTx interface {
	InsertRun(ctx context.Context, run *model.Run) error
	InsertAnomaly(ctx context.Context, anomaly *model.Anomaly) error
	InsertRiskScore(ctx context.Context, score *model.RiskScore) error
}
