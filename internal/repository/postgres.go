// Package repository provides PostgreSQL repository implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/finopsmind/backend/internal/crypto"
	"github.com/finopsmind/backend/internal/model"
)

// PostgresEndpointRepository implements EndpointRepository for PostgreSQL.
// Auth secrets (token, password, key) are encrypted at rest with encryptionKey.
type PostgresEndpointRepository struct {
	db            *sql.DB
	encryptionKey []byte
}

// NewPostgresEndpointRepository creates a new PostgresEndpointRepository.
// encryptionKey must be the 32-byte output of crypto.DeriveKey.
func NewPostgresEndpointRepository(db *sql.DB, encryptionKey []byte) *PostgresEndpointRepository {
	return &PostgresEndpointRepository{db: db, encryptionKey: encryptionKey}
}

func (r *PostgresEndpointRepository) marshalAuth(auth model.AuthConfig) ([]byte, error) {
	plain, err := json.Marshal(auth)
	if err != nil {
		return nil, err
	}
	return crypto.Encrypt(plain, r.encryptionKey)
}

func unmarshalAuth(ciphertext, encryptionKey []byte, out *model.AuthConfig) error {
	if len(ciphertext) == 0 {
		return nil
	}
	plain, err := crypto.Decrypt(ciphertext, encryptionKey)
	if err != nil {
		return err
	}
	return json.Unmarshal(plain, out)
}

func (r *PostgresEndpointRepository) Create(ctx context.Context, ep *model.EndpointSpec) error {
	queryParamsJSON, _ := json.Marshal(ep.QueryParams)
	headersJSON, _ := json.Marshal(ep.Headers)
	cookiesJSON, _ := json.Marshal(ep.Cookies)
	authJSON, err := r.marshalAuth(ep.Auth)
	if err != nil {
		return fmt.Errorf("encrypt auth: %w", err)
	}
	bodyJSON, _ := json.Marshal(ep.Body)
	schemaJSON, _ := json.Marshal(ep.ExpectedSchema)

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO endpoints (id, tenant_id, name, url, method, expected_status, expected_schema,
			query_params, headers, cookies, auth, body, interval_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, ep.ID, ep.TenantID, ep.Name, ep.URL, ep.Method, ep.ExpectedStatus, schemaJSON,
		queryParamsJSON, headersJSON, cookiesJSON, authJSON, bodyJSON, ep.IntervalSecs, ep.CreatedAt, ep.UpdatedAt)
	return err
}

func (r *PostgresEndpointRepository) Get(ctx context.Context, id, tenantID uuid.UUID) (*model.EndpointSpec, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, url, method, expected_status, expected_schema,
			query_params, headers, cookies, auth, body, interval_seconds, created_at, updated_at
		FROM endpoints WHERE id = $1 AND tenant_id = $2
	`, id, tenantID)

	ep, err := scanEndpoint(row, r.encryptionKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ep, nil
}

func (r *PostgresEndpointRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*model.EndpointSpec, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, url, method, expected_status, expected_schema,
			query_params, headers, cookies, auth, body, interval_seconds, created_at, updated_at
		FROM endpoints WHERE tenant_id = $1 ORDER BY created_at DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEndpoints(rows, r.encryptionKey)
}

func (r *PostgresEndpointRepository) ListAll(ctx context.Context) ([]*model.EndpointSpec, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, url, method, expected_status, expected_schema,
			query_params, headers, cookies, auth, body, interval_seconds, created_at, updated_at
		FROM endpoints ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEndpoints(rows, r.encryptionKey)
}

func (r *PostgresEndpointRepository) Update(ctx context.Context, ep *model.EndpointSpec) error {
	queryParamsJSON, _ := json.Marshal(ep.QueryParams)
	headersJSON, _ := json.Marshal(ep.Headers)
	cookiesJSON, _ := json.Marshal(ep.Cookies)
	authJSON, err := r.marshalAuth(ep.Auth)
	if err != nil {
		return fmt.Errorf("encrypt auth: %w", err)
	}
	bodyJSON, _ := json.Marshal(ep.Body)
	schemaJSON, _ := json.Marshal(ep.ExpectedSchema)

	result, err := r.db.ExecContext(ctx, `
		UPDATE endpoints SET name = $3, url = $4, method = $5, expected_status = $6, expected_schema = $7,
			query_params = $8, headers = $9, cookies = $10, auth = $11, body = $12, interval_seconds = $13, updated_at = $14
		WHERE id = $1 AND tenant_id = $2
	`, ep.ID, ep.TenantID, ep.Name, ep.URL, ep.Method, ep.ExpectedStatus, schemaJSON,
		queryParamsJSON, headersJSON, cookiesJSON, authJSON, bodyJSON, ep.IntervalSecs, ep.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

func (r *PostgresEndpointRepository) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM endpoints WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return err
	}
	return requireRowAffected(result)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEndpoint(row scannable, encryptionKey []byte) (*model.EndpointSpec, error) {
	var ep model.EndpointSpec
	var schemaJSON, queryParamsJSON, headersJSON, cookiesJSON, authJSON, bodyJSON []byte

	err := row.Scan(&ep.ID, &ep.TenantID, &ep.Name, &ep.URL, &ep.Method, &ep.ExpectedStatus, &schemaJSON,
		&queryParamsJSON, &headersJSON, &cookiesJSON, &authJSON, &bodyJSON, &ep.IntervalSecs, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(schemaJSON, &ep.ExpectedSchema)
	json.Unmarshal(queryParamsJSON, &ep.QueryParams)
	json.Unmarshal(headersJSON, &ep.Headers)
	json.Unmarshal(cookiesJSON, &ep.Cookies)
	if err := unmarshalAuth(authJSON, encryptionKey, &ep.Auth); err != nil {
		return nil, fmt.Errorf("decrypt auth: %w", err)
	}
	json.Unmarshal(bodyJSON, &ep.Body)
	return &ep, nil
}

func scanEndpoints(rows *sql.Rows, encryptionKey []byte) ([]*model.EndpointSpec, error) {
	var out []*model.EndpointSpec
	for rows.Next() {
		ep, err := scanEndpoint(rows, encryptionKey)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func requireRowAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresRunRepository implements RunRepository for PostgreSQL.
type PostgresRunRepository struct {
	db *sql.DB
}

// NewPostgresRunRepository creates a new PostgresRunRepository.
func NewPostgresRunRepository(db *sql.DB) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

func (r *PostgresRunRepository) WithTx(ctx context.Context, fn func(tx RunTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&postgresRunTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *PostgresRunRepository) RecentResponseTimes(ctx context.Context, endpointID, excludeRunID uuid.UUID, limit int) ([]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT response_time_ms FROM runs
		WHERE endpoint_id = $1 AND id != $2 AND response_time_ms IS NOT NULL
		ORDER BY started_at DESC LIMIT $3
	`, endpointID, excludeRunID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *PostgresRunRepository) FailureRate(ctx context.Context, endpointID uuid.UUID) (float64, error) {
	var total, failed int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_success) FROM runs WHERE endpoint_id = $1
	`, endpointID).Scan(&total, &failed)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	return math.Round(float64(failed)/float64(total)*100.0*100) / 100, nil
}

func (r *PostgresRunRepository) ListRuns(ctx context.Context, endpointID uuid.UUID, limit int) ([]*model.Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, endpoint_id, tenant_id, started_at, status_code, response_time_ms, response_body_json, is_success, error_message
		FROM runs WHERE endpoint_id = $1 ORDER BY started_at DESC LIMIT $2
	`, endpointID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Run
	for rows.Next() {
		var run model.Run
		var bodyJSON []byte
		if err := rows.Scan(&run.ID, &run.EndpointID, &run.TenantID, &run.StartedAt, &run.StatusCode,
			&run.ResponseTimeMs, &bodyJSON, &run.IsSuccess, &run.ErrorMessage); err != nil {
			return nil, err
		}
		json.Unmarshal(bodyJSON, &run.ResponseBodyJSON)
		out = append(out, &run)
	}
	return out, rows.Err()
}

type postgresRunTx struct {
	tx *sql.Tx
}

func (t *postgresRunTx) InsertRun(ctx context.Context, run *model.Run) error {
	bodyJSON, _ := json.Marshal(run.ResponseBodyJSON)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO runs (id, endpoint_id, tenant_id, started_at, status_code, response_time_ms, response_body_json, is_success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, run.ID, run.EndpointID, run.TenantID, run.StartedAt, run.StatusCode, run.ResponseTimeMs, bodyJSON, run.IsSuccess, run.ErrorMessage)
	return err
}

func (t *postgresRunTx) InsertAnomaly(ctx context.Context, anomaly *model.Anomaly) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO anomalies (id, run_id, endpoint_id, tenant_id, severity_score, confidence, reasoning, probable_cause, recommendation, ai_called, used_fallback, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, anomaly.ID, anomaly.RunID, anomaly.EndpointID, anomaly.TenantID, anomaly.SeverityScore, anomaly.Confidence,
		anomaly.Reasoning, anomaly.ProbableCause, anomaly.Recommendation, anomaly.AICalled, anomaly.UsedFallback, anomaly.DetectedAt)
	return err
}

func (t *postgresRunTx) InsertRiskScore(ctx context.Context, score *model.RiskScore) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO risk_scores (id, run_id, calculated_score, risk_level, status_score, performance_score, drift_score, ai_score, history_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, score.ID, score.RunID, score.CalculatedScore, score.RiskLevel, score.StatusScore, score.PerformanceScore,
		score.DriftScore, score.AIScore, score.HistoryScore)
	return err
}
