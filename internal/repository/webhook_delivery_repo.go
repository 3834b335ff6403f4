package repository

import (
	"context"
	"database/sql"
	"time"

	"ocrbase/internal/models"

	"github.com/oklog/ulid/v2"
)

// SQLiteWebhookDeliveryRepository implements WebhookDeliveryRepository for SQLite/libsql.
type SQLiteWebhookDeliveryRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookDeliveryRepository creates a new SQLite webhook delivery repository.
func NewSQLiteWebhookDeliveryRepository(db *sql.DB) *SQLiteWebhookDeliveryRepository {
	return &SQLiteWebhookDeliveryRepository{db: db}
}

const webhookDeliveryColumns = `id, job_id, event_type, url, payload_json, status_code, status,
	error_message, attempt_number, max_attempts, next_retry_at, created_at, delivered_at`

// Create creates a new webhook delivery record.
func (r *SQLiteWebhookDeliveryRepository) Create(ctx context.Context, delivery *models.WebhookDelivery) error {
	if delivery.ID == "" {
		delivery.ID = ulid.Make().String()
	}
	if delivery.CreatedAt.IsZero() {
		delivery.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (`+webhookDeliveryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, delivery.ID, delivery.JobID, delivery.EventType, delivery.URL, delivery.PayloadJSON,
		nullInt(delivery.StatusCode), delivery.Status, nullString(delivery.ErrorMessage),
		delivery.AttemptNumber, delivery.MaxAttempts, nullTime(delivery.NextRetryAt),
		delivery.CreatedAt.Format(time.RFC3339), nullTime(delivery.DeliveredAt))

	return err
}

// Update rewrites the outcome fields of an existing delivery attempt.
func (r *SQLiteWebhookDeliveryRepository) Update(ctx context.Context, delivery *models.WebhookDelivery) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			status_code = ?, status = ?, error_message = ?, attempt_number = ?,
			next_retry_at = ?, delivered_at = ?
		WHERE id = ?
	`, nullInt(delivery.StatusCode), delivery.Status, nullString(delivery.ErrorMessage),
		delivery.AttemptNumber, nullTime(delivery.NextRetryAt), nullTime(delivery.DeliveredAt),
		delivery.ID)

	return err
}

// GetByJobID retrieves all webhook deliveries for a job, newest first.
func (r *SQLiteWebhookDeliveryRepository) GetByJobID(ctx context.Context, jobID string) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookDeliveryColumns+`
		FROM webhook_deliveries
		WHERE job_id = ?
		ORDER BY created_at DESC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanWebhookDeliveries(rows)
}

// GetPendingRetries retrieves deliveries that are due for retry.
func (r *SQLiteWebhookDeliveryRepository) GetPendingRetries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error) {
	now := time.Now().Format(time.RFC3339)

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+webhookDeliveryColumns+`
		FROM webhook_deliveries
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?
	`, models.WebhookDeliveryStatusRetrying, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanWebhookDeliveries(rows)
}

func scanWebhookDeliveries(rows *sql.Rows) ([]*models.WebhookDelivery, error) {
	var deliveries []*models.WebhookDelivery

	for rows.Next() {
		var delivery models.WebhookDelivery
		var statusCode sql.NullInt64
		var errorMessage sql.NullString
		var nextRetryAt sql.NullString
		var createdAt string
		var deliveredAt sql.NullString

		err := rows.Scan(
			&delivery.ID, &delivery.JobID, &delivery.EventType, &delivery.URL, &delivery.PayloadJSON,
			&statusCode, &delivery.Status, &errorMessage,
			&delivery.AttemptNumber, &delivery.MaxAttempts, &nextRetryAt, &createdAt, &deliveredAt,
		)
		if err != nil {
			return nil, err
		}

		if statusCode.Valid {
			v := int(statusCode.Int64)
			delivery.StatusCode = &v
		}
		delivery.ErrorMessage = errorMessage.String
		delivery.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if nextRetryAt.Valid {
			t, _ := time.Parse(time.RFC3339, nextRetryAt.String)
			delivery.NextRetryAt = &t
		}
		if deliveredAt.Valid {
			t, _ := time.Parse(time.RFC3339, deliveredAt.String)
			delivery.DeliveredAt = &t
		}

		deliveries = append(deliveries, &delivery)
	}

	return deliveries, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
