package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/homecare/internal/payment/domain"
	"github.com/smallbiznis/homecare/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	conn *gorm.DB
}

func Provide(conn *gorm.DB) paymentdomain.Repository {
	return &repo{conn: conn}
}

func (r *repo) InsertEvent(ctx context.Context, record *paymentdomain.EventRecord) (bool, error) {
	err := r.conn.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, event_type, membership_id, payload,
			received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Provider,
		record.ProviderEventID,
		record.EventType,
		record.MembershipID,
		record.Payload,
		record.ReceivedAt,
		record.ProcessedAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) FindEvent(ctx context.Context, provider, providerEventID string) (*paymentdomain.EventRecord, error) {
	var record paymentdomain.EventRecord
	err := r.conn.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, membership_id, payload,
		 received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) MarkProcessed(ctx context.Context, id snowflake.ID, at time.Time) error {
	return r.conn.WithContext(ctx).Exec(
		`UPDATE payment_events SET processed_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
