package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schednotify/internal/model"
)

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = "id, user_id, schedule_id, message, notify_at, is_sent, is_checked"

// ClaimDue atomically selects and marks sent every due, unsent notification
// for one user. The conditional UPDATE is the whole critical section: two
// concurrent claimers see disjoint row sets because the row lock is taken by
// the same statement that filters on is_sent = false. Never split this into a
// SELECT followed by an UPDATE.
func (r *NotificationRepository) ClaimDue(ctx context.Context, userID string, now time.Time) ([]model.Notification, error) {
	query := `
        UPDATE notifications
        SET is_sent = true
        WHERE user_id = $1 AND is_sent = false AND notify_at <= $2
        RETURNING ` + notificationColumns
	rows, err := r.db.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// ClaimAllDue is the cross-user variant used by the background sweeper.
func (r *NotificationRepository) ClaimAllDue(ctx context.Context, now time.Time) ([]model.Notification, error) {
	query := `
        UPDATE notifications
        SET is_sent = true
        WHERE is_sent = false AND notify_at <= $1
        RETURNING ` + notificationColumns
	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanNotifications(rows)
}

func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) error {
	query := `
        INSERT INTO notifications (user_id, schedule_id, message, notify_at, is_sent, is_checked)
        VALUES ($1, $2, $3, $4, false, false)
        RETURNING id
    `
	return r.db.QueryRow(ctx, query, n.UserID, n.ScheduleID, n.Message, n.NotifyAt).Scan(&n.ID)
}

// CheckMany flips is_checked for the given ids, restricted to the owner.
// Ids not owned or not found are skipped silently; the returned count is the
// number of rows actually updated. An unsent notification may be checked: the
// user dismissing a reminder before its delivery time is a legitimate action.
func (r *NotificationRepository) CheckMany(ctx context.Context, userID string, ids []int64) (int64, error) {
	query := `
        UPDATE notifications
        SET is_checked = true
        WHERE user_id = $1 AND id = ANY($2)
    `
	tag, err := r.db.Exec(ctx, query, userID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes one notification owned by the user. Returns false when no
// such row exists.
func (r *NotificationRepository) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func scanNotifications(rows pgx.Rows) ([]model.Notification, error) {
	out := make([]model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.ScheduleID, &n.Message, &n.NotifyAt, &n.IsSent, &n.IsChecked); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
