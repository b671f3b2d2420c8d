package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schednotify/internal/model"
)

// ScheduleRepository reads the slice of the external schedules table the
// notification core needs; schedule CRUD itself lives elsewhere.
type ScheduleRepository struct {
	db *pgxpool.Pool
}

func NewScheduleRepository(db *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const scheduleColumns = "id, user_id, title, start_at, end_at"

// GetByID returns the user's schedule or nil when it does not exist.
func (r *ScheduleRepository) GetByID(ctx context.Context, userID string, id int64) (*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE user_id = $1 AND id = $2`
	s, err := scanSchedule(r.db.QueryRow(ctx, query, userID, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindByTitle resolves a schedule by loose title match, preferring upcoming
// schedules over past ones so "OS lecture" binds to the next occurrence.
// Returns nil when nothing matches.
func (r *ScheduleRepository) FindByTitle(ctx context.Context, userID, title string) (*model.Schedule, error) {
	query := `
        SELECT ` + scheduleColumns + `
        FROM schedules
        WHERE user_id = $1 AND title ILIKE '%' || $2 || '%'
        ORDER BY (start_at >= NOW()) DESC, start_at
        LIMIT 1
    `
	s, err := scanSchedule(r.db.QueryRow(ctx, query, userID, title))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DueBetween lists schedules starting inside the window, for deadline alerts.
func (r *ScheduleRepository) DueBetween(ctx context.Context, from, until time.Time) ([]model.Schedule, error) {
	query := `
        SELECT ` + scheduleColumns + `
        FROM schedules
        WHERE start_at >= $1 AND start_at < $2
        ORDER BY start_at
    `
	rows, err := r.db.Query(ctx, query, from, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Schedule, 0)
	for rows.Next() {
		var s model.Schedule
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.StartAt, &s.EndAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UsersWithSchedulesOn lists the users holding at least one schedule on the
// given day, for daily summaries.
func (r *ScheduleRepository) UsersWithSchedulesOn(ctx context.Context, day time.Time) ([]string, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	query := `SELECT DISTINCT user_id FROM schedules WHERE start_at >= $1 AND start_at < $2`
	rows, err := r.db.Query(ctx, query, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func scanSchedule(row pgx.Row) (*model.Schedule, error) {
	var s model.Schedule
	if err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.StartAt, &s.EndAt); err != nil {
		return nil, err
	}
	return &s, nil
}
