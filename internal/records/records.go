// Package records provides relational persistence of final domain records:
// user profiles, daily survey rows and chat messages. This is separate from the
// conversation state store, which only holds in-flight session state.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/daribar/surveybot/internal/models"
)

// Repository is the persistence contract the data mapper and the conversation
// core depend on. Lookups report absence as (nil, nil).
type Repository interface {
	GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	CreateUserProfile(ctx context.Context, profile models.UserProfile) error
	UpdateUserField(ctx context.Context, userID, field string, value any) error
	LatestSurveyToday(ctx context.Context, userID string) (*models.SurveyRecord, error)
	CreateSurvey(ctx context.Context, survey models.SurveyRecord) error
	UpdateSurveyField(ctx context.Context, surveyID int64, userID, field string, value any) error
	SaveMessage(ctx context.Context, msg models.MessageRecord) (models.MessageRecord, error)
	ListMessages(ctx context.Context, userID string, limit int) ([]models.MessageRecord, error)
}

// Columns writable through the dynamic field-update paths. Anything else is
// rejected before it reaches SQL.
var (
	userColumns = map[string]bool{
		"language":      true,
		"username":      true,
		"birthdate":     true,
		"medications":   true,
		"comorbidity":   true,
		"reminder_time": true,
	}
	surveyColumns = map[string]bool{
		"headache_today":   true,
		"medicament_today": true,
		"pain_intensity":   true,
		"pain_area":        true,
		"area_detail":      true,
		"pain_type":        true,
	}
)

// SQLRepository implements Repository on any sqlx-supported database. Queries
// are written with ? bindvars and rebound per driver.
type SQLRepository struct {
	db *sqlx.DB
}

// GetUserProfile retrieves a user profile, or nil when the user is unknown.
func (r *SQLRepository) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	query := r.db.Rebind(`SELECT userid, language, username, birthdate, medications, comorbidity, reminder_time, created_at FROM users WHERE userid = ?`)
	err := r.db.GetContext(ctx, &profile, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLRepository GetUserProfile not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLRepository GetUserProfile failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("get user profile %s: %w", userID, err)
	}
	return &profile, nil
}

// CreateUserProfile inserts a new user profile.
func (r *SQLRepository) CreateUserProfile(ctx context.Context, profile models.UserProfile) error {
	query := r.db.Rebind(`INSERT INTO users (userid, language, username, birthdate, medications, comorbidity, reminder_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	createdAt := profile.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query, profile.UserID, profile.Language, profile.Username,
		profile.Birthdate, profile.Medications, profile.Comorbidity, profile.ReminderTime, createdAt)
	if err != nil {
		slog.Error("SQLRepository CreateUserProfile failed", "error", err, "userID", profile.UserID)
		return fmt.Errorf("create user profile %s: %w", profile.UserID, err)
	}
	slog.Debug("SQLRepository CreateUserProfile succeeded", "userID", profile.UserID)
	return nil
}

// UpdateUserField updates a single profile column.
func (r *SQLRepository) UpdateUserField(ctx context.Context, userID, field string, value any) error {
	if !userColumns[field] {
		return fmt.Errorf("unknown user field %q", field)
	}
	query := r.db.Rebind(fmt.Sprintf(`UPDATE users SET %s = ? WHERE userid = ?`, field))
	_, err := r.db.ExecContext(ctx, query, value, userID)
	if err != nil {
		slog.Error("SQLRepository UpdateUserField failed", "error", err, "userID", userID, "field", field)
		return fmt.Errorf("update user field %s: %w", field, err)
	}
	slog.Debug("SQLRepository UpdateUserField succeeded", "userID", userID, "field", field)
	return nil
}

// LatestSurveyToday returns the user's most recent survey created today, or nil.
func (r *SQLRepository) LatestSurveyToday(ctx context.Context, userID string) (*models.SurveyRecord, error) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var survey models.SurveyRecord
	query := r.db.Rebind(`SELECT survey_id, userid, headache_today, medicament_today, pain_intensity, pain_area, area_detail, pain_type, created_at
		FROM surveys WHERE userid = ? AND created_at >= ? ORDER BY created_at DESC LIMIT 1`)
	err := r.db.GetContext(ctx, &survey, query, userID, todayStart)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLRepository LatestSurveyToday failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("latest survey for %s: %w", userID, err)
	}
	return &survey, nil
}

// CreateSurvey inserts a new survey record.
func (r *SQLRepository) CreateSurvey(ctx context.Context, survey models.SurveyRecord) error {
	createdAt := survey.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO surveys (userid, headache_today, medicament_today, pain_intensity, pain_area, area_detail, pain_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, survey.UserID, survey.HeadacheToday, survey.MedicamentToday,
		survey.PainIntensity, survey.PainArea, survey.AreaDetail, survey.PainType, createdAt)
	if err != nil {
		slog.Error("SQLRepository CreateSurvey failed", "error", err, "userID", survey.UserID)
		return fmt.Errorf("create survey for %s: %w", survey.UserID, err)
	}
	slog.Debug("SQLRepository CreateSurvey succeeded", "userID", survey.UserID)
	return nil
}

// UpdateSurveyField updates a single column of an existing survey record.
// created_at is deliberately not writable: the freshness window hangs off it.
func (r *SQLRepository) UpdateSurveyField(ctx context.Context, surveyID int64, userID, field string, value any) error {
	if !surveyColumns[field] {
		return fmt.Errorf("unknown survey field %q", field)
	}
	query := r.db.Rebind(fmt.Sprintf(`UPDATE surveys SET %s = ? WHERE survey_id = ? AND userid = ?`, field))
	_, err := r.db.ExecContext(ctx, query, value, surveyID, userID)
	if err != nil {
		slog.Error("SQLRepository UpdateSurveyField failed", "error", err, "surveyID", surveyID, "field", field)
		return fmt.Errorf("update survey field %s: %w", field, err)
	}
	slog.Debug("SQLRepository UpdateSurveyField succeeded", "surveyID", surveyID, "field", field)
	return nil
}

// SaveMessage persists one chat message and returns it with id and timestamp
// set. Postgres has no LastInsertId, so the id comes back via RETURNING there.
func (r *SQLRepository) SaveMessage(ctx context.Context, msg models.MessageRecord) (models.MessageRecord, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if r.db.DriverName() == "postgres" {
		query := r.db.Rebind(`INSERT INTO messages (user_id, content, is_from_user, created_at) VALUES (?, ?, ?, ?) RETURNING id`)
		if err := r.db.QueryRowContext(ctx, query, msg.UserID, msg.Content, msg.IsFromUser, msg.CreatedAt).Scan(&msg.ID); err != nil {
			slog.Error("SQLRepository SaveMessage failed", "error", err, "userID", msg.UserID)
			return msg, fmt.Errorf("save message for %s: %w", msg.UserID, err)
		}
		slog.Debug("SQLRepository SaveMessage succeeded", "userID", msg.UserID, "id", msg.ID)
		return msg, nil
	}
	query := r.db.Rebind(`INSERT INTO messages (user_id, content, is_from_user, created_at) VALUES (?, ?, ?, ?)`)
	res, err := r.db.ExecContext(ctx, query, msg.UserID, msg.Content, msg.IsFromUser, msg.CreatedAt)
	if err != nil {
		slog.Error("SQLRepository SaveMessage failed", "error", err, "userID", msg.UserID)
		return msg, fmt.Errorf("save message for %s: %w", msg.UserID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		msg.ID = id
	}
	slog.Debug("SQLRepository SaveMessage succeeded", "userID", msg.UserID, "id", msg.ID)
	return msg, nil
}

// ListMessages returns the user's chat history in chronological order, capped
// at limit rows when limit is positive.
func (r *SQLRepository) ListMessages(ctx context.Context, userID string, limit int) ([]models.MessageRecord, error) {
	query := `SELECT id, user_id, content, is_from_user, created_at FROM messages WHERE user_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	var messages []models.MessageRecord
	if err := r.db.SelectContext(ctx, &messages, r.db.Rebind(query), args...); err != nil {
		slog.Error("SQLRepository ListMessages failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("list messages for %s: %w", userID, err)
	}
	return messages, nil
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	slog.Debug("Closing records database connection")
	return r.db.Close()
}
