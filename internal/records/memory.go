package records

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daribar/surveybot/internal/models"
)

// InMemoryRepository is a simple in-memory Repository used in tests and as a
// stand-in when no database is configured.
type InMemoryRepository struct {
	mu       sync.Mutex
	users    map[string]*models.UserProfile
	surveys  []*models.SurveyRecord
	messages []models.MessageRecord
	nextID   int64
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{users: make(map[string]*models.UserProfile), nextID: 1}
}

func (r *InMemoryRepository) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	copied := *profile
	return &copied, nil
}

func (r *InMemoryRepository) CreateUserProfile(ctx context.Context, profile models.UserProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = time.Now().UTC()
	}
	r.users[profile.UserID] = &profile
	return nil
}

func (r *InMemoryRepository) UpdateUserField(ctx context.Context, userID, field string, value any) error {
	if !userColumns[field] {
		return fmt.Errorf("unknown user field %q", field)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("user %s not found", userID)
	}
	switch field {
	case "language":
		profile.Language = fmt.Sprintf("%v", value)
	case "username":
		profile.Username = fmt.Sprintf("%v", value)
	case "birthdate":
		if t, ok := value.(time.Time); ok {
			profile.Birthdate = &t
		}
	case "medications":
		profile.Medications = fmt.Sprintf("%v", value)
	case "comorbidity":
		profile.Comorbidity = fmt.Sprintf("%v", value)
	case "reminder_time":
		profile.ReminderTime = fmt.Sprintf("%v", value)
	}
	return nil
}

func (r *InMemoryRepository) LatestSurveyToday(ctx context.Context, userID string) (*models.SurveyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var latest *models.SurveyRecord
	for _, s := range r.surveys {
		if s.UserID != userID || s.CreatedAt.Before(todayStart) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (r *InMemoryRepository) CreateSurvey(ctx context.Context, survey models.SurveyRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if survey.CreatedAt.IsZero() {
		survey.CreatedAt = time.Now().UTC()
	}
	survey.SurveyID = r.nextID
	r.nextID++
	r.surveys = append(r.surveys, &survey)
	return nil
}

func (r *InMemoryRepository) UpdateSurveyField(ctx context.Context, surveyID int64, userID, field string, value any) error {
	if !surveyColumns[field] {
		return fmt.Errorf("unknown survey field %q", field)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.surveys {
		if s.SurveyID != surveyID || s.UserID != userID {
			continue
		}
		switch field {
		case "headache_today":
			s.HeadacheToday = fmt.Sprintf("%v", value)
		case "medicament_today":
			s.MedicamentToday = fmt.Sprintf("%v", value)
		case "pain_intensity":
			if n, ok := value.(int); ok {
				s.PainIntensity = n
			}
		case "pain_area":
			s.PainArea = fmt.Sprintf("%v", value)
		case "area_detail":
			s.AreaDetail = fmt.Sprintf("%v", value)
		case "pain_type":
			s.PainType = fmt.Sprintf("%v", value)
		}
		return nil
	}
	return fmt.Errorf("survey %d not found for user %s", surveyID, userID)
}

func (r *InMemoryRepository) SaveMessage(ctx context.Context, msg models.MessageRecord) (models.MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ID = r.nextID
	r.nextID++
	r.messages = append(r.messages, msg)
	return msg, nil
}

func (r *InMemoryRepository) ListMessages(ctx context.Context, userID string, limit int) ([]models.MessageRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.MessageRecord
	for _, m := range r.messages {
		if m.UserID != userID {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Surveys returns all stored surveys for assertions in tests.
func (r *InMemoryRepository) Surveys() []models.SurveyRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SurveyRecord, 0, len(r.surveys))
	for _, s := range r.surveys {
		out = append(out, *s)
	}
	return out
}

// Messages returns all stored messages for assertions in tests.
func (r *InMemoryRepository) Messages() []models.MessageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.MessageRecord(nil), r.messages...)
}
