package records

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/daribar/surveybot/internal/models"
)

// Mapper maps a completion payload extracted from a terminal assistant reply
// into persisted domain records.
//
// Policy: update the existing record only while it is inside the freshness
// window, and only with fields that are present and non-empty; otherwise create
// a new record seeded with the identity and the present fields. A field that
// fails coercion is dropped with a log line; the rest of the update proceeds.
type Mapper struct {
	repo Repository
	now  func() time.Time
}

// NewMapper creates a data mapper over the given repository.
func NewMapper(repo Repository) *Mapper {
	return &Mapper{repo: repo, now: time.Now}
}

// Ordered field lists keep update passes deterministic.
var (
	userFields   = []string{"username", "birthdate", "medications", "comorbidity", "reminder_time", "language"}
	surveyFields = []string{"headache_today", "medicament_today", "pain_intensity", "pain_area", "area_detail", "pain_type"}
)

// Apply persists the structured fields for the given role and identity.
func (m *Mapper) Apply(ctx context.Context, role models.AssistantRole, identity string, fields map[string]any) error {
	slog.Debug("Mapper Apply", "role", role, "identity", identity, "fields", len(fields))
	if role == models.RoleRegistration {
		return m.applyProfile(ctx, identity, fields)
	}
	return m.applySurvey(ctx, identity, fields)
}

func (m *Mapper) applyProfile(ctx context.Context, identity string, fields map[string]any) error {
	profile, err := m.repo.GetUserProfile(ctx, identity)
	if err != nil {
		return fmt.Errorf("mapper profile lookup: %w", err)
	}

	if profile == nil {
		newProfile := models.UserProfile{UserID: identity}
		for _, field := range userFields {
			value, ok := presentValue(fields, field)
			if !ok {
				continue
			}
			coerced, err := coerceUserField(field, value)
			if err != nil {
				slog.Error("Mapper applyProfile field coercion failed, dropping field", "error", err, "identity", identity, "field", field)
				continue
			}
			setProfileField(&newProfile, field, coerced)
		}
		if err := m.repo.CreateUserProfile(ctx, newProfile); err != nil {
			return fmt.Errorf("mapper profile create: %w", err)
		}
		slog.Info("Mapper created user profile", "identity", identity)
		return nil
	}

	for _, field := range userFields {
		value, ok := presentValue(fields, field)
		if !ok {
			continue
		}
		coerced, err := coerceUserField(field, value)
		if err != nil {
			slog.Error("Mapper applyProfile field coercion failed, dropping field", "error", err, "identity", identity, "field", field)
			continue
		}
		if err := m.repo.UpdateUserField(ctx, identity, field, coerced); err != nil {
			slog.Error("Mapper applyProfile field update failed", "error", err, "identity", identity, "field", field)
		}
	}
	slog.Info("Mapper updated user profile", "identity", identity)
	return nil
}

func (m *Mapper) applySurvey(ctx context.Context, identity string, fields map[string]any) error {
	survey, err := m.repo.LatestSurveyToday(ctx, identity)
	if err != nil {
		return fmt.Errorf("mapper survey lookup: %w", err)
	}

	fresh := survey != nil && m.now().UTC().Sub(survey.CreatedAt) < models.SurveyFreshnessWindow
	if fresh {
		slog.Debug("Mapper applySurvey updating record inside freshness window", "identity", identity, "surveyID", survey.SurveyID, "created_at", survey.CreatedAt)
		for _, field := range surveyFields {
			value, ok := presentValue(fields, field)
			if !ok {
				continue
			}
			coerced, err := coerceSurveyField(field, value)
			if err != nil {
				slog.Error("Mapper applySurvey field coercion failed, dropping field", "error", err, "identity", identity, "field", field)
				continue
			}
			if err := m.repo.UpdateSurveyField(ctx, survey.SurveyID, identity, field, coerced); err != nil {
				slog.Error("Mapper applySurvey field update failed", "error", err, "identity", identity, "field", field)
			}
		}
		return nil
	}

	slog.Debug("Mapper applySurvey creating new record", "identity", identity, "had_stale_record", survey != nil)
	newSurvey := models.SurveyRecord{UserID: identity}
	for _, field := range surveyFields {
		value, ok := presentValue(fields, field)
		if !ok {
			continue
		}
		coerced, err := coerceSurveyField(field, value)
		if err != nil {
			slog.Error("Mapper applySurvey field coercion failed, dropping field", "error", err, "identity", identity, "field", field)
			continue
		}
		setSurveyField(&newSurvey, field, coerced)
	}
	if err := m.repo.CreateSurvey(ctx, newSurvey); err != nil {
		return fmt.Errorf("mapper survey create: %w", err)
	}
	slog.Info("Mapper created survey record", "identity", identity)
	return nil
}

// presentValue reports a field that is present and non-empty. Absent fields
// never null-out an existing value.
func presentValue(fields map[string]any, field string) (any, bool) {
	value, ok := fields[field]
	if !ok || value == nil {
		return nil, false
	}
	if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false
	}
	return value, true
}

func coerceUserField(field string, value any) (any, error) {
	switch field {
	case "birthdate":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("birthdate is not a string: %T", value)
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse("02.01.2006", s); err == nil {
			return t, nil
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, fmt.Errorf("unparseable birthdate %q", s)
		}
		return t, nil
	case "reminder_time":
		s := fmt.Sprintf("%v", value)
		if _, err := time.Parse("15:04", s); err != nil {
			return nil, fmt.Errorf("unparseable reminder time %q", s)
		}
		return s, nil
	default:
		return fmt.Sprintf("%v", value), nil
	}
}

func coerceSurveyField(field string, value any) (any, error) {
	if field == "pain_intensity" {
		switch v := value.(type) {
		case int:
			return v, nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("unparseable pain intensity %q", v)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("pain intensity has unexpected type %T", value)
		}
	}
	return fmt.Sprintf("%v", value), nil
}

func setProfileField(profile *models.UserProfile, field string, value any) {
	switch field {
	case "username":
		profile.Username = value.(string)
	case "birthdate":
		t := value.(time.Time)
		profile.Birthdate = &t
	case "medications":
		profile.Medications = value.(string)
	case "comorbidity":
		profile.Comorbidity = value.(string)
	case "reminder_time":
		profile.ReminderTime = value.(string)
	case "language":
		profile.Language = value.(string)
	}
}

func setSurveyField(survey *models.SurveyRecord, field string, value any) {
	switch field {
	case "headache_today":
		survey.HeadacheToday = value.(string)
	case "medicament_today":
		survey.MedicamentToday = value.(string)
	case "pain_intensity":
		survey.PainIntensity = value.(int)
	case "pain_area":
		survey.PainArea = value.(string)
	case "area_detail":
		survey.AreaDetail = value.(string)
	case "pain_type":
		survey.PainType = value.(string)
	}
}
