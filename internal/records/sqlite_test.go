package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/daribar/surveybot/internal/models"
)

func newSQLiteRepo(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(WithDSN(filepath.Join(t.TempDir(), "surveybot_test.db")))
	if err != nil {
		t.Fatalf("failed to open sqlite repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteUserProfileLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	profile, err := repo.GetUserProfile(ctx, "U1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if profile != nil {
		t.Fatal("unknown user should report absence, not a row")
	}

	if err := repo.CreateUserProfile(ctx, models.UserProfile{UserID: "U1", Language: "ru", Username: "Иван"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.UpdateUserField(ctx, "U1", "medications", "ибупрофен"); err != nil {
		t.Fatalf("field update failed: %v", err)
	}

	profile, err = repo.GetUserProfile(ctx, "U1")
	if err != nil || profile == nil {
		t.Fatalf("reload failed: %v", err)
	}
	if profile.Username != "Иван" || profile.Medications != "ибупрофен" {
		t.Errorf("unexpected profile: %+v", profile)
	}
}

func TestSQLiteUpdateUserFieldRejectsUnknownColumn(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	if err := repo.UpdateUserField(ctx, "U1", "created_at; DROP TABLE users", "x"); err == nil {
		t.Fatal("unknown column accepted")
	}
}

func TestSQLiteLatestSurveyToday(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	yesterday := time.Now().UTC().Add(-26 * time.Hour)
	if err := repo.CreateSurvey(ctx, models.SurveyRecord{UserID: "U1", HeadacheToday: "Да", CreatedAt: yesterday}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	survey, err := repo.LatestSurveyToday(ctx, "U1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if survey != nil {
		t.Fatalf("yesterday's survey counted as today's: %+v", survey)
	}

	if err := repo.CreateSurvey(ctx, models.SurveyRecord{UserID: "U1", HeadacheToday: "Нет", PainIntensity: 3}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	survey, err = repo.LatestSurveyToday(ctx, "U1")
	if err != nil || survey == nil {
		t.Fatalf("today's survey not found: %v", err)
	}
	if survey.HeadacheToday != "Нет" || survey.PainIntensity != 3 {
		t.Errorf("unexpected survey: %+v", survey)
	}

	if err := repo.UpdateSurveyField(ctx, survey.SurveyID, "U1", "pain_area", "висок"); err != nil {
		t.Fatalf("survey field update failed: %v", err)
	}
	survey, err = repo.LatestSurveyToday(ctx, "U1")
	if err != nil || survey == nil {
		t.Fatalf("reload failed: %v", err)
	}
	if survey.PainArea != "висок" {
		t.Errorf("field update not visible: %+v", survey)
	}
}

func TestSQLiteSaveMessage(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	saved, err := repo.SaveMessage(ctx, models.MessageRecord{UserID: "U1", Content: `{"text":"Здравствуйте"}`})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.ID == 0 {
		t.Error("message id not assigned")
	}
	if saved.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
}

func TestSQLiteListMessages(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	for _, content := range []string{`{"text":"первое"}`, `{"text":"второе"}`, `{"text":"третье"}`} {
		if _, err := repo.SaveMessage(ctx, models.MessageRecord{UserID: "U1", Content: content}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}
	if _, err := repo.SaveMessage(ctx, models.MessageRecord{UserID: "U2", Content: `{"text":"чужое"}`}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	messages, err := repo.ListMessages(ctx, "U1", 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[0].Content != `{"text":"первое"}` || messages[2].Content != `{"text":"третье"}` {
		t.Errorf("history not in chronological order: %+v", messages)
	}

	limited, err := repo.ListMessages(ctx, "U1", 2)
	if err != nil {
		t.Fatalf("limited list failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit not applied: got %d messages", len(limited))
	}
}
