package records

import (
	"context"
	"syscall"
	"testing"

	"github.com/daribar/surveybot/internal/models"
)

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("environment variable %s not set, skipping integration test", key)
	}
	return v
}

func TestPostgresSaveMessageReturnsID(t *testing.T) {
	ctx := context.Background()
	dsn := getenvOrSkip(t, "DATABASE_URL")
	repo, err := NewPostgresRepository(WithDSN(dsn))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer repo.Close()

	saved, err := repo.SaveMessage(ctx, models.MessageRecord{UserID: "pg-test-user", Content: `{"text":"Здравствуйте"}`})
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if saved.ID == 0 {
		t.Error("message id not assigned on Postgres")
	}

	messages, err := repo.ListMessages(ctx, "pg-test-user", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(messages) == 0 {
		t.Error("saved message not listed")
	}
}
