package repository

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/clinic-survey-relay/internal/database"
	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.Open(database.Options{DSN: dsn, LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func pendingSession(id, token string, expiresAt time.Time) *domain.Session {
	return &domain.Session{
		ID:         id,
		Token:      token,
		TemplateID: "T1",
		Status:     domain.SessionStatusPending,
		ExpiresAt:  expiresAt,
	}
}

func strPtr(v string) *string { return &v }
