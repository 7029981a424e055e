package members

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/achievements-bot/internal/telegram"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Member{}); err != nil {
		t.Fatalf("failed to migrate member schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Unix(1, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, db
}

func TestResolveUsernameIgnoresCaseAndMention(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if err := service.Observe(ctx, telegram.User{ID: 42, Username: "Alice", FirstName: "Alice", LastName: "Liddell"}); err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	userID, err := service.ResolveUsername(ctx, "@alice")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if userID != 42 {
		t.Fatalf("expected user 42, got %d", userID)
	}
}

func TestResolveUsernameFallsBackToDatabase(t *testing.T) {
	service, db := newTestService(t)
	ctx := context.Background()

	if err := service.Observe(ctx, telegram.User{ID: 42, Username: "bob"}); err != nil {
		t.Fatalf("observe failed: %v", err)
	}

	// a fresh registry over the same table has an empty cache
	fresh, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	userID, err := fresh.ResolveUsername(ctx, "BOB")
	if err != nil || userID != 42 {
		t.Fatalf("expected user 42, got %d err=%v", userID, err)
	}

	if err := service.Observe(ctx, telegram.User{ID: 42, Username: "robert"}); err != nil {
		t.Fatalf("observe rename failed: %v", err)
	}
	var count int64
	if err := db.Model(&Member{}).Count(&count).Error; err != nil || count != 1 {
		t.Fatalf("expected a single member row, got %d err=%v", count, err)
	}
}

func TestResolveUnknownUsername(t *testing.T) {
	service, _ := newTestService(t)
	if _, err := service.ResolveUsername(context.Background(), "@nobody"); !errors.Is(err, ErrUnknownUsername) {
		t.Fatalf("expected ErrUnknownUsername, got %v", err)
	}
	if err := service.Observe(context.Background(), telegram.User{}); !errors.Is(err, ErrInvalidMember) {
		t.Fatalf("expected ErrInvalidMember, got %v", err)
	}
}
