package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func seedProjectAndBackend(t *testing.T, db *gorm.DB, backendType BackendType) (projectID, backendID string) {
	t.Helper()
	project := &Project{ID: uuid.NewString(), Name: "acme"}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	backend := &Backend{ID: uuid.NewString(), ProjectID: project.ID, Type: backendType}
	if err := db.Create(backend).Error; err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return project.ID, backend.ID
}

func TestGatewayRepositoryCreateAndGetByName(t *testing.T) {
	db := newTestDB(t)
	projectID, backendID := seedProjectAndBackend(t, db, BackendAWS)
	repo := NewGatewayRepository(db, nil)

	gw := &Gateway{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		Name:            "prod",
		Region:          "us-east-1",
		BackendID:       backendID,
		Status:          GatewayStatusSubmitted,
		LastProcessedAt: time.Now(),
	}
	if err := repo.Create(context.Background(), gw); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	view, err := repo.GetByName(context.Background(), projectID, "prod")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if view == nil {
		t.Fatalf("expected to find the created gateway")
	}
	if view.Backend != BackendAWS {
		t.Fatalf("expected backend aws, got %s", view.Backend)
	}
	if view.Default {
		t.Fatalf("expected a freshly created gateway not to be the project default")
	}
}

func TestGatewayRepositoryGetByNameMissingReturnsNil(t *testing.T) {
	db := newTestDB(t)
	projectID, _ := seedProjectAndBackend(t, db, BackendAWS)
	repo := NewGatewayRepository(db, nil)

	view, err := repo.GetByName(context.Background(), projectID, "does-not-exist")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if view != nil {
		t.Fatalf("expected nil for a missing gateway")
	}
}

func TestGatewayRepositorySetDefaultMarksOnlyOneGateway(t *testing.T) {
	db := newTestDB(t)
	projectID, backendID := seedProjectAndBackend(t, db, BackendAWS)
	repo := NewGatewayRepository(db, nil)

	for _, name := range []string{"a", "b"} {
		gw := &Gateway{
			ID:              uuid.NewString(),
			ProjectID:       projectID,
			Name:            name,
			BackendID:       backendID,
			Status:          GatewayStatusRunning,
			LastProcessedAt: time.Now(),
		}
		if err := repo.Create(context.Background(), gw); err != nil {
			t.Fatalf("Create %s failed: %v", name, err)
		}
	}

	if err := repo.SetDefault(context.Background(), projectID, "a"); err != nil {
		t.Fatalf("SetDefault failed: %v", err)
	}

	viewA, err := repo.GetByName(context.Background(), projectID, "a")
	if err != nil {
		t.Fatalf("GetByName a failed: %v", err)
	}
	viewB, err := repo.GetByName(context.Background(), projectID, "b")
	if err != nil {
		t.Fatalf("GetByName b failed: %v", err)
	}
	if !viewA.Default {
		t.Fatalf("expected gateway a to be marked default")
	}
	if viewB.Default {
		t.Fatalf("expected gateway b not to be marked default")
	}
}

func TestGatewayRepositoryDstackBackendDisplaysAsAWS(t *testing.T) {
	db := newTestDB(t)
	projectID, backendID := seedProjectAndBackend(t, db, BackendDstack)
	repo := NewGatewayRepository(db, nil)

	gw := &Gateway{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		Name:            "sky",
		BackendID:       backendID,
		Status:          GatewayStatusRunning,
		LastProcessedAt: time.Now(),
	}
	if err := repo.Create(context.Background(), gw); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	view, err := repo.GetByName(context.Background(), projectID, "sky")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if view.Backend != BackendAWS {
		t.Fatalf("expected the dstack-managed gateway to display as aws, got %s", view.Backend)
	}
}

func TestGatewayRepositoryUpdateWildcardDomainMissingGatewayErrors(t *testing.T) {
	db := newTestDB(t)
	projectID, _ := seedProjectAndBackend(t, db, BackendAWS)
	repo := NewGatewayRepository(db, nil)

	domain := "example.com"
	err := repo.UpdateWildcardDomain(context.Background(), projectID, "missing", &domain)
	if err == nil {
		t.Fatalf("expected an error updating a nonexistent gateway")
	}
}

func TestGatewayRepositoryDeleteRemovesGateway(t *testing.T) {
	db := newTestDB(t)
	projectID, backendID := seedProjectAndBackend(t, db, BackendAWS)
	repo := NewGatewayRepository(db, nil)

	gw := &Gateway{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		Name:            "ephemeral",
		BackendID:       backendID,
		Status:          GatewayStatusRunning,
		LastProcessedAt: time.Now(),
	}
	if err := repo.Create(context.Background(), gw); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Delete(context.Background(), gw); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	view, err := repo.GetByName(context.Background(), projectID, "ephemeral")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if view != nil {
		t.Fatalf("expected the deleted gateway to no longer be found")
	}
}
