package gateways

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vectorhaven/fleetctl/internal/database"
	"github.com/vectorhaven/fleetctl/internal/sshpool"
)

func newTestRegistrar(t *testing.T) (*Registrar, *database.GatewayRepository, *gorm.DB, string) {
	t.Helper()

	db, err := database.Open("sqlite::memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	project := &database.Project{ID: uuid.NewString(), Name: "acme"}
	if err := db.Create(project).Error; err != nil {
		t.Fatalf("failed to create project: %v", err)
	}

	repo := database.NewGatewayRepository(db, nil)
	pool := sshpool.NewPool()
	t.Cleanup(pool.Close)

	return NewRegistrar(db, repo, pool), repo, db, project.ID
}

func createRunningGateway(t *testing.T, db *gorm.DB, repo *database.GatewayRepository, projectID string, publicIP bool, domain string) (*database.GatewayView, string) {
	t.Helper()

	backend := &database.Backend{ID: uuid.NewString(), ProjectID: projectID, Type: database.BackendAWS}
	if err := db.Create(backend).Error; err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}

	gc := &database.GatewayCompute{
		ID:            uuid.NewString(),
		InstanceID:    "i-1",
		IPAddress:     "10.0.0.5",
		SSHPrivateKey: "stub",
		SSHPublicKey:  "stub",
		Active:        true,
	}
	if err := db.Create(gc).Error; err != nil {
		t.Fatalf("failed to create gateway compute: %v", err)
	}

	cfg := database.GatewayConfiguration{Name: "edge", Backend: database.BackendAWS, PublicIP: publicIP}
	cfgRaw, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal configuration: %v", err)
	}

	var wildcard *string
	if domain != "" {
		wildcard = &domain
	}

	gw := &database.Gateway{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Name:             "edge",
		WildcardDomain:   wildcard,
		BackendID:        backend.ID,
		Configuration:    cfgRaw,
		Status:           database.GatewayStatusRunning,
		LastProcessedAt:  time.Now(),
		GatewayComputeID: &gc.ID,
	}
	if err := repo.Create(context.Background(), gw); err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}

	if err := db.Model(&database.Project{}).Where("id = ?", projectID).
		Update("default_gateway_id", gw.ID).Error; err != nil {
		t.Fatalf("failed to set default gateway: %v", err)
	}

	view, err := repo.GetByID(context.Background(), gw.ID)
	if err != nil || view == nil {
		t.Fatalf("failed to reload gateway view: %v", err)
	}
	return view, gc.ID
}

func createRun(t *testing.T, db *gorm.DB, projectID, runSpecJSON string) string {
	t.Helper()
	run := &database.Run{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		RunName:   "my-run",
		RunSpec:   runSpecJSON,
	}
	if err := db.Create(run).Error; err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run.ID
}

func TestRegisterServiceFailsWithoutDefaultGateway(t *testing.T) {
	reg, _, db, projectID := newTestRegistrar(t)
	runID := createRun(t, db, projectID, `{"configuration":{"https":false}}`)

	_, err := reg.RegisterService(context.Background(), runID)
	if err == nil {
		t.Fatalf("expected an error when the project has no default gateway")
	}
	if _, ok := err.(*ResourceNotExistsError); !ok {
		t.Fatalf("expected *ResourceNotExistsError, got %T: %v", err, err)
	}
}

func TestRegisterServiceRejectsHTTPSOnPrivateGateway(t *testing.T) {
	reg, repo, db, projectID := newTestRegistrar(t)
	createRunningGateway(t, db, repo, projectID, false, "*.example.com")
	runID := createRun(t, db, projectID, `{"configuration":{"https":true}}`)

	_, err := reg.RegisterService(context.Background(), runID)
	if err == nil {
		t.Fatalf("expected an error registering an HTTPS service on a private gateway")
	}
	sce, ok := err.(*ServerClientError)
	if !ok {
		t.Fatalf("expected *ServerClientError, got %T: %v", err, err)
	}
	if sce.Error() != "Cannot run HTTPS service on gateway without public IP" {
		t.Fatalf("unexpected message: %s", sce.Error())
	}
}

func TestRegisterServiceFailsWhenGatewayNotConnected(t *testing.T) {
	reg, repo, db, projectID := newTestRegistrar(t)
	createRunningGateway(t, db, repo, projectID, true, "*.example.com")
	runID := createRun(t, db, projectID, `{"configuration":{"https":false}}`)

	spec, err := reg.RegisterService(context.Background(), runID)
	if err == nil {
		t.Fatalf("expected an error when the gateway has no pooled connection")
	}
	if spec != nil {
		t.Fatalf("expected no service spec on failure")
	}
	sce, ok := err.(*ServerClientError)
	if !ok {
		t.Fatalf("expected *ServerClientError, got %T: %v", err, err)
	}
	if sce.Error() != "Gateway is not connected" {
		t.Fatalf("unexpected message: %s", sce.Error())
	}

	var run database.Run
	if err := db.First(&run, "id = ?", runID).Error; err != nil {
		t.Fatalf("failed to reload run: %v", err)
	}
	if run.ServiceSpec != nil {
		t.Fatalf("expected run.service_spec to remain unset after a failed registration")
	}
}

func TestUnregisterServiceDowngradesNotConnectedToSuccess(t *testing.T) {
	reg, repo, db, projectID := newTestRegistrar(t)
	createRunningGateway(t, db, repo, projectID, true, "*.example.com")
	runID := createRun(t, db, projectID, `{"configuration":{"https":false}}`)

	if err := reg.UnregisterService(context.Background(), runID); err != nil {
		t.Fatalf("expected UnregisterService to downgrade an unreachable gateway to success, got %v", err)
	}
}

func TestRegisterServiceRequiresWildcardDomain(t *testing.T) {
	reg, repo, db, projectID := newTestRegistrar(t)
	createRunningGateway(t, db, repo, projectID, true, "")
	runID := createRun(t, db, projectID, `{"configuration":{"https":false}}`)

	_, err := reg.RegisterService(context.Background(), runID)
	if err == nil {
		t.Fatalf("expected an error when the gateway has no wildcard domain")
	}
	if _, ok := err.(*ServerClientError); !ok {
		t.Fatalf("expected *ServerClientError, got %T: %v", err, err)
	}
}
