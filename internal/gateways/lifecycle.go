package gateways

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/vectorhaven/fleetctl/internal/config"
	"github.com/vectorhaven/fleetctl/internal/database"
	"github.com/vectorhaven/fleetctl/internal/gatewayproto"
	"github.com/vectorhaven/fleetctl/internal/lockregistry"
	"github.com/vectorhaven/fleetctl/internal/logger"
	"github.com/vectorhaven/fleetctl/internal/sshpool"
)

const gatewaySSHUser = "dstack"

// maxParallelTerminations bounds how many gateway teardowns run at once,
// the same pattern as the reconciler's errgroup.SetLimit.
const maxParallelTerminations = 8

// Manager is the Gateway Lifecycle Manager from spec.md §4.F, grounded on
// the create/connect/configure/delete flow in
// original_source/.../gateways/__init__.py, reshaped into the teacher's
// manager-with-injected-dependencies style (orchestrator/vps_manager.go).
type Manager struct {
	db       *gorm.DB
	repo     *database.GatewayRepository
	pool     *sshpool.Pool
	locks    *lockregistry.Registry
	cfg      *config.Config
	backends map[database.BackendType]ComputeBackend
}

func NewManager(db *gorm.DB, repo *database.GatewayRepository, pool *sshpool.Pool, locks *lockregistry.Registry, cfg *config.Config, backends map[database.BackendType]ComputeBackend) *Manager {
	return &Manager{db: db, repo: repo, pool: pool, locks: locks, cfg: cfg, backends: backends}
}

// CreateGatewayCompute provisions the VM a gateway will run on: a fresh
// RSA key pair, a backend instance, and the persisted GatewayCompute row.
// Mirrors create_gateway_compute.
func (m *Manager) CreateGatewayCompute(ctx context.Context, backendType database.BackendType, region string) (*database.GatewayCompute, error) {
	backend, ok := m.backends[backendType]
	if !ok {
		return nil, NewServerClientError("backend %s has no compute implementation configured", backendType)
	}

	keys, err := generateGatewayKeyPair()
	if err != nil {
		return nil, err
	}

	instance, err := backend.CreateInstance(ctx, region, keys.PublicKeyAuth)
	if err != nil {
		return nil, NewGatewayError("failed to provision gateway instance", err)
	}

	gc := &database.GatewayCompute{
		ID:            uuid.NewString(),
		InstanceID:    instance.InstanceID,
		IPAddress:     instance.IPAddress,
		Region:        instance.Region,
		SSHPrivateKey: keys.PrivateKeyPEM,
		SSHPublicKey:  keys.PublicKeyAuth,
		Active:        true,
		Deleted:       false,
	}
	if err := m.db.WithContext(ctx).Create(gc).Error; err != nil {
		if termErr := backend.TerminateInstance(ctx, instance.InstanceID); termErr != nil {
			logger.Warn("[gateways] failed to roll back instance %s after db error: %v", instance.InstanceID, termErr)
		}
		return nil, fmt.Errorf("failed to persist gateway compute: %w", err)
	}

	logger.Info("[gateways] provisioned gateway compute %s (%s) on %s", gc.ID, gc.IPAddress, backendType)
	return gc, nil
}

// CreateGatewayInput captures the parameters of create_gateway.
type CreateGatewayInput struct {
	ProjectID      string
	Name           *string
	Region         string
	BackendID      string
	BackendType    database.BackendType
	WildcardDomain *string
	PublicIP       bool

	// Default forces this gateway to become the project's default even
	// when one already exists. The first gateway in a project always
	// becomes default regardless of this flag (spec.md §4.F step 5).
	Default bool
}

// CreateGateway provisions a gateway end to end: name generation, compute
// provisioning, SSH connect with retry, and initial configuration push.
// Status transitions submitted -> provisioning -> running|failed,
// monotonic once failed (spec.md §9).
func (m *Manager) CreateGateway(ctx context.Context, in CreateGatewayInput) (*database.GatewayView, error) {
	if !in.PublicIP && !database.SupportsPrivateGateway(in.BackendType) {
		supported := make([]string, len(database.BackendsWithPrivateGatewaySupport))
		for i, b := range database.BackendsWithPrivateGatewaySupport {
			supported[i] = string(b)
		}
		return nil, NewServerClientError(
			"Private gateways are not supported for %s backend. Supported backends: %s.",
			in.BackendType, strings.Join(supported, ", "),
		)
	}

	var backend database.Backend
	if err := m.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", in.BackendID, in.ProjectID).
		First(&backend).Error; err != nil {
		return nil, NewServerClientError("backend %s does not exist for this project", in.BackendID)
	}
	if backend.Type != in.BackendType {
		return nil, NewServerClientError("backend %s is a %s backend, not %s", in.BackendID, backend.Type, in.BackendType)
	}

	var project database.Project
	if err := m.db.WithContext(ctx).First(&project, "id = ?", in.ProjectID).Error; err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", in.ProjectID, err)
	}

	name := in.Name
	if name == nil {
		generated, err := generateGatewayName(ctx, in.ProjectID, func(ctx context.Context, projectID, candidate string) (bool, error) {
			existing, err := m.repo.GetByName(ctx, projectID, candidate)
			return existing != nil, err
		})
		if err != nil {
			return nil, err
		}
		name = &generated
	}

	cfg := database.GatewayConfiguration{
		Name:     *name,
		Backend:  in.BackendType,
		Region:   in.Region,
		Domain:   in.WildcardDomain,
		PublicIP: in.PublicIP,
	}
	cfgRaw, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}

	row := &database.Gateway{
		ID:              uuid.NewString(),
		ProjectID:       in.ProjectID,
		Name:            *name,
		Region:          in.Region,
		WildcardDomain:  in.WildcardDomain,
		BackendID:       in.BackendID,
		Configuration:   cfgRaw,
		Status:          database.GatewayStatusSubmitted,
		LastProcessedAt: time.Now(),
	}
	if err := m.repo.Create(ctx, row); err != nil {
		return nil, err
	}

	if project.DefaultGatewayID == nil || in.Default {
		if err := m.repo.SetDefault(ctx, in.ProjectID, *name); err != nil {
			return nil, fmt.Errorf("failed to set gateway %s as default: %w", *name, err)
		}
	}

	m.provisionAsync(row.ID, in.BackendType, in.Region)

	return m.repo.GetByID(ctx, row.ID)
}

// provisionAsync runs the compute-provision/connect/configure pipeline in
// the background, the same fire-and-poll shape as CreateVPS's deferred
// cleanup: callers observe progress through the gateway's status column.
func (m *Manager) provisionAsync(gatewayID string, backendType database.BackendType, region string) {
	go func() {
		ctx := context.Background()
		release, err := m.locks.Acquire(ctx, gatewayID)
		if err != nil {
			logger.Error("[gateways] could not acquire lock for %s: %v", gatewayID, err)
			return
		}
		defer release()

		if err := m.setStatus(ctx, gatewayID, database.GatewayStatusProvisioning, nil); err != nil {
			logger.Error("[gateways] failed to mark %s provisioning: %v", gatewayID, err)
			return
		}

		gc, err := m.CreateGatewayCompute(ctx, backendType, region)
		if err != nil {
			m.fail(ctx, gatewayID, err)
			return
		}
		if err := m.db.WithContext(ctx).Model(&database.Gateway{}).
			Where("id = ?", gatewayID).
			Update("gateway_compute_id", gc.ID).Error; err != nil {
			m.fail(ctx, gatewayID, err)
			return
		}

		conn, err := m.ConnectToGatewayWithRetry(ctx, gc.IPAddress, gc.SSHPrivateKey)
		if err != nil {
			m.fail(ctx, gatewayID, err)
			return
		}

		view, err := m.repo.GetByID(ctx, gatewayID)
		if err != nil {
			m.fail(ctx, gatewayID, err)
			return
		}
		if err := m.ConfigureGateway(ctx, conn, *view); err != nil {
			m.fail(ctx, gatewayID, err)
			return
		}

		if err := m.setStatus(ctx, gatewayID, database.GatewayStatusRunning, nil); err != nil {
			logger.Error("[gateways] failed to mark %s running: %v", gatewayID, err)
		}
	}()
}

func (m *Manager) fail(ctx context.Context, gatewayID string, cause error) {
	msg := cause.Error()
	logger.Error("[gateways] gateway %s failed: %v", gatewayID, cause)
	if err := m.setStatus(ctx, gatewayID, database.GatewayStatusFailed, &msg); err != nil {
		logger.Error("[gateways] failed to record failure status for %s: %v", gatewayID, err)
	}
}

// setStatus is the only writer of Gateway.Status; once a gateway is
// FAILED it refuses further transitions, enforcing the monotonic state
// machine invariant from spec.md §9.
func (m *Manager) setStatus(ctx context.Context, gatewayID string, status database.GatewayStatus, message *string) error {
	var current database.Gateway
	if err := m.db.WithContext(ctx).First(&current, "id = ?", gatewayID).Error; err != nil {
		return err
	}
	if current.Status == database.GatewayStatusFailed {
		return nil
	}
	return m.db.WithContext(ctx).Model(&database.Gateway{}).
		Where("id = ?", gatewayID).
		Updates(map[string]any{
			"status":            status,
			"status_message":    message,
			"last_processed_at": time.Now(),
		}).Error
}

// ConnectToGatewayWithRetry dials the gateway's SSH connection, retrying
// GatewayConnectAttempts times with GatewayConnectDelay between attempts
// (spec.md §6 constants), mirroring connect_to_gateway_with_retry.
func (m *Manager) ConnectToGatewayWithRetry(ctx context.Context, host, privateKeyPEM string) (*sshpool.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.GatewayConnectAttempts; attempt++ {
		conn, err := m.pool.Get(host, gatewaySSHUser, privateKeyPEM)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Debug("[gateways] connect attempt %d/%d to %s failed: %v", attempt, m.cfg.GatewayConnectAttempts, host, err)
		if attempt == m.cfg.GatewayConnectAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.cfg.GatewayConnectDelay):
		}
	}
	return nil, &SSHError{Host: host, Cause: lastErr}
}

// gatewayConn is the subset of *sshpool.Connection that ConfigureGateway
// needs, accepted as an interface so tests can drive the retry loop
// against a fake control-API server instead of a real SSH tunnel.
type gatewayConn interface {
	HTTPClient() *http.Client
	Host() string
}

// gatewayControlAPIURL builds the gateway daemon's control API base URL
// from a connection's host. Overridden in tests to point at a fake server
// without needing a real SSH tunnel on the fixed control-API port.
var gatewayControlAPIURL = func(host string) string {
	return fmt.Sprintf("http://%s:8000", host)
}

// ConfigureGateway pushes the gateway's desired configuration over the
// Gateway Client Protocol, retrying GatewayConfigureAttempts times with
// GatewayConfigureDelay between attempts, mirroring configure_gateway.
func (m *Manager) ConfigureGateway(ctx context.Context, conn gatewayConn, view database.GatewayView) error {
	client := gatewayproto.New(conn.HTTPClient(), gatewayControlAPIURL(conn.Host()))

	var lastErr error
	for attempt := 1; attempt <= m.cfg.GatewayConfigureAttempts; attempt++ {
		err := client.SubmitGatewayConfig(ctx, gatewayproto.GatewayConfig{
			WildcardDomain: view.WildcardDomain,
			PublicIP:       view.Configuration.PublicIP,
		})
		if err == nil {
			return nil
		}
		lastErr = err
		logger.Debug("[gateways] configure attempt %d/%d for %s failed: %v", attempt, m.cfg.GatewayConfigureAttempts, view.Name, err)
		if attempt == m.cfg.GatewayConfigureAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.cfg.GatewayConfigureDelay):
		}
	}
	return NewGatewayError(fmt.Sprintf("failed to configure gateway %s", view.Name), lastErr)
}

// DeleteGateways tears down every named gateway in parallel, bounded by
// maxParallelTerminations, skipping the managed-default DSTACK backend
// (its gateways are never user-deletable, spec.md §4.F), mirroring
// delete_gateways / _terminate_gateway. Each deletion is isolated: one
// gateway's termination failure must not cancel or affect the others
// (spec.md §4.F step 2, "per-task error isolation", scenario 5), so this
// uses a plain errgroup with no derived, auto-cancelling context.
func (m *Manager) DeleteGateways(ctx context.Context, projectID string, names []string) error {
	var group errgroup.Group
	group.SetLimit(maxParallelTerminations)

	for _, name := range names {
		name := name
		group.Go(func() error {
			return m.deleteOne(ctx, projectID, name)
		})
	}
	return group.Wait()
}

func (m *Manager) deleteOne(ctx context.Context, projectID, name string) error {
	view, err := m.repo.GetByName(ctx, projectID, name)
	if err != nil {
		return err
	}
	if view == nil {
		return NewResourceNotExistsError("gateway %s does not exist", name)
	}
	// view.Backend is the display type (DSTACK shows as AWS); the stored
	// backend type is carried in the configuration.
	if view.Configuration.Backend == database.BackendDstack {
		return NewServerClientError("the default dstack-managed gateway cannot be deleted")
	}

	release, err := m.locks.Acquire(ctx, view.ID)
	if err != nil {
		return err
	}
	defer release()

	var row database.Gateway
	if err := m.db.WithContext(ctx).First(&row, "id = ?", view.ID).Error; err != nil {
		return err
	}

	if row.GatewayComputeID != nil {
		var gc database.GatewayCompute
		if err := m.db.WithContext(ctx).First(&gc, "id = ?", *row.GatewayComputeID).Error; err == nil {
			if backend, ok := m.backends[view.Backend]; ok {
				if err := backend.TerminateInstance(ctx, gc.InstanceID); err != nil {
					// Termination failed: leave the gateway row intact so the
					// user can retry, per spec.md §4.F step 3 / scenario 5.
					// The id is still released from the lock registry by the
					// deferred release() above.
					logger.Warn("[gateways] failed to terminate instance %s for gateway %s: %v", gc.InstanceID, name, err)
					return NewGatewayError(fmt.Sprintf("failed to terminate gateway %s", name), err)
				}
			}
			m.db.WithContext(ctx).Model(&gc).Updates(map[string]any{"active": false, "deleted": true})
			m.pool.Remove(gc.IPAddress)
		}
	}

	return m.repo.Delete(ctx, &row)
}

// SetGatewayWildcardDomain validates and updates a gateway's domain,
// mirroring set_gateway_wildcard_domain. The DSTACK Sky gateway rejects
// custom domains outright ("Custom domains for dstack Sky gateway are not
// supported"). The leading "*." is stripped literally — a corrected
// version of the original's str.lstrip("*.") call, which strips any
// combination of '*' and '.' characters rather than the intended prefix
// (see DESIGN.md).
func (m *Manager) SetGatewayWildcardDomain(ctx context.Context, projectID, name string, domain *string) error {
	view, err := m.repo.GetByName(ctx, projectID, name)
	if err != nil {
		return err
	}
	if view == nil {
		return NewResourceNotExistsError("gateway %s does not exist", name)
	}
	if view.Configuration.Backend == database.BackendDstack {
		return NewServerClientError("Custom domains for dstack Sky gateway are not supported")
	}

	var stripped *string
	if domain != nil {
		s := strings.TrimPrefix(*domain, "*.")
		stripped = &s
	}
	return m.repo.UpdateWildcardDomain(ctx, projectID, name, stripped)
}

// SetDefaultGateway marks name as the project's default gateway, mirroring
// set_default_gateway.
func (m *Manager) SetDefaultGateway(ctx context.Context, projectID, name string) error {
	view, err := m.repo.GetByName(ctx, projectID, name)
	if err != nil {
		return err
	}
	if view == nil {
		return NewResourceNotExistsError("gateway %s does not exist", name)
	}
	return m.repo.SetDefault(ctx, projectID, name)
}
