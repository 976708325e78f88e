package gateways

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/vectorhaven/fleetctl/internal/database"
	"github.com/vectorhaven/fleetctl/internal/gatewayproto"
	"github.com/vectorhaven/fleetctl/internal/logger"
	"github.com/vectorhaven/fleetctl/internal/sshpool"
)

// Registrar is the Service Registrar from spec.md §4.G: it resolves a
// run's target gateway, composes its ServiceSpec, pushes the resulting
// entrypoint onto the gateway's control API, and persists the association
// onto the run row. Mirrors register_service/register_replica/
// unregister_service/unregister_replica.
type Registrar struct {
	db       *gorm.DB
	gateways *database.GatewayRepository
	pool     *sshpool.Pool
}

func NewRegistrar(db *gorm.DB, gateways *database.GatewayRepository, pool *sshpool.Pool) *Registrar {
	return &Registrar{db: db, gateways: gateways, pool: pool}
}

// resolveDefaultGateway resolves the project's default gateway, mirroring
// the "currently always the project's default" rule of spec.md §4.G step 2.
func (r *Registrar) resolveDefaultGateway(ctx context.Context, projectID string) (*database.GatewayView, error) {
	var project database.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	if project.DefaultGatewayID == nil {
		return nil, NewResourceNotExistsError("Default gateway is not set")
	}
	view, err := r.gateways.GetByID(ctx, *project.DefaultGatewayID)
	if err != nil {
		return nil, err
	}
	if view == nil {
		return nil, NewResourceNotExistsError("Default gateway is not set")
	}
	return view, nil
}

// stripWildcardPrefix strips the literal "*." prefix from a wildcard
// domain, the corrected behavior for the original's str.lstrip("*.")
// (spec.md §9, DESIGN.md).
func stripWildcardPrefix(domain string) string {
	return strings.TrimPrefix(domain, "*.")
}

// RegisterService resolves run's gateway, composes its ServiceSpec, and
// pushes the resulting entrypoint, mirroring register_service(run_model)
// step by step:
//  1. parse run_spec
//  2. resolve the default gateway
//  3. require GatewayCompute + status=RUNNING
//  4. reject HTTPS on a gateway without a public IP
//  5. require a wildcard domain, stripping the "*." prefix
//  6. compose the service (and, if requested, model) URL
//  7/8/9. fetch the connection, call register_service, then persist the
//     spec onto the run row only once the remote call has succeeded — so
//     that a disconnected gateway leaves run.service_spec untouched
//     (spec.md scenario 4), even though the prose in §4.G lists the
//     persist step before the remote call.
func (r *Registrar) RegisterService(ctx context.Context, runID string) (*database.ServiceSpec, error) {
	var run database.Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	runSpec, err := database.UnmarshalRunSpec(run.RunSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse run spec for %s: %w", runID, err)
	}

	view, err := r.resolveDefaultGateway(ctx, run.ProjectID)
	if err != nil {
		return nil, err
	}

	if view.GatewayCompute == nil || view.Status != database.GatewayStatusRunning {
		return nil, NewServerClientError("Gateway %s is not running", view.Name)
	}

	if runSpec.Configuration.HTTPS && !view.Configuration.PublicIP {
		return nil, NewServerClientError("Cannot run HTTPS service on gateway without public IP")
	}

	if view.WildcardDomain == nil {
		return nil, NewServerClientError("Gateway %s has no wildcard domain configured", view.Name)
	}
	domain := stripWildcardPrefix(*view.WildcardDomain)

	serviceScheme := "http"
	if runSpec.Configuration.HTTPS {
		serviceScheme = "https"
	}
	gatewayScheme := "http"
	if view.Configuration.PublicIP {
		gatewayScheme = "https"
	}

	spec := database.ServiceSpec{
		URL:     fmt.Sprintf("%s://%s.%s", serviceScheme, run.RunName, domain),
		Options: runSpec.Configuration.Options,
	}
	if runSpec.Configuration.Model != nil {
		spec.Model = &database.ServiceModelSpec{
			Name:    runSpec.Configuration.Model.Name,
			BaseURL: fmt.Sprintf("%s://gateway.%s", gatewayScheme, domain),
			Type:    runSpec.Configuration.Model.Type,
		}
	}

	var project database.Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", run.ProjectID).Error; err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", run.ProjectID, err)
	}

	client, err := r.connectionFor(view)
	if err != nil {
		return nil, err
	}

	if err := client.RegisterService(ctx, gatewayproto.ServiceRegistration{
		Project:       run.ProjectID,
		RunID:         run.ID,
		Domain:        domain,
		ServiceHTTPS:  runSpec.Configuration.HTTPS,
		GatewayHTTPS:  view.Configuration.PublicIP,
		Auth:          runSpec.Configuration.Auth,
		Options:       runSpec.Configuration.Options,
		SSHPrivateKey: project.SSHPrivateKey,
	}); err != nil {
		return nil, translateProtocolError(err, view.Name)
	}

	specRaw, err := spec.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal service spec for run %s: %w", runID, err)
	}
	if err := r.db.WithContext(ctx).Model(&database.Run{}).
		Where("id = ?", run.ID).
		Updates(map[string]any{"gateway_id": view.ID, "service_spec": specRaw}).Error; err != nil {
		return nil, fmt.Errorf("failed to persist service spec for run %s: %w", run.ID, err)
	}

	return &spec, nil
}

// RegisterReplica adds a replica endpoint to an already-registered
// service, mirroring register_replica(run, job_submission).
func (r *Registrar) RegisterReplica(ctx context.Context, runID, replicaID, upstreamURL string) error {
	var run database.Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	view, err := r.resolveGatewayForRun(ctx, &run)
	if err != nil {
		return err
	}

	client, err := r.connectionFor(view)
	if err != nil {
		return err
	}

	if err := client.RegisterReplica(ctx, gatewayproto.ReplicaRegistration{
		Project:     run.ProjectID,
		RunID:       run.ID,
		JobID:       replicaID,
		UpstreamURL: upstreamURL,
	}); err != nil {
		return translateProtocolError(err, view.Name)
	}
	return nil
}

// UnregisterService retracts run's entrypoint. Unlike RegisterService, a
// GatewayError here is downgraded to a warning log rather than
// propagated: the run is going away regardless, and an unreachable
// gateway shouldn't block that (mirrors unregister_service's best-effort
// semantics in the original).
func (r *Registrar) UnregisterService(ctx context.Context, runID string) error {
	var run database.Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	view, err := r.resolveGatewayForRun(ctx, &run)
	if err != nil {
		return downgradeGatewayError(err, "unregister service %s", run.RunName)
	}

	client, err := r.connectionFor(view)
	if err != nil {
		return downgradeGatewayError(err, "unregister service %s", run.RunName)
	}

	err = client.UnregisterService(ctx, run.ProjectID, run.ID)
	return downgradeGatewayError(translateProtocolError(err, view.Name), "unregister service %s", run.RunName)
}

// UnregisterReplica retracts a single replica backend, with the same
// best-effort downgrade as UnregisterService.
func (r *Registrar) UnregisterReplica(ctx context.Context, runID, replicaID string) error {
	var run database.Run
	if err := r.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	view, err := r.resolveGatewayForRun(ctx, &run)
	if err != nil {
		return downgradeGatewayError(err, "unregister replica %s/%s", run.RunName, replicaID)
	}

	client, err := r.connectionFor(view)
	if err != nil {
		return downgradeGatewayError(err, "unregister replica %s/%s", run.RunName, replicaID)
	}

	err = client.UnregisterReplica(ctx, run.ProjectID, run.ID, replicaID)
	return downgradeGatewayError(translateProtocolError(err, view.Name), "unregister replica %s/%s", run.RunName, replicaID)
}

// resolveGatewayForRun looks up the gateway a run was registered against,
// falling back to the project's default when the run has none yet.
func (r *Registrar) resolveGatewayForRun(ctx context.Context, run *database.Run) (*database.GatewayView, error) {
	if run.GatewayID != nil {
		view, err := r.gateways.GetByID(ctx, *run.GatewayID)
		if err != nil {
			return nil, err
		}
		if view == nil {
			return nil, NewResourceNotExistsError("gateway for run %s does not exist", run.RunName)
		}
		return view, nil
	}
	return r.resolveDefaultGateway(ctx, run.ProjectID)
}

// connectionFor fetches a pooled connection for view's gateway compute,
// distinguishing "never connected" (pool miss, spec.md §4.G step 8) from
// "connected but unhealthy" (tunnel failure, translated the way §7
// requires: SSHError → ServerClientError("Gateway tunnel is not
// working")). It never dials a new connection — a RUNNING gateway is
// expected to already be pooled by the lifecycle manager or the startup
// reconciler.
func (r *Registrar) connectionFor(view *database.GatewayView) (*gatewayproto.Client, error) {
	if view.GatewayCompute == nil {
		return nil, NewServerClientError("Gateway is not connected")
	}
	conn, ok := r.pool.Lookup(view.GatewayCompute.IPAddress)
	if !ok {
		return nil, NewServerClientError("Gateway is not connected")
	}
	if !conn.IsHealthy() {
		return nil, NewServerClientError("Gateway tunnel is not working")
	}
	return gatewayproto.New(conn.HTTPClient(), fmt.Sprintf("http://%s:8000", conn.Host())), nil
}

// translateProtocolError maps a Gateway Client Protocol failure onto the
// gateways package's error taxonomy: a transport-level failure (the
// gateway could not be reached at all) or a non-2xx response (the
// gateway was reached and rejected the call) both surface as
// GatewayError for register_* callers (spec.md §7); unregister_*
// callers downgrade either to a warning via downgradeGatewayError.
func translateProtocolError(err error, gatewayName string) error {
	if err == nil {
		return nil
	}
	var transportErr *gatewayproto.TransportError
	if errors.As(err, &transportErr) {
		return NewGatewayError(fmt.Sprintf("gateway %s is unreachable", gatewayName), err)
	}
	var requestErr *gatewayproto.RequestError
	if errors.As(err, &requestErr) {
		message := requestErr.Message
		if message == "" {
			message = requestErr.Error()
		}
		return NewGatewayError(message, err)
	}
	return err
}

// downgradeGatewayError logs and swallows errors that mean "the gateway
// could not be reached, isn't connected, or rejected the call" for the
// unregister_* operations, since a best-effort teardown should not fail
// just because the gateway it's telling is already gone.
func downgradeGatewayError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var gatewayErr *GatewayError
	var serverClientErr *ServerClientError
	if errors.As(err, &gatewayErr) || errors.As(err, &serverClientErr) {
		logger.Warn("[registrar] failed to "+format+": %v", append(args, err)...)
		return nil
	}
	return err
}
