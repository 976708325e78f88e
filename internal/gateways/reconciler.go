package gateways

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/vectorhaven/fleetctl/internal/config"
	"github.com/vectorhaven/fleetctl/internal/database"
	"github.com/vectorhaven/fleetctl/internal/logger"
	"github.com/vectorhaven/fleetctl/internal/sshpool"
)

const (
	maxParallelReconnects = 8

	// gatewayUpdateScriptFmt is the literal remote command spec.md §4.H
	// fixes for the reconciler's update phase.
	gatewayUpdateScriptFmt = "/bin/sh dstack/update.sh %s %s"

	// gatewayUpdateSentinel is the substring an update.sh run must print
	// for the reconciler to log it as successful.
	gatewayUpdateSentinel = "Update successfully completed"
)

// Reconciler is the Startup Reconciler from spec.md §4.H: on process
// start it reconnects to every live gateway compute and re-pushes
// configuration, so an in-flight gateway state survives a server
// restart. Mirrors init_gateways.
type Reconciler struct {
	db   *gorm.DB
	repo *database.GatewayRepository
	pool *sshpool.Pool
	mgr  *Manager
	cfg  *config.Config
}

func NewReconciler(db *gorm.DB, repo *database.GatewayRepository, pool *sshpool.Pool, mgr *Manager, cfg *config.Config) *Reconciler {
	return &Reconciler{db: db, repo: repo, pool: pool, mgr: mgr, cfg: cfg}
}

// Run reconnects to every active, non-deleted GatewayCompute, optionally
// runs the gateway update script, then reconfigures each gateway's
// control API. Individual failures are logged and do not abort the rest
// of the fleet.
func (rc *Reconciler) Run(ctx context.Context) error {
	var computes []database.GatewayCompute
	if err := rc.db.WithContext(ctx).
		Where("active = ? AND deleted = ?", true, false).
		Find(&computes).Error; err != nil {
		return fmt.Errorf("failed to list gateway computes: %w", err)
	}

	logger.Info("[reconciler] reconnecting to %d gateway compute instances", len(computes))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxParallelReconnects)

	for i := range computes {
		gc := computes[i]
		group.Go(func() error {
			rc.reconcileOne(gctx, gc)
			return nil
		})
	}
	return group.Wait()
}

func (rc *Reconciler) reconcileOne(ctx context.Context, gc database.GatewayCompute) {
	conn, err := rc.mgr.ConnectToGatewayWithRetry(ctx, gc.IPAddress, gc.SSHPrivateKey)
	if err != nil {
		logger.Warn("[reconciler] could not reconnect to gateway compute %s (%s): %v", gc.ID, gc.IPAddress, err)
		return
	}

	if !rc.cfg.SkipGatewayUpdate {
		rc.updateGateway(ctx, conn, gc)
	}

	var row database.Gateway
	if err := rc.db.WithContext(ctx).Where("gateway_compute_id = ?", gc.ID).First(&row).Error; err != nil {
		logger.Debug("[reconciler] no gateway references compute %s, skipping configure", gc.ID)
		return
	}

	view, err := rc.repo.GetByID(ctx, row.ID)
	if err != nil || view == nil {
		logger.Warn("[reconciler] failed to load gateway view for %s: %v", row.ID, err)
		return
	}

	if err := rc.mgr.ConfigureGateway(ctx, conn, *view); err != nil {
		logger.Warn("[reconciler] failed to reconfigure gateway %s: %v", view.Name, err)
		return
	}

	logger.Info("[reconciler] reconnected and reconfigured gateway %s", view.Name)
}

// updateGateway runs the remote update script and logs success only when
// its output contains the sentinel, mirroring _update_gateway. Failures
// and a missing sentinel are both logged and do not abort reconciliation.
func (rc *Reconciler) updateGateway(ctx context.Context, conn *sshpool.Connection, gc database.GatewayCompute) {
	cmd := fmt.Sprintf(gatewayUpdateScriptFmt, rc.cfg.GatewayWheelURL, rc.cfg.GatewayBuild)
	out, err := conn.Exec(ctx, cmd)
	if err != nil {
		logger.Warn("[reconciler] update script failed on %s: %v (%s)", gc.IPAddress, err, out)
		return
	}
	if !strings.Contains(out, gatewayUpdateSentinel) {
		logger.Warn("[reconciler] update script on %s did not report success: %s", gc.IPAddress, out)
		return
	}
	logger.Info("[reconciler] gateway %s updated successfully", gc.IPAddress)
}
