package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vectorhaven/fleetctl/internal/cache"
	"github.com/vectorhaven/fleetctl/internal/logger"
)

// GatewayView is the public read shape of a Gateway, equivalent to the
// Gateway model in spec.md §3 (as opposed to the persisted GatewayModel
// shape). Built by toView, mirroring the original's
// gateway_model_to_gateway.
type GatewayView struct {
	ID              string
	ProjectID       string
	Name            string
	IPAddress       string
	InstanceID      string
	Region          string
	WildcardDomain  *string
	Default         bool
	Backend         BackendType
	Status          GatewayStatus
	StatusMessage   *string
	Configuration   GatewayConfiguration
	GatewayCompute  *GatewayCompute
	CreatedAt       time.Time
}

const gatewayCacheTTL = 30 * time.Second

// GatewayRepository is the persistence façade described in spec.md §4.E.
// It wraps *gorm.DB with an optional read-through cache, following the
// teacher's DatabaseRepository shape (db + cache).
type GatewayRepository struct {
	db    *gorm.DB
	cache *cache.Cache
}

func NewGatewayRepository(db *gorm.DB, c *cache.Cache) *GatewayRepository {
	return &GatewayRepository{db: db, cache: c}
}

func gatewayCacheKey(projectID, name string) string {
	return fmt.Sprintf("gateway:%s:%s", projectID, name)
}

// ListByProject returns every gateway belonging to project, newest first.
func (r *GatewayRepository) ListByProject(ctx context.Context, projectID string) ([]GatewayView, error) {
	var rows []Gateway
	if err := r.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at desc").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}

	project, err := r.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	views := make([]GatewayView, 0, len(rows))
	for i := range rows {
		view, err := r.toView(ctx, &rows[i], project)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetByName looks up a single gateway by its (project, name) identity,
// serving from cache when possible, following the read-through cache-aside
// pattern of DatabaseRepository.GetByID: check the cache first, fall back
// to the database on a miss, then populate the cache for gatewayCacheTTL.
func (r *GatewayRepository) GetByName(ctx context.Context, projectID, name string) (*GatewayView, error) {
	key := gatewayCacheKey(projectID, name)
	if r.cache != nil {
		var cached GatewayView
		if err := r.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !cache.IsMiss(err) {
			logger.Debug("[GatewayRepository] cache read failed for %s/%s: %v", projectID, name, err)
		}
	}

	var row Gateway
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway %s: %w", name, err)
	}

	project, err := r.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	view, err := r.toView(ctx, &row, project)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, key, view, gatewayCacheTTL); err != nil {
			logger.Debug("[GatewayRepository] cache write failed for %s/%s: %v", projectID, name, err)
		}
	}
	return &view, nil
}

// GetByID looks up a gateway by its primary key, used by the Service
// Registrar and reconciler which only carry a gateway id.
func (r *GatewayRepository) GetByID(ctx context.Context, id string) (*GatewayView, error) {
	var row Gateway
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get gateway %s: %w", id, err)
	}
	project, err := r.loadProject(ctx, row.ProjectID)
	if err != nil {
		return nil, err
	}
	view, err := r.toView(ctx, &row, project)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// Create inserts gateway atomically; the unique index on (project_id, name)
// enforces the uniqueness invariant from spec.md §3.
func (r *GatewayRepository) Create(ctx context.Context, gw *Gateway) error {
	if err := r.db.WithContext(ctx).Create(gw).Error; err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}
	r.invalidate(ctx, gw.ProjectID, gw.Name)
	return nil
}

// UpdateWildcardDomain atomically updates the domain column.
func (r *GatewayRepository) UpdateWildcardDomain(ctx context.Context, projectID, name string, domain *string) error {
	res := r.db.WithContext(ctx).Model(&Gateway{}).
		Where("project_id = ? AND name = ?", projectID, name).
		Update("wildcard_domain", domain)
	if res.Error != nil {
		return fmt.Errorf("failed to update wildcard domain: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.invalidate(ctx, projectID, name)
	return nil
}

// SetDefault atomically points the project's default_gateway_id at the
// named gateway. At most one gateway per project is ever marked default
// (spec.md testable property 5): this is enforced by storing a single
// pointer on the project row rather than a boolean per gateway.
func (r *GatewayRepository) SetDefault(ctx context.Context, projectID, name string) error {
	var gw Gateway
	if err := r.db.WithContext(ctx).
		Where("project_id = ? AND name = ?", projectID, name).
		First(&gw).Error; err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&Project{}).
		Where("id = ?", projectID).
		Update("default_gateway_id", gw.ID).Error; err != nil {
		return fmt.Errorf("failed to set default gateway: %w", err)
	}
	r.invalidate(ctx, projectID, name)
	return nil
}

// Delete removes the gateway row. The referenced GatewayCompute is not
// cascaded here; callers tombstone it separately (spec.md §3).
func (r *GatewayRepository) Delete(ctx context.Context, gw *Gateway) error {
	if err := r.db.WithContext(ctx).Delete(gw).Error; err != nil {
		return fmt.Errorf("failed to delete gateway %s: %w", gw.Name, err)
	}
	r.invalidate(ctx, gw.ProjectID, gw.Name)
	return nil
}

func (r *GatewayRepository) invalidate(ctx context.Context, projectID, name string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, gatewayCacheKey(projectID, name)); err != nil {
		logger.Debug("[GatewayRepository] cache invalidation failed for %s/%s: %v", projectID, name, err)
	}
}

func (r *GatewayRepository) loadProject(ctx context.Context, projectID string) (*Project, error) {
	var project Project
	if err := r.db.WithContext(ctx).First(&project, "id = ?", projectID).Error; err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}
	return &project, nil
}

// toView assembles the public GatewayView from a persisted Gateway row,
// preserving two behaviors carried over from the original implementation
// (see SPEC_FULL.md "Supplemented features" and DESIGN.md's Open Question
// decisions):
//   - a gateway on the managed-default (DSTACK) backend is displayed as AWS
//     while its stored backend type is left untouched;
//   - gateways persisted before GatewayConfiguration existed are
//     reconstructed with public_ip defaulted to true.
func (r *GatewayRepository) toView(ctx context.Context, row *Gateway, project *Project) (GatewayView, error) {
	var backend Backend
	if err := r.db.WithContext(ctx).First(&backend, "id = ?", row.BackendID).Error; err != nil {
		return GatewayView{}, fmt.Errorf("failed to load backend for gateway %s: %w", row.Name, err)
	}

	configuration, err := r.gatewayConfiguration(row, backend.Type)
	if err != nil {
		return GatewayView{}, fmt.Errorf("failed to parse configuration for gateway %s: %w", row.Name, err)
	}

	isDefault := project.DefaultGatewayID != nil && *project.DefaultGatewayID == row.ID
	configuration.Default = isDefault

	displayBackend := backend.Type
	if backend.Type == BackendDstack {
		displayBackend = BackendAWS
	}

	var compute *GatewayCompute
	ipAddress, instanceID := "", ""
	if row.GatewayComputeID != nil {
		var gc GatewayCompute
		if err := r.db.WithContext(ctx).First(&gc, "id = ?", *row.GatewayComputeID).Error; err == nil {
			compute = &gc
			ipAddress = gc.IPAddress
			instanceID = gc.InstanceID
		}
	}

	return GatewayView{
		ID:             row.ID,
		ProjectID:      row.ProjectID,
		Name:           row.Name,
		IPAddress:      ipAddress,
		InstanceID:     instanceID,
		Region:         row.Region,
		WildcardDomain: row.WildcardDomain,
		Default:        isDefault,
		Backend:        displayBackend,
		Status:         row.Status,
		StatusMessage:  row.StatusMessage,
		Configuration:  configuration,
		GatewayCompute: compute,
		CreatedAt:      row.CreatedAt,
	}, nil
}

func (r *GatewayRepository) gatewayConfiguration(row *Gateway, backendType BackendType) (GatewayConfiguration, error) {
	if row.Configuration != "" {
		return UnmarshalGatewayConfiguration(row.Configuration)
	}
	// Backward compatibility: rows predating the configuration column.
	return GatewayConfiguration{
		Name:     row.Name,
		Default:  false,
		Backend:  backendType,
		Region:   row.Region,
		Domain:   row.WildcardDomain,
		PublicIP: true,
	}, nil
}
