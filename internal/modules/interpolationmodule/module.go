// Package interpolationmodule drives external frame interpolation engines.
//
// A request names an engine, an input frame directory, an output directory
// and a multiplier of 2, 4 or 8. Engines that cannot reach the multiplier in
// one invocation are chained: each pass doubles the frame count, and the
// previous output is rotated into a "-runN" staging directory that becomes
// the next pass's input.
//
// Architecture:
//
//	Manager → pipeline.Executor → process.Runner → engine executable
//	                                 └→ classifier.Monitor → Notifier
//
// The module is responsible for:
// - Validating requests and planning passes
// - Supervising engine processes and classifying their output
// - Pausing the incremental frame feed during intermediate passes
// - Checkpointing runs at pass boundaries and recovering after a crash
// - Serving the HTTP and websocket API
package interpolationmodule

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/frameflow/internal/config"
	"github.com/mantonx/frameflow/internal/database"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/api"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/checkpoint"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/core/system"
	"github.com/mantonx/frameflow/internal/modules/interpolationmodule/types"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the interpolation module
	ModuleID = "system.interpolation"

	// ModuleName is the display name for the interpolation module
	ModuleName = "Frame Interpolation"

	// ModuleVersion is the version of the interpolation module
	ModuleVersion = "1.0.0"
)

// Module bundles the manager with its storage and API surface.
type Module struct {
	cfg     *config.Config
	db      *gorm.DB
	logger  hclog.Logger
	sensor  system.GPUSensor
	manager *Manager
	hub     *api.Hub
}

// NewModule creates the module. db may be nil to run without checkpoints.
func NewModule(cfg *config.Config, db *gorm.DB, logger hclog.Logger) *Module {
	return &Module{cfg: cfg, db: db, logger: logger}
}

// WithSensor replaces the GPU sensor. Must be called before Init.
func (m *Module) WithSensor(sensor system.GPUSensor) *Module {
	m.sensor = sensor
	return m
}

// ID returns the unique module identifier
func (m *Module) ID() string {
	return ModuleID
}

// Name returns the module display name
func (m *Module) Name() string {
	return ModuleName
}

// GetVersion returns the module version
func (m *Module) GetVersion() string {
	return ModuleVersion
}

// Migrate creates the checkpoint tables.
func (m *Module) Migrate(db *gorm.DB) error {
	m.logger.Info("migrating interpolation checkpoint schema")
	return database.Migrate(db)
}

// Init builds the manager. Notifications and engine output are published
// to the websocket hub and to notifier, which may be nil.
func (m *Module) Init(notifier types.Notifier) error {
	m.hub = api.NewHub(m.logger)

	var store *checkpoint.Store
	if m.db != nil {
		if err := m.Migrate(m.db); err != nil {
			return err
		}
		store = checkpoint.NewStore(m.db, m.logger)
	}

	notifiers := notifierList{m.hub}
	if notifier != nil {
		notifiers = append(notifiers, notifier)
	}

	m.manager = NewManager(Options{
		Config:   m.cfg,
		Logger:   m.logger,
		Store:    store,
		Sensor:   m.sensor,
		Notifier: notifiers,
		Observer: m.hub,
	})
	m.logger.Info("interpolation module initialized",
		"packages_dir", m.cfg.Engines.PackagesDir,
		"checkpoints", store != nil,
		"autoencode", m.cfg.Encoder.Enabled,
	)
	return nil
}

// Manager returns the run manager. Nil before Init.
func (m *Module) Manager() *Manager {
	return m.manager
}

// RegisterRoutes registers the HTTP API on router.
func (m *Module) RegisterRoutes(router *gin.Engine) {
	if m.manager == nil {
		m.logger.Error("cannot register routes: module not initialized")
		return
	}
	api.RegisterRoutes(router, api.NewAPIHandler(m.manager, m.logger), m.hub)
}

// Shutdown stops the active run and disconnects websocket clients.
func (m *Module) Shutdown(ctx context.Context) error {
	var err error
	if m.manager != nil {
		err = m.manager.Shutdown(ctx)
	}
	if m.hub != nil {
		m.hub.Close()
	}
	return err
}

// notifierList fans a notification out to several notifiers.
type notifierList []types.Notifier

func (l notifierList) Notify(n types.Notification) {
	for _, notifier := range l {
		notifier.Notify(n)
	}
}
