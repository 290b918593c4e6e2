// Package hostapp wires the host-side connection, link supervisor, and power
// manager together under one supervised group, and exposes the snapshot and
// command surface the TUI and CLI consume.
package hostapp

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fleetpower/dcmesh/internal/config"
	"github.com/fleetpower/dcmesh/internal/connection"
	"github.com/fleetpower/dcmesh/internal/linksupervisor"
	"github.com/fleetpower/dcmesh/internal/logging"
	"github.com/fleetpower/dcmesh/internal/powermanager"
)

// App is the host binary's top-level orchestration: the attached connection,
// the Link Supervisor driving it, and the Power Manager balancing load
// across whatever nodes answer on the mesh.
type App struct {
	cfg  *config.Config
	conn connection.Connection
	sup  *linksupervisor.Supervisor
	mgr  *powermanager.Manager

	logger *zap.Logger
}

// New constructs an App from a loaded Config. The connection is created but
// not yet dialed; call Run to bring the link up and begin the control
// loops.
func New(cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	logger := logging.With(zap.String("component", "hostapp"))

	conn, err := connection.New(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	pmCfg := powermanager.PmConfig{
		ThresholdMW:    cfg.PowerManager.ThresholdMW,
		PriorityNodeID: cfg.PowerManager.PriorityNodeID,
		PollInterval:   cfg.PowerManager.PollInterval,
		StaleThreshold: cfg.PowerManager.StaleThreshold,
		NudgeStep:      cfg.PowerManager.NudgeStep,
		Deadband:       cfg.PowerManager.Deadband,
	}

	sup := linksupervisor.New(conn, cfg.LinkSupervisor, nil, logging.With(zap.String("component", "linksupervisor")))
	mgr := powermanager.New(pmCfg, sup, reg, logging.With(zap.String("component", "powermanager")))

	// The supervisor pauses/resumes the manager across attach/detach, so the
	// two are constructed together and then cross-wired.
	sup.SetPauser(mgr)

	return &App{
		cfg:    cfg,
		conn:   conn,
		sup:    sup,
		mgr:    mgr,
		logger: logger,
	}, nil
}

// Run brings the link up and runs the supervisor, power manager, and
// notification bridge under one errgroup so any unexpected exit surfaces
// through Wait instead of silently wedging the process.
func (a *App) Run(ctx context.Context) error {
	if err := a.sup.Connect(ctx); err != nil {
		a.logger.Warn("initial connect failed, link supervisor will keep retrying", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sup.Run(ctx) })
	g.Go(func() error { return a.mgr.Run(ctx) })
	g.Go(func() error { return a.bridgeNotifications(ctx) })

	return g.Wait()
}

// bridgeNotifications decodes NODE<id>:DATA:* notifications off the
// connection and feeds them to the Power Manager; every other notification
// shape (ACK, ONOFF, TIMEOUT, SENT, ERROR) is only logged.
func (a *App) bridgeNotifications(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-a.conn.Notifications():
			if !ok {
				return nil
			}
			if reading, ok := decodeReading(msg, a.mgr.Generation()); ok {
				a.mgr.ObserveReading(reading)
			} else {
				a.logger.Debug("notification", zap.ByteString("payload", msg))
			}
		}
	}
}

// Snapshot returns the Power Manager's current per-node view, for the TUI
// and CLI to render.
func (a *App) Snapshot() []powermanager.NodeStatus {
	return a.mgr.Snapshot()
}

// LinkState reports the Link Supervisor's current state.
func (a *App) LinkState() linksupervisor.State {
	return a.sup.State()
}

// SetThreshold forwards to the Power Manager.
func (a *App) SetThreshold(mW float64) { a.mgr.SetThreshold(mW) }

// Disable forwards to the Power Manager.
func (a *App) Disable() { a.mgr.Disable() }

// SetPriority forwards to the Power Manager.
func (a *App) SetPriority(nodeID int) { a.mgr.SetPriority(nodeID) }

// ClearPriority forwards to the Power Manager.
func (a *App) ClearPriority() { a.mgr.ClearPriority() }

// Stop closes the underlying connection.
func (a *App) Stop() error {
	return a.conn.Close()
}
