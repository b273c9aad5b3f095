package services

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nyealovey/WhaleFall-sub003/pkg/adapters/datasource"
	"github.com/nyealovey/WhaleFall-sub003/pkg/apperrors"
	"github.com/nyealovey/WhaleFall-sub003/pkg/logging"
	"github.com/nyealovey/WhaleFall-sub003/pkg/models"
	"github.com/nyealovey/WhaleFall-sub003/pkg/retry"
)

// ConnectionLifecycle owns the single connection of one instance-run.
//
// Connect is idempotent: while connected it returns the open handle. A failed
// connect is sticky for the lifetime of the value, so later phases of the
// same run fail fast instead of reconnecting. Disconnect is always safe.
type ConnectionLifecycle struct {
	instance *models.Instance
	factory  datasource.AdapterFactory
	retryCfg *retry.Config
	logger   *zap.Logger

	mu      sync.Mutex
	conn    datasource.Connection
	failure error
}

// NewConnectionLifecycle creates a lifecycle for one run against instance.
// A nil retryCfg disables retries of transient connect errors.
func NewConnectionLifecycle(instance *models.Instance, factory datasource.AdapterFactory, retryCfg *retry.Config, logger *zap.Logger) *ConnectionLifecycle {
	return &ConnectionLifecycle{
		instance: instance,
		factory:  factory,
		retryCfg: retryCfg,
		logger:   logger.Named("connection").With(zap.Int64("instance_id", instance.ID)),
	}
}

// Connect opens the connection or returns the one already open.
func (c *ConnectionLifecycle) Connect(ctx context.Context) (datasource.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failure != nil {
		return nil, c.failure
	}
	if c.conn != nil {
		return c.conn, nil
	}

	conn, err := c.factory.NewConnection(c.instance)
	if err != nil {
		c.failure = c.wrap("connect", err)
		return nil, c.failure
	}

	connect := func() error { return conn.Connect(ctx) }
	if c.retryCfg == nil {
		err = connect()
	} else {
		err = retry.DoIfRetryable(ctx, c.retryCfg, connect)
	}
	if err != nil {
		_ = conn.Disconnect()
		c.failure = c.wrap("connect", err)
		c.logger.Error("Failed to connect",
			zap.String("db_type", string(c.instance.DBType)),
			zap.String("error", logging.SanitizeError(err)))
		return nil, c.failure
	}

	c.conn = conn
	return conn, nil
}

// Disconnect closes the connection if one is open. Safe to call repeatedly,
// and on a lifecycle that never connected.
func (c *ConnectionLifecycle) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.conn.Disconnect(); err != nil {
		c.logger.Warn("Failed to disconnect", zap.String("error", logging.SanitizeError(err)))
	}
	c.conn = nil
}

// Err returns the sticky connect failure, if any.
func (c *ConnectionLifecycle) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

func (c *ConnectionLifecycle) wrap(op string, err error) error {
	return &apperrors.ConnectionError{
		InstanceID: c.instance.ID,
		DBType:     string(c.instance.DBType),
		Operation:  op,
		Cause:      err,
	}
}
