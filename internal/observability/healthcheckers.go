package observability

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"
)

// DatabaseHealthChecker checks that a bbolt database still accepts reads
type DatabaseHealthChecker struct {
	name string
	db   *bbolt.DB
}

// NewDatabaseHealthChecker creates a new database health checker
func NewDatabaseHealthChecker(name string, db *bbolt.DB) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{name: name, db: db}
}

// Name returns the name of the health checker
func (dhc *DatabaseHealthChecker) Name() string {
	return dhc.name
}

// HealthCheck performs a database health check
func (dhc *DatabaseHealthChecker) HealthCheck(_ context.Context) error {
	if dhc.db == nil {
		return fmt.Errorf("database is nil")
	}
	return dhc.db.View(func(_ *bbolt.Tx) error { return nil })
}

// FuncChecker adapts a function to both checker interfaces
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncChecker creates a checker named name that calls fn
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (fc *FuncChecker) Name() string { return fc.name }

func (fc *FuncChecker) HealthCheck(ctx context.Context) error { return fc.fn(ctx) }

func (fc *FuncChecker) ReadinessCheck(ctx context.Context) error { return fc.fn(ctx) }
