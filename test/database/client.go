// Package database provides a shared database client helper for
// integration tests.
package database

import (
	"testing"

	"github.com/report-compose/composer/pkg/database"
	"github.com/report-compose/composer/test/util"
)

// NewTestClient creates a migrated database client isolated in a per-test
// schema. In CI (CI_DATABASE_URL set) it connects to an external
// PostgreSQL service container; locally it uses a shared testcontainer.
// Cleanup (schema drop and connection close) is handled by SetupTestDatabase.
func NewTestClient(t *testing.T) *database.Client {
	return database.NewClientFromDB(util.SetupTestDatabase(t))
}
