package database

import (
	"testing"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate_CreatesTables(t *testing.T) {
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, m := range []any{&models.Invoice{}, &models.InvoiceLine{}, &models.AuditEntry{}, &models.Exception{}} {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&models.AuditEntry{}, "idx_audit_lineage_sequence"))
}

func TestConnect_SQLiteURL(t *testing.T) {
	db, err := Connect("sqlite:file::memory:?cache=shared", "test")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
}
