package database

import (
	"context"
	"os"
	"testing"

	"curve-watch/agent/internal/models"
	"curve-watch/shared/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilStore(t *testing.T) {
	var s *AlertStore
	assert.ErrorIs(t, s.RecordAlert(context.Background(), models.AlertRecord{}), errNilDB)
	_, err := NewAlertStore(nil).RecentAlerts(context.Background(), "x", 1)
	assert.ErrorIs(t, err, errNilDB)
	assert.NoError(t, Close(nil))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "000001_create_alert_log.up.sql")
	assert.Contains(t, names, "000001_create_alert_log.down.sql")
}

func TestAlertStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	log := logger.NewNop()

	require.NoError(t, MigrateDatabase(dsn, log))
	// A second run has nothing to apply.
	require.NoError(t, MigrateDatabase(dsn, log))

	db, err := ConnectToDatabase(dsn, log)
	require.NoError(t, err)
	defer Close(db)

	token := models.TokenID("TestMint1111111111111111111111111111111111")
	require.NoError(t, db.Where("token_id = ?", token.String()).Delete(&models.AlertRecord{}).Error)

	store := NewAlertStore(db)
	ctx := context.Background()
	require.NoError(t, store.RecordAlert(ctx, models.AlertRecord{TokenID: token.String(), UserID: 1, ThresholdKey: "bonding_50", Value: 63, Delivered: true}))
	require.NoError(t, store.RecordAlert(ctx, models.AlertRecord{TokenID: token.String(), UserID: 1, ThresholdKey: "bonding_90", Value: 99.6, Error: "blocked"}))

	got, err := store.RecentAlerts(ctx, token, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bonding_90", got[0].ThresholdKey)
	assert.False(t, got[0].Delivered)
	assert.Equal(t, "bonding_50", got[1].ThresholdKey)
}
