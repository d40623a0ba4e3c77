package changes

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/require"
)

func updatesByPath(updates []firestore.Update) map[string]any {
	out := make(map[string]any, len(updates))
	for _, u := range updates {
		out[u.Path] = u.Value
	}
	return out
}

func TestMissingQueryFieldsFillsDefaults(t *testing.T) {
	got := updatesByPath(missingQueryFields(map[string]any{
		"orderNumber": "SC-2026-000100",
		"status":      "paid",
		"createdAt":   time.Now(),
	}))
	require.Equal(t, map[string]any{
		"trashed":          false,
		"adminSeen":        false,
		"excludeFromStats": false,
		"shipmentStage":    "none",
		"deletedAt":        nil,
	}, got)
}

func TestMissingQueryFieldsRespectsExistingValues(t *testing.T) {
	deleted := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	got := updatesByPath(missingQueryFields(map[string]any{
		"status":           "shipped",
		"deletedAt":        deleted,
		"adminSeen":        true,
		"excludeFromStats": false,
	}))
	require.Equal(t, map[string]any{
		"trashed":       true,
		"shipmentStage": "tracking_assigned",
	}, got)

	require.Empty(t, missingQueryFields(map[string]any{
		"trashed": false, "adminSeen": false, "excludeFromStats": false,
		"shipmentStage": "none", "deletedAt": nil,
	}))
}
