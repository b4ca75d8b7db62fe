package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricely/telemetry/models"
)

func TestTopEntities_RejectsHostileMetadataKeys(t *testing.T) {
	// Key validation happens before any connection is touched.
	s := NewClickHouseSummarizer(nil)
	ctx := context.Background()

	_, err := s.TopEntities(ctx, "u1", models.ActionButtonClick, "buttonId') OR 1=1 --", "buttonText", 10)
	require.Error(t, err)

	_, err = s.TopEntities(ctx, "u1", models.ActionButtonClick, "buttonId", "name'); DROP TABLE interaction_events", 10)
	require.Error(t, err)

	_, err = s.TopEntities(ctx, "u1", models.ActionButtonClick, "", "buttonText", 10)
	require.Error(t, err)
}

func TestValidMetadataKey(t *testing.T) {
	assert.True(t, validMetadataKey("buttonId"))
	assert.True(t, validMetadataKey("phone_name_2"))
	assert.False(t, validMetadataKey(""))
	assert.False(t, validMetadataKey("a.b"))
	assert.False(t, validMetadataKey("a'b"))
	assert.False(t, validMetadataKey("a b"))
}
