package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeduper(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewMemoryDeduper()
	d.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := d.Claim(ctx, "permanence:a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = d.Claim(ctx, "permanence:a", time.Hour)
	assert.False(t, ok, "live claim")

	now = now.Add(30 * time.Minute)
	ok, _ = d.Claim(ctx, "clearance_sla:a", time.Hour)
	assert.True(t, ok, "keys are independent")

	now = now.Add(30 * time.Minute)
	ok, _ = d.Claim(ctx, "permanence:a", time.Hour)
	assert.True(t, ok, "expired claim")
	assert.Len(t, d.claims, 2, "live claims survive the sweep")

	ok, _ = d.Claim(ctx, "clearance_sla:a", time.Hour)
	assert.False(t, ok, "still inside its window")

	now = now.Add(time.Hour)
	ok, _ = d.Claim(ctx, "rejected_entry:a", time.Hour)
	assert.True(t, ok)
	assert.Len(t, d.claims, 1, "expired claims are swept")
}
