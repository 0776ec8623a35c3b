package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		entity Entity
		column string
	}{
		{EntitySourceSite, "site"},
		{EntityTransmission, "name"},
		{EntityBody, "kr_name"},
		{EntityMark, "kr_name"},
		{EntityModel, "kr_name"},
		{EntityGearbox, "kr_name"},
		{EntityFuelType, "kr_name"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.column, tc.entity.Column(), tc.entity)
		assert.True(t, tc.entity.Valid())
	}
	assert.False(t, Entity("cars; DROP TABLE cars").Valid())
	assert.Len(t, Entities, 7)
}

func TestRunCountsAdd(t *testing.T) {
	t.Parallel()

	total := RunCounts{Listings: 2, Inserted: 1}
	total.Add(RunCounts{Listings: 3, Restored: 2, Skipped: 1, Failed: 1, Swept: 4})
	assert.Equal(t, RunCounts{Listings: 5, Inserted: 1, Restored: 2, Skipped: 1, Failed: 1, Swept: 4}, total)
}
