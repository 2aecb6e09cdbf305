package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRubricCache_ParsesAndReuses(t *testing.T) {
	cache := NewRubricCache()
	row := &RubricRow{
		ID:        "rubric-1",
		Criteria:  `[{"name":"Clarity","maxScore":40},{"name":"Depth","maxScore":60}]`,
		UpdatedAt: time.Now(),
	}

	criteria, err := cache.Criteria(row)
	require.NoError(t, err)
	require.Len(t, criteria, 2)
	assert.Equal(t, "Clarity", criteria[0].Name)

	// Garbage in the column no longer matters once the entry is cached.
	row.Criteria = "not json"
	again, err := cache.Criteria(row)
	require.NoError(t, err)
	assert.Equal(t, criteria, again)
}

func TestRubricCache_UpdatedRowBypassesStaleEntry(t *testing.T) {
	cache := NewRubricCache()
	row := &RubricRow{
		ID:        "rubric-1",
		Criteria:  `[{"name":"Clarity","maxScore":40}]`,
		UpdatedAt: time.Now(),
	}

	first, err := cache.Criteria(row)
	require.NoError(t, err)
	require.Len(t, first, 1)

	row.Criteria = `[{"name":"Clarity","maxScore":40},{"name":"Depth","maxScore":60}]`
	row.UpdatedAt = row.UpdatedAt.Add(time.Second)

	second, err := cache.Criteria(row)
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestRubricCache_InvalidCriteria(t *testing.T) {
	cache := NewRubricCache()
	row := &RubricRow{ID: "rubric-1", Criteria: "{", UpdatedAt: time.Now()}

	_, err := cache.Criteria(row)
	assert.Error(t, err)
}

func TestRubricCache_Invalidate(t *testing.T) {
	cache := NewRubricCache()
	row := &RubricRow{
		ID:        "rubric-1",
		Criteria:  `[{"name":"Clarity","maxScore":40}]`,
		UpdatedAt: time.Now(),
	}
	_, err := cache.Criteria(row)
	require.NoError(t, err)

	cache.Invalidate("rubric-1")

	row.Criteria = "not json"
	_, err = cache.Criteria(row)
	assert.Error(t, err, "invalidated entry must be re-parsed")
}
