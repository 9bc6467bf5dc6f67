package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/mili-llama-api/internal/models"
)

func TestMongoIndexesCoverStoredFields(t *testing.T) {
	stored := map[string]map[string]any{
		models.CollectionSchools:     models.School{}.Fields(),
		models.CollectionAssignments: models.Assignment{}.Fields(),
		models.CollectionTeachers:    models.Teacher{}.Fields(),
		models.CollectionUsers:       models.User{}.Fields(),
	}
	for collection, fields := range mongoIndexes {
		written, ok := stored[collection]
		require.True(t, ok, collection)
		for _, field := range fields {
			assert.Contains(t, written, field, "%s.%s", collection, field)
		}
	}
	assert.ElementsMatch(t, []string{"emailAddress", "googleSub"}, mongoIndexes[models.CollectionUsers])
}
