package database

import (
	"testing"

	modelspkg "parley/internal/models"

	"github.com/stretchr/testify/require"
)

func TestPersistentModels_IncludesVisibilityExceptions(t *testing.T) {
	found := false
	for _, model := range PersistentModels() {
		if _, ok := model.(*modelspkg.MessageVisibility); ok {
			found = true
			break
		}
	}
	require.True(t, found, "PersistentModels should include MessageVisibility")
}
