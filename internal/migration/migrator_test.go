package migration

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMigratorValidation(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	_, err := NewMigrator(nil, logger,
		Migration{Version: 1, Name: "a", Statements: []string{"SELECT 1"}},
		Migration{Version: 2, Name: "b", Statements: []string{"SELECT 1"}},
	)
	require.NoError(t, err)

	_, err = NewMigrator(nil, logger,
		Migration{Version: 2, Name: "a", Statements: []string{"SELECT 1"}},
		Migration{Version: 2, Name: "b", Statements: []string{"SELECT 1"}},
	)
	assert.Error(t, err, "duplicate versions")

	_, err = NewMigrator(nil, logger, Migration{Version: 0, Name: "zero", Statements: []string{"SELECT 1"}})
	assert.Error(t, err, "zero version")

	_, err = NewMigrator(nil, logger, Migration{Version: 1, Name: "empty"})
	assert.Error(t, err, "no statements")
}

func TestPending(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "one"},
		{Version: 2, Name: "two"},
		{Version: 3, Name: "three"},
	}

	pending := Pending(migrations, map[int]bool{1: true, 3: true})
	require.Len(t, pending, 1)
	assert.Equal(t, "two", pending[0].Name)

	assert.Len(t, Pending(migrations, nil), 3)
	assert.Empty(t, Pending(migrations, map[int]bool{1: true, 2: true, 3: true}))
}
