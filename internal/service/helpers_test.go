package service

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-compass/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.ModelingSubmission{},
		&models.ModelingResult{},
		&models.ModelingFeedback{},
		&models.ModelAssessmentConflict{},
		&models.ActivityLog{},
	))
	return db
}

// classDiagram renders a class diagram whose classes get the ids c1..cN.
func classDiagram(names ...string) []byte {
	elements := make([]string, 0, len(names))
	for i, name := range names {
		elements = append(elements, fmt.Sprintf(`{"id": "c%d", "name": %q, "type": "Class"}`, i+1, name))
	}
	return []byte(fmt.Sprintf(`{"type": "ClassDiagram", "elements": [%s], "relationships": []}`, strings.Join(elements, ",")))
}

func ptrUint(v uint) *uint {
	return &v
}
