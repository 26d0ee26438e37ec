package database

import (
	"context"
	"testing"

	modelspkg "socialsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestPersistentModels_IncludesSyncedTables(t *testing.T) {
	var follows, memberships bool
	for _, model := range PersistentModels() {
		switch model.(type) {
		case *modelspkg.Follow:
			follows = true
		case *modelspkg.Membership:
			memberships = true
		}
	}
	require.True(t, follows, "PersistentModels should include Follow")
	require.True(t, memberships, "PersistentModels should include Membership")
}

func TestMigrate_SQLiteEnforcesConstraints(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(context.Background(), db))

	like := modelspkg.Like{SubjectType: modelspkg.SubjectPost, SubjectID: "p1", UserID: "u1"}
	require.NoError(t, db.Create(&like).Error)
	dup := like
	err = db.Create(&dup).Error
	require.Error(t, err)
	assert.True(t, modelspkg.IsUniqueViolation(err))

	err = db.Create(&modelspkg.Follow{FollowerID: "u1", FollowingID: "u1"}).Error
	assert.Error(t, err, "self follow must violate the check constraint")

	c1 := modelspkg.Conversation{Participant1: "a", Participant2: "b"}
	require.NoError(t, db.Create(&c1).Error)
	err = db.Create(&modelspkg.Conversation{Participant1: "a", Participant2: "b"}).Error
	assert.True(t, modelspkg.IsUniqueViolation(err))
}
