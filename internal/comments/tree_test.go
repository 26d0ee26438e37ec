package comments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialsync/internal/models"
)

func ptr(s string) *string { return &s }

func TestAssemble_TwoRepliesAndExcludedNestedReply(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	root := models.Comment{ID: "C1", PostID: "p1", CreatedAt: base}
	r1 := models.Comment{ID: "R1", PostID: "p1", ParentCommentID: ptr("C1"), CreatedAt: base.Add(2 * time.Minute)}
	r2 := models.Comment{ID: "R2", PostID: "p1", ParentCommentID: ptr("C1"), CreatedAt: base.Add(time.Minute)}
	nested := models.Comment{ID: "R3", PostID: "p1", ParentCommentID: ptr("R1"), CreatedAt: base.Add(3 * time.Minute)}

	threads := Assemble([]models.Comment{root}, []models.Comment{r1, r2, nested})

	require.Len(t, threads, 1)
	assert.Equal(t, "C1", threads[0].ID)
	require.Len(t, threads[0].Replies, 2)
	assert.Equal(t, "R2", threads[0].Replies[0].ID)
	assert.Equal(t, "R1", threads[0].Replies[1].ID)
}

func TestBuild_FromFlatList(t *testing.T) {
	base := time.Now()
	all := []models.Comment{
		{ID: "a", CreatedAt: base},
		{ID: "b", CreatedAt: base.Add(time.Second)},
		{ID: "a1", ParentCommentID: ptr("a"), CreatedAt: base.Add(2 * time.Second)},
		{ID: "orphan", ParentCommentID: ptr("missing"), CreatedAt: base},
		{ID: "a1", ParentCommentID: ptr("a"), CreatedAt: base.Add(2 * time.Second)},
	}

	threads := Build(all)
	require.Len(t, threads, 2)
	assert.Equal(t, "b", threads[0].ID)
	assert.Empty(t, threads[0].Replies)
	assert.Equal(t, "a", threads[1].ID)
	assert.Len(t, threads[1].Replies, 1)
}

func TestAssemble_DropsReplyFromAnotherPost(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	root := models.Comment{ID: "C1", PostID: "p1", CreatedAt: base}
	own := models.Comment{ID: "R1", PostID: "p1", ParentCommentID: ptr("C1"), CreatedAt: base.Add(time.Minute)}
	stray := models.Comment{ID: "R2", PostID: "p2", ParentCommentID: ptr("C1"), CreatedAt: base.Add(2 * time.Minute)}

	threads := Assemble([]models.Comment{root}, []models.Comment{stray, own})

	require.Len(t, threads, 1)
	require.Len(t, threads[0].Replies, 1)
	assert.Equal(t, "R1", threads[0].Replies[0].ID)
}

func TestAssemble_Empty(t *testing.T) {
	assert.Empty(t, Assemble(nil, nil))
}

func TestValidateParent(t *testing.T) {
	assert.NoError(t, ValidateParent(models.Comment{ID: "c1", PostID: "p1"}, "p1"))

	err := ValidateParent(models.Comment{ID: "r1", PostID: "p1", ParentCommentID: ptr("c1")}, "p1")
	assert.ErrorIs(t, err, models.ErrMalformedReply)

	err = ValidateParent(models.Comment{ID: "c1", PostID: "p2"}, "p1")
	assert.True(t, models.IsMalformed(err))
}
