package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"socialsync/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikeRepository_InsertRederivesPostCount(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	author := r.user(t, "author")
	fan := r.user(t, "fan")
	post := r.post(t, author.ID)
	r.pub.reset()

	like := models.Like{SubjectType: models.SubjectPost, SubjectID: post.ID, UserID: fan.ID}
	require.NoError(t, r.likes.Insert(ctx, &like))

	got, err := r.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.LikeCount)

	assert.Equal(t, []string{"likes/insert", "posts/update"}, r.pub.tables())
	events := r.pub.all()
	assert.Contains(t, events[0].Scopes, models.Scope{Name: models.ScopeUser, Value: fan.ID})
	assert.Contains(t, events[0].Scopes, models.Scope{Name: models.ScopeSubject, Value: "post:" + post.ID})
	assert.Equal(t, 1, decode[models.Post](t, events[1].Event).LikeCount)
}

func TestLikeRepository_DuplicateInsertIsUniqueViolation(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	author := r.user(t, "author")
	post := r.post(t, author.ID)

	like := models.Like{SubjectType: models.SubjectPost, SubjectID: post.ID, UserID: author.ID}
	require.NoError(t, r.likes.Insert(ctx, &like))
	r.pub.reset()

	dup := like
	err := r.likes.Insert(ctx, &dup)
	require.Error(t, err)
	assert.True(t, models.IsUniqueViolation(err))
	assert.Empty(t, r.pub.all(), "a rolled back write publishes nothing")

	got, err := r.posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.LikeCount)
}

func TestLikeRepository_Delete(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	author := r.user(t, "author")
	post := r.post(t, author.ID)
	subject := models.Subject{Type: models.SubjectPost, ID: post.ID}

	require.NoError(t, r.likes.Insert(ctx, &models.Like{SubjectType: subject.Type, SubjectID: subject.ID, UserID: author.ID}))
	r.pub.reset()

	require.NoError(t, r.likes.Delete(ctx, subject, author.ID))
	assert.Equal(t, []string{"likes/delete", "posts/update"}, r.pub.tables())

	deleted := decode[models.Like](t, r.pub.all()[0].Event)
	assert.Equal(t, models.LikeKey(subject, author.ID), deleted.Key())

	err := r.likes.Delete(ctx, subject, author.ID)
	assert.True(t, models.IsNotFound(err))

	_, err = r.likes.Get(ctx, subject, author.ID)
	assert.True(t, models.IsNotFound(err))
}

func TestLikeRepository_MissingSubjectRollsBack(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	u := r.user(t, "u")

	err := r.likes.Insert(ctx, &models.Like{SubjectType: models.SubjectPost, SubjectID: "missing", UserID: u.ID})
	assert.True(t, models.IsNotFound(err))

	likes, err := r.likes.ListByUser(ctx, u.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, likes)
}

func TestLikeRepository_ListByUserIsBoundedNewestFirst(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	author := r.user(t, "author")
	fan := r.user(t, "fan")
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		p := r.post(t, author.ID)
		ids = append(ids, p.ID)
		like := models.Like{SubjectType: models.SubjectPost, SubjectID: p.ID, UserID: fan.ID, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, r.likes.Insert(ctx, &like))
	}

	likes, err := r.likes.ListByUser(ctx, fan.ID, 2)
	require.NoError(t, err)
	require.Len(t, likes, 2)
	assert.Equal(t, ids[2], likes[0].SubjectID)
	assert.Equal(t, ids[1], likes[1].SubjectID)

	all, err := r.likes.ListByUser(ctx, fan.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3, "a non-positive limit falls back to the page cap")
}

func TestLikeRepository_CommentLike(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	u := r.user(t, "u")
	post := r.post(t, u.ID)
	c := models.Comment{PostID: post.ID, AuthorID: u.ID, Text: "first"}
	require.NoError(t, r.comments.Create(ctx, &c))
	r.pub.reset()

	require.NoError(t, r.likes.Insert(ctx, &models.Like{SubjectType: models.SubjectComment, SubjectID: c.ID, UserID: u.ID}))
	assert.Equal(t, []string{"likes/insert", "comments/update"}, r.pub.tables())

	got, err := r.comments.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.LikeCount)
}

func TestLikeRepository_PostgresUniqueViolation(t *testing.T) {
	db, mock := setupMockDB(t)
	pub := &recorder{}
	repo := NewLikeRepository(db, pub, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "likes"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	err := repo.Insert(context.Background(), &models.Like{SubjectType: models.SubjectPost, SubjectID: "p1", UserID: "u1"})
	require.Error(t, err)
	assert.True(t, models.IsUniqueViolation(err))
	assert.Empty(t, pub.all())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikeRepository_PostgresRecountShape(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewLikeRepository(db, &recorder{}, nil)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "likes"`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "likes" WHERE subject_type = $1 AND subject_id = $2`)).
		WithArgs(string(models.SubjectPost), "p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "comments" WHERE post_id = $1`)).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "posts" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "posts" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author_id", "title", "like_count"}).AddRow("p1", "a", "t", 3))
	mock.ExpectCommit()

	err := repo.Insert(context.Background(), &models.Like{SubjectType: models.SubjectPost, SubjectID: "p1", UserID: "u1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLikeRepository_PublishFailureDoesNotFailWrite(t *testing.T) {
	r := setupRepos(t)
	ctx := context.Background()
	u := r.user(t, "u")
	post := r.post(t, u.ID)

	repo := NewLikeRepository(r.db, failingPublisher{}, nil)
	require.NoError(t, repo.Insert(ctx, &models.Like{SubjectType: models.SubjectPost, SubjectID: post.ID, UserID: u.ID}))

	_, err := repo.Get(ctx, models.Subject{Type: models.SubjectPost, ID: post.ID}, u.ID)
	assert.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) PublishChange(context.Context, models.ChangeEvent, ...models.Scope) error {
	return errors.New("redis down")
}
