package canonical

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialsync/internal/models"
)

func TestResolve_Symmetric(t *testing.T) {
	for i := 0; i < 50; i++ {
		a, b := uuid.NewString(), uuid.NewString()
		ab, err := Resolve(a, b)
		require.NoError(t, err)
		ba, err := Resolve(b, a)
		require.NoError(t, err)

		assert.Equal(t, ab, ba)
		assert.True(t, ab.Lo < ab.Hi)
		assert.True(t, ab.Contains(a))
		assert.True(t, ab.Contains(b))
	}
}

func TestResolve_RejectsSelf(t *testing.T) {
	_, err := Resolve("u1", "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSelfRelationship)
	assert.True(t, models.IsMalformed(err))

	_, err = Resolve("", "u1")
	assert.True(t, models.IsMalformed(err))
}

func TestPair_Other(t *testing.T) {
	p, err := Resolve("bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, Pair{Lo: "alice", Hi: "bob"}, p)

	other, ok := p.Other("alice")
	assert.True(t, ok)
	assert.Equal(t, "bob", other)

	_, ok = p.Other("carol")
	assert.False(t, ok)

	c := p.Conversation()
	assert.Equal(t, p, Of(c))
}
