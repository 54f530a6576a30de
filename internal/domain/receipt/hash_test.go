package receipt

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncgate/internal/domain/principal"
)

func TestComputeHashIsDeterministic(t *testing.T) {
	taskID := uuid.New()
	in := HashInput{
		Type:   TypeTaskCompleted,
		TaskID: &taskID,
		From:   principal.Worker("w-1"),
		To:     principal.Gate,
		Body:   map[string]any{"b": 2, "a": 1},
	}
	h1, err := ComputeHash(in)
	require.NoError(t, err)
	h2, err := ComputeHash(HashInput{
		Type:   TypeTaskCompleted,
		TaskID: &taskID,
		From:   principal.Worker("w-1"),
		To:     principal.Gate,
		Body:   map[string]any{"a": 1, "b": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "body key order must not affect the hash")
	assert.Len(t, h1, 64)
}

func TestComputeHashParentOrderInsensitive(t *testing.T) {
	p1, p2 := uuid.New(), uuid.New()
	base := HashInput{
		Type: TypeTaskCompleted,
		From: principal.Worker("w-1"),
		To:   principal.Gate,
	}

	a := base
	a.Parents = []uuid.UUID{p1, p2}
	b := base
	b.Parents = []uuid.UUID{p2, p1}

	ha, err := ComputeHash(a)
	require.NoError(t, err)
	hb, err := ComputeHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "parents are an unordered set for identity purposes")
}

func TestComputeHashCoversParents(t *testing.T) {
	base := HashInput{
		Type: TypeTaskCompleted,
		From: principal.Worker("w-1"),
		To:   principal.Gate,
		Body: map[string]any{"artifacts": []any{"s3://out"}},
	}
	withParent := base
	withParent.Parents = []uuid.UUID{uuid.New()}

	h1, err := ComputeHash(base)
	require.NoError(t, err)
	h2, err := ComputeHash(withParent)
	require.NoError(t, err)

	// Two discharges with identical bodies against different obligations must
	// not collide, or the second would silently dedup away.
	assert.NotEqual(t, h1, h2)
}

func TestComputeHashDistinguishesFields(t *testing.T) {
	taskID := uuid.New()
	base := HashInput{
		Type:   TypeTaskProgress,
		TaskID: &taskID,
		From:   principal.Worker("w-1"),
		To:     principal.Gate,
	}
	h0, err := ComputeHash(base)
	require.NoError(t, err)

	typ := base
	typ.Type = TypeTaskCompleted
	from := base
	from.From = principal.Worker("w-2")
	body := base
	body.Body = map[string]any{"step": 1}

	for name, in := range map[string]HashInput{"type": typ, "from": from, "body": body} {
		h, err := ComputeHash(in)
		require.NoError(t, err)
		assert.NotEqual(t, h0, h, "changing %s must change the hash", name)
	}
}

func TestCanonicalBody(t *testing.T) {
	canonical, err := CanonicalBody(map[string]any{"z": 1, "a": map[string]any{"y": 2, "b": 3}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":3,"y":2},"z":1}`, string(canonical), "keys sorted at every level, compact encoding")

	empty, err := CanonicalBody(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(empty))
}
