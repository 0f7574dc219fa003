package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldJSON(t *testing.T) {
	var patch TaskPatch
	require.NoError(t, json.Unmarshal([]byte(`{"title":"new","priority":null}`), &patch))

	title, ok := patch.Title.Get()
	assert.True(t, ok)
	assert.Equal(t, "new", title)
	assert.True(t, patch.Priority.IsClear())
	assert.True(t, patch.Description.IsUnchanged())
	assert.Equal(t, []string{"title", "priority"}, patch.Changed())
	assert.False(t, patch.Empty())

	require.NoError(t, json.Unmarshal([]byte(`{}`), &patch))
	assert.False(t, patch.Empty(), "unmarshal into a used patch keeps earlier fields")

	var fresh TaskPatch
	require.NoError(t, json.Unmarshal([]byte(`{}`), &fresh))
	assert.True(t, fresh.Empty())

	var bad TaskPatch
	assert.Error(t, json.Unmarshal([]byte(`{"priority":"high"}`), &bad))
}

func TestFieldApply(t *testing.T) {
	cur := 3
	assert.Equal(t, &cur, Unchanged[int]().Apply(&cur))
	assert.Nil(t, Clear[int]().Apply(&cur))
	got := Set(5).Apply(&cur)
	require.NotNil(t, got)
	assert.Equal(t, 5, *got)
	assert.Equal(t, 3, cur)

	out, err := json.Marshal(Clear[string]())
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestCardStateFor(t *testing.T) {
	cases := []struct {
		completed, total int
		want             CardState
	}{
		{0, 0, CardPendiente},
		{0, 4, CardPendiente},
		{1, 4, CardEnCurso},
		{3, 4, CardEnCurso},
		{4, 4, CardCerrada},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_of_%d", tc.completed, tc.total), func(t *testing.T) {
			assert.Equal(t, tc.want, CardStateFor(tc.completed, tc.total))
		})
	}
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusAvailable, StatusClaimed))
	assert.True(t, CanTransition(StatusClaimed, StatusCompleted))
	assert.True(t, CanTransition(StatusClaimed, StatusAvailable))
	assert.False(t, CanTransition(StatusAvailable, StatusCompleted))
	assert.False(t, CanTransition(StatusCompleted, StatusAvailable))
	assert.False(t, CanTransition(StatusCompleted, StatusClaimed))

	assert.True(t, ValidTargetState(ResourceTask, "completed"))
	assert.False(t, ValidTargetState(ResourceTask, "cerrada"))
	assert.True(t, ValidTargetState(ResourceCard, "cerrada"))
	assert.False(t, ValidTargetState(ResourceCard, "claimed"))

	_, err := ParseResourceType("milestone")
	assert.Error(t, err)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("claim: %w", ClaimOwnershipConflict("u7"))
	assert.ErrorIs(t, err, ErrClaimOwnershipConflict)
	assert.NotErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, KindClaimOwnershipConflict, KindOf(err))
	claimant, ok := ClaimantOf(err)
	assert.True(t, ok)
	assert.Equal(t, "u7", claimant)
	assert.Contains(t, err.Error(), "u7")

	_, ok = ClaimantOf(VersionConflict(3, 4))
	assert.False(t, ok)

	assert.ErrorIs(t, SessionClosed("s1"), ErrInvalidTransition)

	raw := errors.New("disk full")
	wrapped := DBError(raw)
	assert.ErrorIs(t, wrapped, ErrDB)
	assert.ErrorIs(t, wrapped, raw)
	notFound := NotFound("task x")
	assert.Same(t, notFound, DBError(notFound))
	assert.Nil(t, DBError(nil))
	assert.Equal(t, ErrorKind(""), KindOf(raw))
}

func TestTaskEvent(t *testing.T) {
	rule := "r1"
	typ := "feature"
	from := StatusClaimed
	ev := TaskEvent(Task{ID: "t1", ProjectID: "p", Status: StatusCompleted, TypeID: &typ, CreatedFromRuleID: &rule}, "u1", &from)
	assert.Equal(t, ResourceTask, ev.ResourceType)
	assert.Equal(t, "completed", ev.ToState)
	require.NotNil(t, ev.FromState)
	assert.Equal(t, "claimed", *ev.FromState)
	assert.Equal(t, &rule, ev.SpawnedBy)

	cev := CardEvent(Card{ID: "c1", ProjectID: "p", State: CardCerrada}, "u1", CardEnCurso)
	assert.Equal(t, "cerrada", cev.ToState)
	assert.Equal(t, "en_curso", *cev.FromState)
}
