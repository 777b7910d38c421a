package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestName_AnchoredPath(t *testing.T) {
	name, err := Name("/home/user/projects/my-cool-app")
	require.NoError(t, err)
	assert.Equal(t, "my_cool_app", name)
}

func TestName_FallsBackToLastComponent(t *testing.T) {
	name, err := Name("/var/data/widgets")
	require.NoError(t, err)
	assert.Equal(t, "widgets", name)
}

func TestName_EmptyPathIsError(t *testing.T) {
	_, err := Name("")
	assert.ErrorIs(t, err, ErrEmptyProjectPath)
}

func TestName_IsStableAcrossRepeatedCalls(t *testing.T) {
	first, err := Name("/home/user/code/reflectd")
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		again, err := Name("/home/user/code/reflectd")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestCollectionName_IsDeterministicAndInjective(t *testing.T) {
	a := CollectionName("project_a", "local")
	b := CollectionName("project_b", "local")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, CollectionName("project_a", "local"))
	assert.Regexp(t, `^conv_[0-9a-f]{8}_local$`, a)
}

func TestCollectionFor_SameProjectSameCollectionRegardlessOfCaller(t *testing.T) {
	p1, c1, err := CollectionFor("/home/user/projects/app", "voyage")
	require.NoError(t, err)
	p2, c2, err := CollectionFor("/home/user/projects/app", "voyage")
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, c1, c2)
}
