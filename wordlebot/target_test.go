package wordlebot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetID(t *testing.T) {
	testCases := []struct {
		serverID  string
		dateKey   string
		wordCount int64
		expected  int64
	}{
		{"guild-1", "2024-10-17", 10, 5},
		{"guild-1", "2024-10-18", 10, 7},
		{"guild-2", "2024-10-17", 10, 1},
		{"guild-1", "2024-10-17", 491, 268},
		{"123456789012345678", "2025-01-01", 2315, 1469},
	}
	for _, tc := range testCases {
		t.Run(
			tc.serverID+"/"+tc.dateKey, func(t *testing.T) {
				assert.Equal(t, tc.expected, TargetID(tc.serverID, tc.dateKey, tc.wordCount))
			},
		)
	}
}

func TestTargetID_Range(t *testing.T) {
	for _, count := range []int64{1, 2, 7, 491} {
		for day := 1; day <= 28; day++ {
			dateKey := time.Date(2024, time.February, day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly)
			id := TargetID("guild-1", dateKey, count)
			assert.GreaterOrEqual(t, id, int64(1))
			assert.LessOrEqual(t, id, count)
		}
	}
	assert.Equal(t, int64(0), TargetID("guild-1", "2024-10-17", 0))
	assert.Equal(t, int64(0), TargetID("guild-1", "2024-10-17", -1))
}

func TestDateKey(t *testing.T) {
	ts := time.Date(2024, time.October, 18, 3, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-10-18", DateKey(ts, nil))
	assert.Equal(t, "2024-10-18", DateKey(ts, time.UTC))

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-17", DateKey(ts, chicago))
}

// fakeWordStore is an in-memory WordStore. countMatchingCalls counts
// calls to CountMatching.
type fakeWordStore struct {
	words              []string
	countErr           error
	wordErr            error
	matchErr           error
	countOverride      int64
	countMatchingCalls int
	countMatchingWords []string
}

func (f *fakeWordStore) Count(context.Context) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	if f.countOverride > 0 {
		return f.countOverride, nil
	}
	return int64(len(f.words)), nil
}

func (f *fakeWordStore) WordByID(_ context.Context, id int64) (string, error) {
	if f.wordErr != nil {
		return "", f.wordErr
	}
	if id < 1 || id > int64(len(f.words)) {
		return "", ErrWordNotFound
	}
	return f.words[id-1], nil
}

func (f *fakeWordStore) CountMatching(_ context.Context, word string) (int64, error) {
	f.countMatchingCalls++
	f.countMatchingWords = append(f.countMatchingWords, word)
	if f.matchErr != nil {
		return 0, f.matchErr
	}
	var n int64
	for _, w := range f.words {
		if w == word {
			n++
		}
	}
	return n, nil
}

func TestSelectTarget(t *testing.T) {
	store := &fakeWordStore{words: testWords}
	ctx := context.Background()

	word, err := SelectTarget(ctx, store, "guild-1", "2024-10-17")
	require.NoError(t, err)
	assert.Equal(t, testWords[4], word)

	again, err := SelectTarget(ctx, store, "guild-1", "2024-10-17")
	require.NoError(t, err)
	assert.Equal(t, word, again)

	next, err := SelectTarget(ctx, store, "guild-1", "2024-10-18")
	require.NoError(t, err)
	assert.Equal(t, testWords[6], next)
}

func TestSelectTarget_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run(
		"count error", func(t *testing.T) {
			store := &fakeWordStore{words: testWords, countErr: errTest}
			_, err := SelectTarget(ctx, store, "guild-1", "2024-10-17")
			assert.ErrorIs(t, err, ErrStoreUnavailable)
			assert.ErrorIs(t, err, errTest)
		},
	)

	t.Run(
		"empty store", func(t *testing.T) {
			_, err := SelectTarget(ctx, &fakeWordStore{}, "guild-1", "2024-10-17")
			assert.ErrorIs(t, err, ErrStoreUnavailable)
		},
	)

	t.Run(
		"sparse ids", func(t *testing.T) {
			store := &fakeWordStore{words: testWords[:2], countOverride: 10}
			_, err := SelectTarget(ctx, store, "guild-1", "2024-10-17")
			assert.ErrorIs(t, err, ErrStoreUnavailable)
		},
	)

	t.Run(
		"lookup error", func(t *testing.T) {
			store := &fakeWordStore{words: testWords, wordErr: errTest}
			_, err := SelectTarget(ctx, store, "guild-1", "2024-10-17")
			assert.ErrorIs(t, err, ErrStoreUnavailable)
			assert.ErrorIs(t, err, errTest)
		},
	)
}
