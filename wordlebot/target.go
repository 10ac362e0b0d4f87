package wordlebot

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// dateKeyLayout is the ISO calendar date used when seeding
	// target selection. There's no time-of-day component.
	dateKeyLayout = time.DateOnly

	// TargetAlgorithm identifies the hash-to-range function used by
	// [TargetID]. Changing the function changes every future daily word,
	// so a new function needs a new identifier.
	TargetAlgorithm = "v1"
)

// DateKey returns the YYYY-MM-DD date for t in the given location.
// A nil location uses t's own location.
func DateKey(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format(dateKeyLayout)
}

// TargetID maps (serverID, dateKey) onto a word ID in [1, wordCount].
//
// v1: SHA-256 over the UTF-8 bytes of serverID followed by dateKey. The
// first 8 bytes of the digest are read as a big-endian uint64, reduced
// modulo wordCount, and shifted up by one.
//
// Returns 0 if wordCount is less than 1.
func TargetID(serverID string, dateKey string, wordCount int64) int64 {
	if wordCount < 1 {
		return 0
	}
	sum := sha256.Sum256([]byte(serverID + dateKey))
	n := binary.BigEndian.Uint64(sum[:8])
	return int64(n%uint64(wordCount)) + 1
}

// SelectTarget returns the target word for the given server and date key.
// Any failure querying the store, an empty store, or an ID missing from
// the store is reported as [ErrStoreUnavailable].
func SelectTarget(
	ctx context.Context,
	store WordStore,
	serverID string,
	dateKey string,
) (string, error) {
	count, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: counting words: %w", ErrStoreUnavailable, err)
	}
	if count < 1 {
		return "", fmt.Errorf("%w: no words loaded", ErrStoreUnavailable)
	}

	id := TargetID(serverID, dateKey, count)
	word, err := store.WordByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrWordNotFound) {
			return "", fmt.Errorf(
				"%w: target id %d not found (word ids must be dense from 1 to %d)",
				ErrStoreUnavailable,
				id,
				count,
			)
		}
		return "", fmt.Errorf("%w: getting word %d: %w", ErrStoreUnavailable, id, err)
	}
	return word, nil
}
