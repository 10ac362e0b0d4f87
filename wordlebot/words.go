package wordlebot

import (
	"bufio"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const (
	columnWordID   = "id"
	columnWordWord = "word"

	wordImportBatchSize = 500
)

var (
	ErrWordNotFound = errors.New("word not found")
)

//go:embed default_words.txt
var defaultWordList string

// Word is a candidate target word. IDs are dense, starting at 1, so that
// [TargetID] can address every word by its position.
type Word struct {
	ID        int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Word      string `gorm:"uniqueIndex;not null;size:16" json:"word"`
	CreatedAt int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

// WordStore is the read side of the word list used when evaluating a round
type WordStore interface {
	// Count returns the number of words in the store
	Count(ctx context.Context) (int64, error)

	// WordByID returns the word with the given ID, or [ErrWordNotFound]
	WordByID(ctx context.Context, id int64) (string, error)

	// CountMatching returns the number of words exactly matching word
	CountMatching(ctx context.Context, word string) (int64, error)
}

// WordImportResult summarizes a call to [GormWordStore.Import]
type WordImportResult struct {
	Added      int      `json:"added"`
	Duplicates int      `json:"duplicates"`
	Invalid    []string `json:"invalid,omitempty"`
	Total      int64    `json:"total"`
}

// GormWordStore implements [WordStore] on top of the `words` table.
//
// Count is cached for countTTL, since it's needed for every guess but only
// changes when words are imported. Imports on this instance invalidate the
// cache immediately, and other instances are told via [DBNotifier].
type GormWordStore struct {
	db       DBI
	countTTL time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	count     int64
	countedAt time.Time
	now       func() time.Time
}

func NewWordStore(db DBI, countTTL time.Duration, logger *slog.Logger) *GormWordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GormWordStore{
		db:       db,
		countTTL: countTTL,
		logger:   logger.With(loggerNameKey, "word_store"),
		now:      time.Now,
	}
}

func (s *GormWordStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countTTL > 0 && !s.countedAt.IsZero() && s.now().Sub(s.countedAt) < s.countTTL {
		return s.count, nil
	}

	ctx, cancel := dbContext(ctx)
	defer cancel()

	var count int64
	if err := s.db.DB().WithContext(ctx).Model(&Word{}).Count(&count).Error; err != nil {
		return 0, err
	}
	s.count = count
	s.countedAt = s.now()
	return count, nil
}

// Invalidate drops the cached word count
func (s *GormWordStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countedAt = time.Time{}
	s.logger.Debug("word count cache invalidated")
}

func (s *GormWordStore) WordByID(ctx context.Context, id int64) (string, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var w Word
	err := s.db.DB().WithContext(ctx).Where(columnWordID+" = ?", id).Take(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: %d", ErrWordNotFound, id)
		}
		return "", err
	}
	return w.Word, nil
}

func (s *GormWordStore) CountMatching(ctx context.Context, word string) (int64, error) {
	ctx, cancel := dbContext(ctx)
	defer cancel()

	var count int64
	err := s.db.DB().WithContext(ctx).
		Model(&Word{}).
		Where(columnWordWord+" = ?", word).
		Count(&count).Error
	return count, err
}

// Import adds the given words to the store. Words are trimmed and
// lowercased. Words which aren't [WordLength] ASCII letters are reported
// in [WordImportResult.Invalid], and words already in the store (or
// repeated in the input) are skipped. New words get IDs continuing from
// the current maximum ID, which keeps the ID range dense.
func (s *GormWordStore) Import(ctx context.Context, words []string) (WordImportResult, error) {
	var result WordImportResult

	seen := make(map[string]struct{}, len(words))
	candidates := make([]string, 0, len(words))
	for _, w := range words {
		w = normalizeWord(w)
		if w == "" {
			continue
		}
		if !isWordShape(w) {
			result.Invalid = append(result.Invalid, w)
			continue
		}
		if _, ok := seen[w]; ok {
			result.Duplicates++
			continue
		}
		seen[w] = struct{}{}
		candidates = append(candidates, w)
	}

	err := s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			var existing []string
			for _, chunk := range chunkItems(wordImportBatchSize, candidates...) {
				var found []string
				if err := tx.Model(&Word{}).
					Where(columnWordWord+" IN ?", chunk).
					Pluck(columnWordWord, &found).Error; err != nil {
					return fmt.Errorf("error checking existing words: %w", err)
				}
				existing = append(existing, found...)
			}
			for _, w := range existing {
				delete(seen, w)
			}

			var maxID int64
			if err := tx.Model(&Word{}).
				Select("COALESCE(MAX(" + columnWordID + "), 0)").
				Scan(&maxID).Error; err != nil {
				return fmt.Errorf("error getting max word id: %w", err)
			}

			newWords := make([]Word, 0, len(seen))
			for _, w := range candidates {
				if _, ok := seen[w]; !ok {
					result.Duplicates++
					continue
				}
				maxID++
				newWords = append(newWords, Word{ID: maxID, Word: w})
			}
			if len(newWords) > 0 {
				if err := tx.CreateInBatches(newWords, wordImportBatchSize).Error; err != nil {
					return fmt.Errorf("error inserting words: %w", err)
				}
			}
			result.Added = len(newWords)
			result.Total = maxID
			return nil
		},
	)
	if err != nil {
		return result, err
	}

	s.Invalidate()
	s.logger.InfoContext(
		ctx,
		"imported words",
		"added", result.Added,
		"duplicates", result.Duplicates,
		"invalid", len(result.Invalid),
		"total", result.Total,
	)
	return result, nil
}

// ReadWordList reads one word per line from r. Blank lines and lines
// starting with '#' are skipped.
func ReadWordList(r io.Reader) ([]string, error) {
	var words []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	return words, scanner.Err()
}

// DefaultWords returns the embedded word list used to seed new databases
func DefaultWords() []string {
	words, err := ReadWordList(strings.NewReader(defaultWordList))
	if err != nil {
		slog.Default().Error("error reading embedded word list", tint.Err(err))
	}
	return words
}

func normalizeWord(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// isWordShape reports whether s is exactly [WordLength] lowercase
// ASCII letters
func isWordShape(s string) bool {
	if len(s) != WordLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
