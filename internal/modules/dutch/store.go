package dutch

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Word is one vocabulary entry.
type Word struct {
	ID            int64
	Dutch         string
	English       string
	Category      string
	Level         string
	Pronunciation string
	Example       string
	LastReviewed  *time.Time
	ReviewCount   int
	Mastery       float64
}

// Stats aggregates learning progress over a period.
type Stats struct {
	Period          string
	WordsLearned    int
	WordsReviewed   int
	TotalVocabulary int
	AverageMastery  float64 // percentage, one decimal
}

// Streak describes the current consecutive-day learning streak.
type Streak struct {
	CurrentStreak int
	NextMilestone int
}

// masteryStep is how much one review moves the mastery score, up on a
// correct answer and down on a wrong one, clamped to [0, 1].
const masteryStep = 0.1

// reviewThreshold: words at or above this mastery are considered learned and
// excluded from review batches.
const reviewThreshold = 0.8

// Store persists vocabulary and daily progress in SQLite.
type Store struct {
	db *sql.DB
	// now is injectable so streak tests can control the clock's date.
	now func() time.Time
}

// NewStore wraps an open database connection. Call Migrate before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vocabulary (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dutch_word TEXT NOT NULL,
			english_translation TEXT NOT NULL,
			category TEXT,
			level TEXT,
			pronunciation TEXT,
			example_sentence TEXT,
			added_date TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			last_reviewed TIMESTAMP,
			review_count INTEGER DEFAULT 0,
			mastery_score REAL DEFAULT 0.0
		)`,
		`CREATE TABLE IF NOT EXISTS daily_progress (
			date DATE PRIMARY KEY,
			words_learned INTEGER DEFAULT 0,
			words_reviewed INTEGER DEFAULT 0,
			streak_day INTEGER DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// Count returns the number of vocabulary entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vocabulary").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count vocabulary: %w", err)
	}
	return n, nil
}

// AddWord inserts a vocabulary entry and bumps today's words_learned.
func (s *Store) AddWord(ctx context.Context, w Word) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vocabulary
		(dutch_word, english_translation, category, level, pronunciation, example_sentence)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.Dutch, w.English, w.Category, w.Level, w.Pronunciation, w.Example)
	if err != nil {
		return 0, fmt.Errorf("failed to insert word: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	if err := s.bumpDaily(ctx, "words_learned"); err != nil {
		return 0, err
	}
	return id, nil
}

// Search finds words matching the query in either language, with optional
// category and CEFR-level filters. Results are capped at 20.
func (s *Store) Search(ctx context.Context, query, category, level string) ([]Word, error) {
	sqlStr := `
		SELECT id, dutch_word, english_translation, category, level,
		       pronunciation, example_sentence, last_reviewed, review_count, mastery_score
		FROM vocabulary
		WHERE (dutch_word LIKE ? OR english_translation LIKE ?)`
	args := []any{"%" + query + "%", "%" + query + "%"}
	if category != "" {
		sqlStr += " AND category = ?"
		args = append(args, category)
	}
	if level != "" {
		sqlStr += " AND level = ?"
		args = append(args, level)
	}
	sqlStr += " LIMIT 20"

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search vocabulary: %w", err)
	}
	defer rows.Close()
	return scanWords(rows)
}

// ReviewWords returns up to count words due for spaced repetition:
// mastery below the threshold, never-reviewed first, then oldest review,
// then lowest mastery.
func (s *Store) ReviewWords(ctx context.Context, count int) ([]Word, error) {
	if count <= 0 {
		count = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dutch_word, english_translation, category, level,
		       pronunciation, example_sentence, last_reviewed, review_count, mastery_score
		FROM vocabulary
		WHERE mastery_score < ?
		ORDER BY
			CASE WHEN last_reviewed IS NULL THEN 0 ELSE 1 END,
			last_reviewed ASC,
			mastery_score ASC
		LIMIT ?`, reviewThreshold, count)
	if err != nil {
		return nil, fmt.Errorf("failed to load review words: %w", err)
	}
	defer rows.Close()
	return scanWords(rows)
}

// RecordReview applies one review outcome: bump review_count, stamp
// last_reviewed, move mastery one step, and bump today's words_reviewed.
// Returns the updated word.
func (s *Store) RecordReview(ctx context.Context, wordID int64, correct bool) (*Word, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin review transaction: %w", err)
	}
	defer tx.Rollback()

	var mastery float64
	err = tx.QueryRowContext(ctx, "SELECT mastery_score FROM vocabulary WHERE id = ?", wordID).Scan(&mastery)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("word %d not found", wordID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load word %d: %w", wordID, err)
	}

	if correct {
		mastery += masteryStep
	} else {
		mastery -= masteryStep
	}
	// Round to two decimals so repeated ±0.1 steps land exactly on the
	// review threshold instead of drifting just below it.
	mastery = math.Round(mastery*100) / 100
	if mastery > 1 {
		mastery = 1
	}
	if mastery < 0 {
		mastery = 0
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE vocabulary
		SET review_count = review_count + 1,
		    last_reviewed = CURRENT_TIMESTAMP,
		    mastery_score = ?
		WHERE id = ?`, mastery, wordID)
	if err != nil {
		return nil, fmt.Errorf("failed to update word %d: %w", wordID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit review: %w", err)
	}

	if err := s.bumpDaily(ctx, "words_reviewed"); err != nil {
		return nil, err
	}
	return s.word(ctx, wordID)
}

// ProgressStats aggregates daily progress over "week", "month", or "all".
func (s *Store) ProgressStats(ctx context.Context, period string) (*Stats, error) {
	var daysBack int
	switch period {
	case "week":
		daysBack = 7
	case "month":
		daysBack = 30
	default:
		period = "all"
		daysBack = 365
	}

	stats := &Stats{Period: period}
	var learned, reviewed sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(words_learned), SUM(words_reviewed)
		FROM daily_progress
		WHERE date >= date('now', '-' || ? || ' days')`, daysBack).Scan(&learned, &reviewed)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate progress: %w", err)
	}
	stats.WordsLearned = int(learned.Int64)
	stats.WordsReviewed = int(reviewed.Int64)

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vocabulary").Scan(&stats.TotalVocabulary); err != nil {
		return nil, fmt.Errorf("failed to count vocabulary: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, "SELECT AVG(mastery_score) FROM vocabulary").Scan(&avg); err != nil {
		return nil, fmt.Errorf("failed to average mastery: %w", err)
	}
	// Stored as 0..1, reported as a percentage with one decimal.
	stats.AverageMastery = float64(int(avg.Float64*1000+0.5)) / 10
	return stats, nil
}

// StreakInfo returns the highest streak recorded in the last 30 days.
func (s *Store) StreakInfo(ctx context.Context) (*Streak, error) {
	var streak sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(streak_day) FROM daily_progress
		WHERE date >= date('now', '-30 days')`).Scan(&streak)
	if err != nil {
		return nil, fmt.Errorf("failed to read streak: %w", err)
	}
	info := &Streak{CurrentStreak: int(streak.Int64), NextMilestone: 7}
	if info.CurrentStreak >= 7 {
		info.NextMilestone = 30
	}
	return info, nil
}

// bumpDaily increments one counter in today's daily_progress row, creating
// the row — and extending the streak — on first activity of the day.
func (s *Store) bumpDaily(ctx context.Context, column string) error {
	if column != "words_learned" && column != "words_reviewed" {
		return fmt.Errorf("unknown progress column %q", column)
	}
	today := s.now().Format("2006-01-02")
	yesterday := s.now().AddDate(0, 0, -1).Format("2006-01-02")

	var prevStreak int
	err := s.db.QueryRowContext(ctx,
		"SELECT streak_day FROM daily_progress WHERE date = ?", yesterday).Scan(&prevStreak)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read yesterday's streak: %w", err)
	}

	// column is constrained above, so string concatenation is safe here.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO daily_progress (date, `+column+`, streak_day)
		VALUES (?, 1, ?)
		ON CONFLICT(date) DO UPDATE SET `+column+` = `+column+` + 1`,
		today, prevStreak+1)
	if err != nil {
		return fmt.Errorf("failed to update daily progress: %w", err)
	}
	return nil
}

// word loads one vocabulary entry by id.
func (s *Store) word(ctx context.Context, id int64) (*Word, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dutch_word, english_translation, category, level,
		       pronunciation, example_sentence, last_reviewed, review_count, mastery_score
		FROM vocabulary WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load word %d: %w", id, err)
	}
	defer rows.Close()
	words, err := scanWords(rows)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("word %d not found", id)
	}
	return &words[0], nil
}

func scanWords(rows *sql.Rows) ([]Word, error) {
	var words []Word
	for rows.Next() {
		var w Word
		var category, level, pronunciation, example, lastReviewed sql.NullString
		if err := rows.Scan(&w.ID, &w.Dutch, &w.English, &category, &level,
			&pronunciation, &example, &lastReviewed, &w.ReviewCount, &w.Mastery); err != nil {
			return nil, fmt.Errorf("failed to scan word: %w", err)
		}
		w.Category = category.String
		w.Level = level.String
		w.Pronunciation = pronunciation.String
		w.Example = example.String
		if lastReviewed.Valid {
			// CURRENT_TIMESTAMP is stored as "2006-01-02 15:04:05".
			if t, perr := time.Parse("2006-01-02 15:04:05", lastReviewed.String); perr == nil {
				w.LastReviewed = &t
			}
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// seedFile mirrors the YAML layout of the bundled starter vocabulary.
type seedFile struct {
	Vocabulary []struct {
		Dutch         string `yaml:"dutch"`
		English       string `yaml:"english"`
		Category      string `yaml:"category"`
		Level         string `yaml:"level"`
		Pronunciation string `yaml:"pronunciation"`
		Example       string `yaml:"example"`
	} `yaml:"vocabulary"`
}

// SeedFromYAML bulk-loads starter vocabulary. Seeding does not count toward
// daily progress. Returns the number of words inserted.
func (s *Store) SeedFromYAML(ctx context.Context, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, fmt.Errorf("failed to parse seed file: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	added := 0
	for _, w := range seed.Vocabulary {
		if w.Dutch == "" || w.English == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vocabulary
			(dutch_word, english_translation, category, level, pronunciation, example_sentence)
			VALUES (?, ?, ?, ?, ?, ?)`,
			w.Dutch, w.English, w.Category, w.Level, w.Pronunciation, w.Example)
		if err != nil {
			return 0, fmt.Errorf("failed to seed word %q: %w", w.Dutch, err)
		}
		added++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit seed: %w", err)
	}
	return added, nil
}
