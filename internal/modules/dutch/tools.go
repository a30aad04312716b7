package dutch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"hearth/internal/domain"
	"hearth/internal/tooling"
)

// unmarshalFunc is the JSON unmarshaler used by the tools. Package-level so
// tests can inject a failing unmarshaler.
var unmarshalFunc = json.Unmarshal

// ---------------------------------------------------------------------------
// dutch_vocabulary_add

// AddWordInput describes a new vocabulary entry.
type AddWordInput struct {
	DutchWord          string `json:"dutch_word" jsonschema:"minLength=1"`
	EnglishTranslation string `json:"english_translation" jsonschema:"minLength=1"`
	Category           string `json:"category,omitempty" jsonschema:"description=Topic group such as food or travel"`
	Level              string `json:"level,omitempty" jsonschema:"enum=A1,enum=A2,enum=B1,enum=B2,enum=C1,enum=C2"`
	Pronunciation      string `json:"pronunciation,omitempty"`
	ExampleSentence    string `json:"example_sentence,omitempty"`
}

// AddWordTool adds a word to the vocabulary.
type AddWordTool struct {
	store *Store
}

func (t *AddWordTool) Name() string { return "dutch_vocabulary_add" }

func (t *AddWordTool) Description() string {
	return "Adds a Dutch word with its English translation to the vocabulary database"
}

func (t *AddWordTool) Definition() string {
	return tooling.GenerateSchema(AddWordInput{})
}

func (t *AddWordTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input AddWordInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if input.Category == "" {
		input.Category = "general"
	}
	if input.Level == "" {
		input.Level = "A1"
	}

	id, err := t.store.AddWord(ctx, Word{
		Dutch:         input.DutchWord,
		English:       input.EnglishTranslation,
		Category:      input.Category,
		Level:         input.Level,
		Pronunciation: input.Pronunciation,
		Example:       input.ExampleSentence,
	})
	if err != nil {
		return nil, err
	}

	return &domain.ToolResult{
		Data: fmt.Sprintf("Added '%s' (%s) to vocabulary", input.DutchWord, input.EnglishTranslation),
		Metadata: map[string]string{
			"word_id": strconv.FormatInt(id, 10),
		},
	}, nil
}

// ---------------------------------------------------------------------------
// dutch_vocabulary_search

// SearchInput filters the vocabulary.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"minLength=1,description=Substring matched against both languages"`
	Category string `json:"category,omitempty"`
	Level    string `json:"level,omitempty" jsonschema:"enum=A1,enum=A2,enum=B1,enum=B2,enum=C1,enum=C2"`
}

// SearchTool searches the vocabulary in both languages.
type SearchTool struct {
	store *Store
}

func (t *SearchTool) Name() string { return "dutch_vocabulary_search" }

func (t *SearchTool) Description() string {
	return "Searches the vocabulary by Dutch or English text, with optional category and CEFR level filters"
}

func (t *SearchTool) Definition() string {
	return tooling.GenerateSchema(SearchInput{})
}

func (t *SearchTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input SearchInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	words, err := t.store.Search(ctx, input.Query, input.Category, input.Level)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return &domain.ToolResult{
			Data:     fmt.Sprintf("no vocabulary matches %q", input.Query),
			Metadata: map[string]string{"count": "0"},
		}, nil
	}

	var b strings.Builder
	for _, w := range words {
		fmt.Fprintf(&b, "%s — %s", w.Dutch, w.English)
		if w.Level != "" {
			fmt.Fprintf(&b, " [%s]", w.Level)
		}
		if w.Example != "" {
			fmt.Fprintf(&b, " — %q", w.Example)
		}
		fmt.Fprintf(&b, " (mastery %.0f%%)\n", w.Mastery*100)
	}
	return &domain.ToolResult{
		Data:     strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]string{"count": strconv.Itoa(len(words))},
	}, nil
}

// ---------------------------------------------------------------------------
// dutch_vocabulary_review

// ReviewWordsInput sizes the review batch.
type ReviewWordsInput struct {
	Count int `json:"count,omitempty" jsonschema:"minimum=1,maximum=50,description=How many words to review (default 10)"`
}

// ReviewWordsTool picks the next words for spaced repetition.
type ReviewWordsTool struct {
	store *Store
}

func (t *ReviewWordsTool) Name() string { return "dutch_vocabulary_review" }

func (t *ReviewWordsTool) Description() string {
	return "Picks the vocabulary words most due for review: unmastered words, never-reviewed and oldest first"
}

func (t *ReviewWordsTool) Definition() string {
	return tooling.GenerateSchema(ReviewWordsInput{})
}

func (t *ReviewWordsTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input ReviewWordsInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	words, err := t.store.ReviewWords(ctx, input.Count)
	if err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return &domain.ToolResult{
			Data:     "nothing due for review — all words mastered",
			Metadata: map[string]string{"count": "0"},
		}, nil
	}

	var b strings.Builder
	for _, w := range words {
		fmt.Fprintf(&b, "#%d %s — %s", w.ID, w.Dutch, w.English)
		if w.Pronunciation != "" {
			fmt.Fprintf(&b, " (%s)", w.Pronunciation)
		}
		fmt.Fprintf(&b, " mastery %.0f%%\n", w.Mastery*100)
	}
	return &domain.ToolResult{
		Data:     strings.TrimRight(b.String(), "\n"),
		Metadata: map[string]string{"count": strconv.Itoa(len(words))},
	}, nil
}

// ---------------------------------------------------------------------------
// dutch_record_review

// RecordReviewInput reports one review outcome.
type RecordReviewInput struct {
	WordID  int64 `json:"word_id" jsonschema:"minimum=1"`
	Correct bool  `json:"correct"`
}

// RecordReviewTool applies a review outcome to a word's mastery score.
type RecordReviewTool struct {
	store *Store
}

func (t *RecordReviewTool) Name() string { return "dutch_record_review" }

func (t *RecordReviewTool) Description() string {
	return "Records whether the learner answered a review word correctly, adjusting its mastery score"
}

func (t *RecordReviewTool) Definition() string {
	return tooling.GenerateSchema(RecordReviewInput{})
}

func (t *RecordReviewTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input RecordReviewInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	word, err := t.store.RecordReview(ctx, input.WordID, input.Correct)
	if err != nil {
		return nil, err
	}

	outcome := "correct"
	if !input.Correct {
		outcome = "wrong"
	}
	return &domain.ToolResult{
		Data: fmt.Sprintf("Recorded %s answer for '%s'; mastery now %.0f%%", outcome, word.Dutch, word.Mastery*100),
		Metadata: map[string]string{
			"word_id":      strconv.FormatInt(word.ID, 10),
			"mastery":      strconv.FormatFloat(word.Mastery, 'f', 2, 64),
			"review_count": strconv.Itoa(word.ReviewCount),
		},
	}, nil
}

// ---------------------------------------------------------------------------
// dutch_progress_stats

// ProgressStatsInput selects the aggregation period.
type ProgressStatsInput struct {
	Period string `json:"period,omitempty" jsonschema:"enum=week,enum=month,enum=all,description=Aggregation period (default week)"`
}

// ProgressStatsTool reports aggregate learning progress.
type ProgressStatsTool struct {
	store *Store
}

func (t *ProgressStatsTool) Name() string { return "dutch_progress_stats" }

func (t *ProgressStatsTool) Description() string {
	return "Reports words learned and reviewed over a period, plus overall vocabulary size and average mastery"
}

func (t *ProgressStatsTool) Definition() string {
	return tooling.GenerateSchema(ProgressStatsInput{})
}

func (t *ProgressStatsTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var input ProgressStatsInput
	if err := unmarshalFunc(args, &input); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}
	if input.Period == "" {
		input.Period = "week"
	}

	stats, err := t.store.ProgressStats(ctx, input.Period)
	if err != nil {
		return nil, err
	}

	return &domain.ToolResult{
		Data: fmt.Sprintf("Last %s: %d words learned, %d reviewed. Vocabulary: %d words, average mastery %.1f%%",
			stats.Period, stats.WordsLearned, stats.WordsReviewed, stats.TotalVocabulary, stats.AverageMastery),
		Metadata: map[string]string{
			"period":           stats.Period,
			"words_learned":    strconv.Itoa(stats.WordsLearned),
			"words_reviewed":   strconv.Itoa(stats.WordsReviewed),
			"total_vocabulary": strconv.Itoa(stats.TotalVocabulary),
			"average_mastery":  strconv.FormatFloat(stats.AverageMastery, 'f', 1, 64),
		},
	}, nil
}

// ---------------------------------------------------------------------------
// dutch_streak_info

// StreakInfoInput is empty; the tool takes no arguments.
type StreakInfoInput struct{}

// StreakInfoTool reports the current consecutive-day learning streak.
type StreakInfoTool struct {
	store *Store
}

func (t *StreakInfoTool) Name() string { return "dutch_streak_info" }

func (t *StreakInfoTool) Description() string {
	return "Reports the learner's current consecutive-day streak and the next milestone"
}

func (t *StreakInfoTool) Definition() string {
	return tooling.GenerateSchema(StreakInfoInput{})
}

func (t *StreakInfoTool) Call(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	info, err := t.store.StreakInfo(ctx)
	if err != nil {
		return nil, err
	}

	msg := "Start your streak today!"
	if info.CurrentStreak > 0 {
		msg = fmt.Sprintf("You've been learning for %d days in a row!", info.CurrentStreak)
	}
	return &domain.ToolResult{
		Data: msg,
		Metadata: map[string]string{
			"current_streak": strconv.Itoa(info.CurrentStreak),
			"next_milestone": strconv.Itoa(info.NextMilestone),
		},
	}, nil
}
