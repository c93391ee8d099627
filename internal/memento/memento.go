// Package memento implements durable note-taking for agents, indexed
// by a lightweight Porter-style keyword stem so that later searches can
// match "games" against a memento saved under the keyword "game".
//
// Stem is a suffix-stripping reduction covering the common English
// inflection classes (plurals, -ing, -ed, -ly, -ation, -ization) rather
// than a full Porter implementation; save and search apply the identical
// normalize+stem pipeline, which is all the matching contract needs.
package memento

import (
	"context"
	"regexp"
	"strings"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/models"
	"github.com/google/uuid"
)

const (
	maxContentBytes    = 12 * 1024
	maxKeywordsPerSave = 10
	maxIDsPerFetch     = 20
	maxSearchResults   = 100
	defaultSearchLimit = 10
)

var nonAlnumHyphen = regexp.MustCompile(`[^a-z0-9-]+`)

type Engine struct {
	store store.MementoStore
}

func New(s store.MementoStore) *Engine {
	return &Engine{store: s}
}

// Save normalizes and stems the caller-supplied keywords (dropping empty
// normalizations, capping at maxKeywordsPerSave), then persists the memento
// and its keyword index atomically.
func (e *Engine) Save(ctx context.Context, agentID, model, role, content string, keywords []string) (*models.Memento, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apierr.New(apierr.BadRequest, "content must not be empty")
	}
	if len(content) > maxContentBytes {
		return nil, apierr.Newf(apierr.BadRequest, "content exceeds %d bytes", maxContentBytes)
	}

	m := &models.Memento{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Model:   model,
		Role:    role,
		Content: content,
	}

	stems := normalizeStems(keywords, maxKeywordsPerSave)
	if err := e.store.CreateMemento(ctx, m, stems); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) GetByIDs(ctx context.Context, agentID string, ids []string) ([]models.Memento, error) {
	if len(ids) > maxIDsPerFetch {
		ids = ids[:maxIDsPerFetch]
	}
	return e.store.GetMementosByIDs(ctx, agentID, ids)
}

func (e *Engine) Recent(ctx context.Context, agentID string, limit int) ([]models.Memento, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}
	return e.store.ListRecentMementos(ctx, agentID, limit)
}

// Search normalizes+stems the caller-supplied keywords identically to Save
// and ranks hits by descending distinct-stem overlap, then recency.
func (e *Engine) Search(ctx context.Context, agentID string, keywords []string, limit int) ([]models.MementoMatch, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}
	stems := normalizeStems(keywords, maxKeywordsPerSave)
	if len(stems) == 0 {
		return nil, nil
	}
	return e.store.SearchMementosByStems(ctx, agentID, stems, limit)
}

func (e *Engine) Keywords(ctx context.Context, agentID string) ([]string, error) {
	return e.store.ListKeywords(ctx, agentID)
}

// normalizeStems lowercases each keyword, strips everything but
// alphanumerics and hyphens, stems what remains, drops duplicates and
// empty normalizations, and returns at most max stems in input order.
func normalizeStems(keywords []string, max int) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, max)
	for _, kw := range keywords {
		token := nonAlnumHyphen.ReplaceAllString(strings.ToLower(strings.TrimSpace(kw)), "")
		if token == "" {
			continue
		}
		stem := Stem(token)
		if stem == "" || seen[stem] {
			continue
		}
		seen[stem] = true
		out = append(out, stem)
		if len(out) >= max {
			break
		}
	}
	return out
}

// suffixRule reduces text ending in suffix to the given replacement,
// applied only when the stem left over meets minStemLen.
type suffixRule struct {
	suffix      string
	replacement string
	minStemLen  int
}

var suffixRules = []suffixRule{
	{"ization", "ize", 3},
	{"iveness", "ive", 3},
	{"fulness", "ful", 3},
	{"ational", "ate", 3},
	{"ation", "ate", 3},
	{"izing", "ize", 3},
	{"ising", "ise", 3},
	{"ingly", "e", 2},
	{"ies", "y", 2},
	{"sses", "ss", 2},
	{"ing", "", 3},
	{"edly", "", 3},
	{"ed", "", 2},
	{"ly", "", 2},
	{"s", "", 2},
}

// Stem reduces word to an approximate root by stripping inflectional
// suffixes, in the spirit of Porter's step 1 reductions, without
// implementing the full multi-step algorithm. Rules are tried in table
// order and the first that leaves a long-enough stem applies; the
// reduction repeats on its result until no rule applies, so Stem is
// idempotent ("organizations" -> "organization" -> "organize"). A bare
// trailing "s" strips only off a non-"ss" ending, so "games" and "game"
// land on the same stem while "class" survives intact.
func Stem(word string) string {
	for {
		stripped := false
		for _, rule := range suffixRules {
			if !strings.HasSuffix(word, rule.suffix) {
				continue
			}
			if rule.suffix == "s" && strings.HasSuffix(word, "ss") {
				continue
			}
			stem := strings.TrimSuffix(word, rule.suffix)
			if len(stem) >= rule.minStemLen {
				word = stem + rule.replacement
				stripped = true
				break
			}
		}
		if !stripped {
			return word
		}
	}
}
