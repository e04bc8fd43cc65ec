package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/research-os/ragd/internal/domain"
	"github.com/research-os/ragd/internal/vectorstore"
)

var returnFields = []string{
	fieldContent, fieldDocumentKey, fieldChunkIndex, fieldSection, fieldMetadata, vectorScoreAlias,
}

// Search runs a KNN similarity query. When the query carries no vector
// it falls back to BM25 text search over chunk content, with a warning,
// and marks the result lexical.
func (s *Store) Search(ctx context.Context, q vectorstore.Query) (vectorstore.Result, error) {
	if q.Limit <= 0 {
		return vectorstore.Result{}, domain.NewValidation("limit must be positive")
	}

	if len(q.Vector) == 0 {
		if q.Text == "" {
			return vectorstore.Result{}, domain.NewValidation("query needs a vector or text")
		}
		s.logger.Warn("no query vector, falling back to text search",
			zap.String("query", q.Text),
		)
		return s.searchLexical(ctx, q)
	}
	if len(q.Vector) != s.dimension {
		return vectorstore.Result{}, fmt.Errorf("query vector width %d, index expects %d: %w",
			len(q.Vector), s.dimension, domain.ErrDimensionMismatch)
	}

	return s.searchKNN(ctx, q)
}

func (s *Store) searchKNN(ctx context.Context, q vectorstore.Query) (vectorstore.Result, error) {
	knnPart := fmt.Sprintf("=>[KNN %d @%s $BLOB AS %s]", q.Limit, fieldVector, vectorScoreAlias)

	queryStr := "*" + knnPart
	if filterStr := buildFilter(q.Filters); filterStr != "" {
		queryStr = "(" + filterStr + ")" + knnPart
	}

	args := []string{s.indexName, queryStr}
	args = append(args, "RETURN", strconv.Itoa(len(returnFields)))
	args = append(args, returnFields...)
	args = append(args,
		"SORTBY", vectorScoreAlias,
		"LIMIT", "0", strconv.Itoa(q.Limit),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return vectorstore.Result{}, fmt.Errorf("knn search: %w", err)
	}

	hits := parseKNNResult(raw, s.keyPrefix)
	return vectorstore.Result{Hits: filterByScore(hits, q.MinScore)}, nil
}

func (s *Store) searchLexical(ctx context.Context, q vectorstore.Query) (vectorstore.Result, error) {
	textPart := fmt.Sprintf("@%s:(%s)", fieldContent, escapeQuery(q.Text))

	queryStr := textPart
	if filterStr := buildFilter(q.Filters); filterStr != "" {
		queryStr = filterStr + " " + textPart
	}

	args := []string{s.indexName, queryStr}
	args = append(args, "RETURN", strconv.Itoa(len(returnFields)-1))
	args = append(args, returnFields[:len(returnFields)-1]...)
	args = append(args,
		"WITHSCORES",
		"LIMIT", "0", strconv.Itoa(q.Limit),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return vectorstore.Result{}, fmt.Errorf("text search: %w", err)
	}

	hits := parseBM25Result(raw, s.keyPrefix)
	return vectorstore.Result{Hits: filterByScore(hits, q.MinScore), Lexical: true}, nil
}

// --- Result parsing ---

func parseKNNResult(raw []rueidis.RedisMessage, keyPrefix string) []domain.SearchHit {
	if len(raw) == 0 {
		return nil
	}
	total, err := raw[0].AsInt64()
	if err != nil || total == 0 {
		return nil
	}

	hits := make([]domain.SearchHit, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		pairs := parseFieldPairs(fields)
		hit := hitFromFields(key, keyPrefix, pairs)

		if scoreStr, ok := pairs[vectorScoreAlias]; ok {
			if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				hit.Score = normalizeCosineDistance(d)
			}
		}
		hits = append(hits, hit)
	}
	return hits
}

func parseBM25Result(raw []rueidis.RedisMessage, keyPrefix string) []domain.SearchHit {
	if len(raw) == 0 {
		return nil
	}
	total, err := raw[0].AsInt64()
	if err != nil || total == 0 {
		return nil
	}

	hits := make([]domain.SearchHit, 0, total)
	// 3-stride: [total, key1, score1, fields1, key2, score2, fields2, ...]
	for i := 1; i+2 < len(raw); i += 3 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		scoreStr, err := raw[i+1].ToString()
		if err != nil {
			continue
		}
		score, err := strconv.ParseFloat(scoreStr, 64)
		if err != nil {
			continue
		}
		fields, err := raw[i+2].ToArray()
		if err != nil {
			continue
		}

		hit := hitFromFields(key, keyPrefix, parseFieldPairs(fields))
		hit.Score = normalizeBM25(score)
		hits = append(hits, hit)
	}
	return hits
}

func hitFromFields(key, keyPrefix string, fields map[string]string) domain.SearchHit {
	hit := domain.SearchHit{
		ID:          strings.TrimPrefix(key, keyPrefix),
		DocumentKey: fields[fieldDocumentKey],
		Content:     fields[fieldContent],
		Section:     fields[fieldSection],
	}
	if idx, err := strconv.Atoi(fields[fieldChunkIndex]); err == nil {
		hit.ChunkIndex = idx
	}
	if meta := decodeMetadata(fields[fieldMetadata]); len(meta) > 0 {
		hit.Metadata = meta
	}
	return hit
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// --- Score normalization ---

// normalizeCosineDistance maps a cosine distance in [0,2] to a
// similarity in [0,1] where 1 is an exact match.
func normalizeCosineDistance(d float64) float64 {
	return max(0, 1-d/2)
}

// normalizeBM25 squashes an unbounded BM25 score into [0,1). Ordering
// is preserved; the scale is not comparable to vector similarity.
func normalizeBM25(s float64) float64 {
	if s <= 0 {
		return 0
	}
	return s / (s + 1)
}

func filterByScore(hits []domain.SearchHit, minScore float64) []domain.SearchHit {
	if minScore <= 0 {
		return hits
	}
	filtered := hits[:0]
	for _, hit := range hits {
		if hit.Score >= minScore {
			filtered = append(filtered, hit)
		}
	}
	return filtered
}

// --- Filter building ---

// buildFilter translates equality filters into FT.SEARCH tag clauses.
func buildFilter(filters map[string]string) string {
	if len(filters) == 0 {
		return ""
	}
	parts := make([]string, 0, len(filters))
	for _, key := range sortedKeys(filters) {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", key, tagEscaper.Replace(filters[key])))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- Metadata codec ---

func encodeMetadata(meta map[string]string) string {
	if len(meta) == 0 {
		return "{}"
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMetadata(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(s), &meta); err != nil {
		return nil
	}
	return meta
}

// --- Query helpers ---

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	" ", "\\ ",
)

func escapeQuery(s string) string {
	return queryEscaper.Replace(s)
}

var queryEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	`@`, `\@`,
	`{`, `\{`,
	`}`, `\}`,
	`(`, `\(`,
	`)`, `\)`,
	`|`, `\|`,
	`-`, `\-`,
	`~`, `\~`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`!`, `\!`,
	`%`, `\%`,
	`^`, `\^`,
	`$`, `\$`,
	`<`, `\<`,
	`>`, `\>`,
	`=`, `\=`,
	`;`, `\;`,
	`+`, `\+`,
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
