package assistant

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"backoffice/internal/core"
	"backoffice/internal/log"
)

// MaxChunkChars bounds the size of an indexed passage.
const MaxChunkChars = 800

type hit struct {
	chunk core.KnowledgeChunk
	score float64
}

// Document is a knowledge-base article submitted for indexing.
type Document struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Text     string `json:"text"`
}

func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	load := func() ([]float32, error) {
		vecs, err := s.model.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 {
			return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
		}
		return vecs[0], nil
	}
	if s.opts.Embeddings == nil {
		return load()
	}
	return s.opts.Embeddings.GetOrLoad(key, load)
}

// retrieve returns the top-k chunks at or above the similarity threshold,
// best first.
func (s *Service) retrieve(ctx context.Context, query string) ([]hit, error) {
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	chunks, err := s.store.ListChunks(ctx, s.opts.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}

	var hits []hit
	for _, c := range chunks {
		score := Cosine(vec, c.Embedding)
		if score >= s.opts.MinSimilarity {
			hits = append(hits, hit{chunk: c, score: math.Round(score*10000) / 10000})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].chunk.ID < hits[j].chunk.ID
	})
	if len(hits) > s.opts.TopK {
		hits = hits[:s.opts.TopK]
	}
	return hits, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either is zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// IndexDocument splits the text into passages, embeds them and stores them.
// It returns the number of chunks stored.
func (s *Service) IndexDocument(ctx context.Context, doc Document) (int, error) {
	doc.Title = strings.TrimSpace(doc.Title)
	if doc.Title == "" {
		return 0, core.Invalidf("title is required")
	}
	parts := ChunkText(doc.Text, MaxChunkChars)
	if len(parts) == 0 {
		return 0, core.Invalidf("text is required")
	}

	vecs, err := s.model.Embed(ctx, parts)
	if err != nil {
		return 0, fmt.Errorf("embed document: %w", err)
	}
	if len(vecs) != len(parts) {
		return 0, fmt.Errorf("embed document: expected %d vectors, got %d", len(parts), len(vecs))
	}

	now := s.opts.Now().UTC()
	chunks := make([]core.KnowledgeChunk, len(parts))
	for i, p := range parts {
		chunks[i] = core.KnowledgeChunk{
			ID:        uuid.NewString(),
			TenantID:  s.opts.TenantID,
			Title:     doc.Title,
			URL:       strings.TrimSpace(doc.URL),
			Category:  strings.ToLower(strings.TrimSpace(doc.Category)),
			Content:   p,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	if err := s.store.SaveChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}

	s.logger.InfoContext(ctx, "Indexed knowledge document",
		log.FieldOperation, log.OpIndex,
		log.FieldTenantID, s.opts.TenantID,
		"title", doc.Title,
		log.FieldCount, len(chunks))
	return len(chunks), nil
}

// ChunkText packs paragraphs (blank-line separated) into chunks of at most
// limit characters. Longer paragraphs are split on word boundaries.
func ChunkText(text string, limit int) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			continue
		}
		for _, piece := range splitWords(para, limit) {
			if cur.Len() > 0 && cur.Len()+2+len(piece) > limit {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return chunks
}

func splitWords(para string, limit int) []string {
	if len(para) <= limit {
		return []string{para}
	}
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(para) {
		for len(w) > limit {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			cut := limit
			for cut > 1 && !utf8.RuneStart(w[cut]) {
				cut--
			}
			out = append(out, w[:cut])
			w = w[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
