// internal/services/matcher_service.go
package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/dropsight/dropsight-backend/internal/config"
	"github.com/dropsight/dropsight-backend/internal/models"
)

// Candidate is one listing returned by the external supplier search.
type Candidate struct {
	Title          string                  `json:"title"`
	Features       []string                `json:"features,omitempty"`
	URL            string                  `json:"url"`
	Platform       models.SupplierPlatform `json:"platform"`
	Price          decimal.Decimal         `json:"price"`
	SupplierRating float64                 `json:"supplier_rating"`
	ImageHashes    []string                `json:"image_hashes,omitempty"`
}

// CandidateSearcher is the external candidate search collaborator. It
// returns a bounded list of listings comparable to the failing product.
type CandidateSearcher interface {
	Search(ctx context.Context, product *models.Product) ([]Candidate, error)
}

// MatcherService scores candidates against a failing product and proposes
// the best one. Scoring is deterministic: token overlap of title+features
// combined with perceptual-hash similarity of the image sets.
type MatcherService struct {
	searcher CandidateSearcher
	cfg      config.MonitoringConfig
}

const (
	textWeight  = 0.6
	imageWeight = 0.4
)

func NewMatcherService(searcher CandidateSearcher, cfg config.MonitoringConfig) *MatcherService {
	return &MatcherService{searcher: searcher, cfg: cfg}
}

// Match is a scored candidate proposal.
type Match struct {
	Candidate  Candidate
	Similarity float64
}

// FindReplacement searches the candidate pool and returns the best candidate
// above the acceptance threshold, or ErrNoSuitableReplacement.
func (s *MatcherService) FindReplacement(ctx context.Context, product *models.Product) (*Match, error) {
	candidates, err := s.searcher.Search(ctx, product)
	if err != nil {
		return nil, fmt.Errorf("candidate search failed: %w", err)
	}

	var best *Match
	for _, candidate := range candidates {
		score := s.Similarity(product, candidate)
		if best == nil || score > best.Similarity {
			best = &Match{Candidate: candidate, Similarity: score}
		}
	}

	if best == nil || best.Similarity < s.cfg.MinSimilarity {
		return nil, ErrNoSuitableReplacement
	}

	logrus.WithFields(logrus.Fields{
		"product_id": product.ID,
		"candidate":  best.Candidate.URL,
		"similarity": best.Similarity,
	}).Info("Replacement candidate selected")

	return best, nil
}

// Similarity combines text overlap and image-hash similarity. When either
// side has no image hashes the text score carries the full weight.
func (s *MatcherService) Similarity(product *models.Product, candidate Candidate) float64 {
	text := tokenOverlap(
		productTokens(product.Title, product.Features),
		productTokens(candidate.Title, candidate.Features),
	)

	image, ok := imageSimilarity(product.ImageHashes, candidate.ImageHashes)
	if !ok {
		return text
	}

	return textWeight*text + imageWeight*image
}

// productTokens lowercases and splits title+features into a token set.
func productTokens(title string, features []string) map[string]struct{} {
	tokens := make(map[string]struct{})
	collect := func(text string) {
		fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		for _, f := range fields {
			if len(f) > 1 {
				tokens[f] = struct{}{}
			}
		}
	}
	collect(title)
	for _, feature := range features {
		collect(feature)
	}
	return tokens
}

// tokenOverlap is the Jaccard index of two token sets.
func tokenOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	var intersection int
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// imageSimilarity is the best pairwise perceptual-hash similarity between
// the two image sets: 1 - hamming/bits over hex-encoded hashes. The second
// return is false when comparison is unavailable for either side.
func imageSimilarity(a, b []string) (float64, bool) {
	var best float64
	var compared bool
	for _, ha := range a {
		for _, hb := range b {
			sim, ok := hashSimilarity(ha, hb)
			if !ok {
				continue
			}
			compared = true
			if sim > best {
				best = sim
			}
		}
	}
	return best, compared
}

func hashSimilarity(a, b string) (float64, bool) {
	ba, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(a), "0x"))
	if err != nil || len(ba) == 0 {
		return 0, false
	}
	bb, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(b), "0x"))
	if err != nil || len(bb) != len(ba) {
		return 0, false
	}

	var distance int
	for i := range ba {
		distance += bits.OnesCount8(ba[i] ^ bb[i])
	}

	totalBits := len(ba) * 8
	return 1 - float64(distance)/float64(totalBits), true
}
