// Package hashembed provides a deterministic, fully local embedding
// provider based on feature hashing. Tokens and token bigrams are hashed
// into a fixed number of buckets with a sign bit, then L2-normalized.
//
// The vectors are nowhere near the quality of a learned model, but they
// are stable across runs and machines, need no network and no weights,
// and preserve enough lexical overlap for tests and air-gapped setups.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	cortex "github.com/nevindra/cortex"
)

// Provider hashes text into fixed-width unit vectors.
type Provider struct {
	dims int
}

var _ cortex.EmbeddingProvider = (*Provider)(nil)

// New creates a Provider emitting vectors of the given dimensionality.
// dims must be positive; 384 matches common sentence-embedding models.
func New(dims int) *Provider {
	if dims <= 0 {
		dims = 384
	}
	return &Provider{dims: dims}
}

// Name identifies this provider.
func (p *Provider) Name() string { return "hashembed" }

// Dimensions reports the vector length.
func (p *Provider) Dimensions() int { return p.dims }

// Embed returns one unit vector per text. The empty string embeds to the
// zero vector.
func (p *Provider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embed(t)
	}
	return out, nil
}

func (p *Provider) embed(text string) []float32 {
	vec := make([]float32, p.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}
	for i, tok := range tokens {
		p.add(vec, tok)
		if i > 0 {
			p.add(vec, tokens[i-1]+" "+tok)
		}
	}
	normalize(vec)
	return vec
}

// add hashes one feature into its bucket. The bucket comes from the low
// bits of the hash, the sign from the bit above them, which keeps the
// expected value of each component at zero.
func (p *Provider) add(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(p.dims))
	if (sum/uint64(p.dims))&1 == 1 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vec {
		vec[i] *= inv
	}
}
