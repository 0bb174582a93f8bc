package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateRequest is the normalized input to a generation job. Normalization
// must be deterministic: the fingerprint derived from two semantically equal
// requests has to match so concurrent duplicates dedup onto one job.
type GenerateRequest struct {
	Text     string  `json:"text"`
	Voice    string  `json:"voice"`
	Speed    float64 `json:"speed"`
	ImageRef string  `json:"image_ref,omitempty"`
}

// Normalize canonicalizes mutable fields (whitespace, defaults) in place.
func (r *GenerateRequest) Normalize() {
	r.Text = strings.TrimSpace(r.Text)
	r.Voice = strings.TrimSpace(r.Voice)
	if r.Speed == 0 {
		r.Speed = 1.0
	}
}

// Fingerprint returns the hex sha256 over the kind and the canonical JSON
// encoding of the request. Used as both cache key and dedup key.
func (r GenerateRequest) Fingerprint(kind JobKind) string {
	// encoding/json emits struct fields in declaration order, so the
	// encoding is canonical for a normalized request.
	b, _ := json.Marshal(r)
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s", kind, b))
	return hex.EncodeToString(sum[:])
}
