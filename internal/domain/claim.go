package domain

import (
	"time"

	"github.com/google/uuid"
)

// ClaimContext scopes a claim to the slice of the world it talks about.
// Credibility is tracked per context so a specialist's weak sub-domain
// never drags down their score elsewhere.
type ClaimContext struct {
	Sector string `json:"sector"`
	Metric string `json:"metric"`
	Regime string `json:"regime"`
}

// Key flattens a context for use as a credibility scope. Empty fields
// collapse so partially-specified contexts still bucket consistently.
func (c ClaimContext) Key() string {
	return c.Sector + "/" + c.Metric + "/" + c.Regime
}

type EvidenceRef struct {
	Source  string `json:"source"`
	Locator string `json:"locator"`
	Note    string `json:"note,omitempty"`
}

// Claim is immutable once created. A revision produces a new Claim; the
// original only ever gains the SupersededBy link.
type Claim struct {
	ID           uuid.UUID     `json:"id"`
	TenantID     uuid.UUID     `json:"tenant_id,omitempty"`
	AuthorID     uuid.UUID     `json:"author_id"`
	Assertion    string        `json:"assertion"`
	Confidence   float64       `json:"confidence"`
	Evidence     []EvidenceRef `json:"evidence,omitempty"`
	Context      ClaimContext  `json:"context"`
	Embedding    []float32     `json:"-"`
	SupersededBy *uuid.UUID    `json:"superseded_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

type ClaimWithScore struct {
	Claim
	Score float32 `json:"score"`
}
