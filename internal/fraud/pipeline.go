// Package fraud screens reservations before they are committed.
//
// Screening runs in two stages.  The email format check is the real
// admission test.  The second stage is a randomized projection cascade
// over the reservation bytes: Rounds passes of a fresh Gaussian matrix
// followed by a rectifier.  Its cost is deliberate and stands in for the
// latency profile of an inference pass.  Its numeric output is handed to
// a Rule; the default rule accepts everything.
package fraud

import (
	"math/rand/v2"
	"regexp"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/iliyamo/ticket-pool/internal/model"
)

const (
	// DefaultRounds is the number of projection passes.
	DefaultRounds = 50
	// DefaultWidth is the output width of each projection.
	DefaultWidth = 128
)

// Rejection reasons reported in a Verdict.
const (
	ReasonInvalidEmail  = "invalid_email"
	ReasonEmptyFeatures = "empty_features"
	ReasonRule          = "rule_rejected"
)

// emailPattern: allowed characters before '@', a host label, a literal dot,
// then the rest of the domain.
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9.-]+$`)

// ValidEmail reports whether s passes the email admission check.
func ValidEmail(s string) bool { return emailPattern.MatchString(s) }

// Rule decides on the projection output.  This is where a trained
// decision boundary plugs in.
type Rule interface {
	Accept(scores []float64) bool
}

// RuleFunc adapts a function to Rule.
type RuleFunc func(scores []float64) bool

// Accept calls f(scores).
func (f RuleFunc) Accept(scores []float64) bool { return f(scores) }

// AcceptAll ignores the projection output and accepts.
var AcceptAll Rule = RuleFunc(func([]float64) bool { return true })

// Verdict is the outcome of Evaluate.
type Verdict struct {
	Accept bool
	Reason string
	// Scores is the output of the last projection round; nil when the
	// cascade did not run.
	Scores []float64
}

// Pipeline is safe for concurrent use.  Each evaluation draws its own seed.
type Pipeline struct {
	rounds int
	width  int
	rule   Rule
	seed   func() (uint64, uint64)
	log    *logrus.Entry
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithRounds overrides the number of projection passes.
func WithRounds(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.rounds = n
		}
	}
}

// WithWidth overrides the projection output width.
func WithWidth(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.width = n
		}
	}
}

// WithRule installs the decision rule applied to the projection output.
func WithRule(r Rule) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.rule = r
		}
	}
}

// WithSeedSource replaces the per-evaluation seed source.
func WithSeedSource(fn func() (uint64, uint64)) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.seed = fn
		}
	}
}

// WithLogger sets the logger used for verdict tracing.
func WithLogger(l *logrus.Entry) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// NewPipeline returns a pipeline with the default cost profile.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		rounds: DefaultRounds,
		width:  DefaultWidth,
		rule:   AcceptAll,
		seed:   func() (uint64, uint64) { return rand.Uint64(), rand.Uint64() },
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("component", "fraud")
	return p
}

// Score reports whether t may be reserved.  t is expected to carry all
// three reservation fields.
func (p *Pipeline) Score(t model.Ticket) bool {
	return p.Evaluate(t).Accept
}

// Evaluate runs both stages and returns the full verdict.
func (p *Pipeline) Evaluate(t model.Ticket) Verdict {
	if !ValidEmail(t.Email()) {
		p.log.WithField("ticket_id", t.ID).Debug("rejected: invalid email")
		return Verdict{Reason: ReasonInvalidEmail}
	}

	features := Features(t.Name(), t.Email(), t.Card())
	if features == nil {
		return Verdict{Reason: ReasonEmptyFeatures}
	}

	s1, s2 := p.seed()
	scores := p.project(features, rand.New(rand.NewPCG(s1, s2)))
	if !p.rule.Accept(scores) {
		p.log.WithField("ticket_id", t.ID).Debug("rejected by rule")
		return Verdict{Reason: ReasonRule, Scores: scores}
	}
	return Verdict{Accept: true, Scores: scores}
}

// Features concatenates the bytes of name, email and card and scales the
// result to unit L2 norm.  It returns nil when the norm is zero.
func Features(name, email, card string) []float64 {
	raw := make([]float64, 0, len(name)+len(email)+len(card))
	for _, s := range []string{name, email, card} {
		for i := 0; i < len(s); i++ {
			raw = append(raw, float64(s[i]))
		}
	}
	norm := floats.Norm(raw, 2)
	if norm == 0 {
		return nil
	}
	floats.Scale(1/norm, raw)
	return raw
}

// project runs the cascade.  Round i samples a width x len(in) matrix from
// N(0, (i+1)^2) one row at a time, so memory stays linear in the input.
func (p *Pipeline) project(in []float64, rng *rand.Rand) []float64 {
	vec := append([]float64(nil), in...)
	for round := 0; round < p.rounds; round++ {
		sigma := float64(round + 1)
		row := make([]float64, len(vec))
		out := make([]float64, p.width)
		for i := range out {
			for j := range row {
				row[j] = rng.NormFloat64() * sigma
			}
			out[i] = max(0, floats.Dot(row, vec))
		}
		vec = out
	}
	return vec
}
