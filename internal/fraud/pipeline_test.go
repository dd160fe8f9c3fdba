package fraud

import (
	"math"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ticket-pool/internal/model"
)

func reservation(email, name, card string) model.Ticket {
	return model.NewAvailableTicket(1).Reserved(email, name, card)
}

func fixedSeed() (uint64, uint64) { return 1, 2 }

func TestValidEmail(t *testing.T) {
	valid := []string{
		"a@b.co",
		"test@test.com",
		"first.last+tag@example-host.co.uk",
		"under_score@x.y",
	}
	invalid := []string{
		"",
		"not-an-email",
		"@b.co",
		"a@.co",
		"a@b",
		"a@b.",
		"a b@c.de",
		"a@b_c.de",
		"a@b.c o",
	}
	for _, s := range valid {
		assert.Truef(t, ValidEmail(s), "expected %q to be valid", s)
	}
	for _, s := range invalid {
		assert.Falsef(t, ValidEmail(s), "expected %q to be invalid", s)
	}
}

func TestFeatures_UnitNorm(t *testing.T) {
	f := Features("Test Name", "test@test.com", "xxxx1234")
	require.Len(t, f, len("Test Name")+len("test@test.com")+len("xxxx1234"))

	sum := 0.0
	for _, v := range f {
		sum += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
	// order is name, email, card
	assert.InDelta(t, f[0]/f[1], float64('T')/float64('e'), 1e-9)
}

func TestFeatures_ZeroNorm(t *testing.T) {
	assert.Nil(t, Features("", "", ""))
	assert.Nil(t, Features("\x00", "", "\x00"))
}

func TestPipeline_RejectsInvalidEmail(t *testing.T) {
	calls := 0
	p := NewPipeline(WithRounds(2), WithWidth(4), WithSeedSource(func() (uint64, uint64) {
		calls++
		return 1, 2
	}))
	v := p.Evaluate(reservation("not-an-email", "Test Name", "xxxx1234"))
	assert.False(t, v.Accept)
	assert.Equal(t, ReasonInvalidEmail, v.Reason)
	assert.Nil(t, v.Scores)
	assert.Zero(t, calls, "scoring stage must be skipped")
	assert.False(t, p.Score(reservation("not-an-email", "n", "c")))
}

func TestPipeline_AcceptsValidReservation(t *testing.T) {
	p := NewPipeline(WithRounds(3), WithWidth(16), WithSeedSource(fixedSeed))
	v := p.Evaluate(reservation("a@b.co", "Test Name", "xxxx1234"))
	assert.True(t, v.Accept)
	assert.Empty(t, v.Reason)
	require.Len(t, v.Scores, 16)
	for _, s := range v.Scores {
		assert.GreaterOrEqual(t, s, 0.0, "rectifier output must be non-negative")
	}
}

func TestPipeline_DefaultProfile(t *testing.T) {
	p := NewPipeline(WithSeedSource(fixedSeed))
	v := p.Evaluate(reservation("test@test.com", "Test Name", "xxxx1234"))
	assert.True(t, v.Accept)
	assert.Len(t, v.Scores, DefaultWidth)
}

func TestPipeline_DeterministicForSeed(t *testing.T) {
	p := NewPipeline(WithRounds(4), WithWidth(8), WithSeedSource(fixedSeed))
	tk := reservation("a@b.co", "Test Name", "xxxx1234")
	assert.Equal(t, p.Evaluate(tk).Scores, p.Evaluate(tk).Scores)
}

func TestPipeline_RuleExtensionPoint(t *testing.T) {
	var seen []float64
	reject := RuleFunc(func(scores []float64) bool {
		seen = scores
		return false
	})
	p := NewPipeline(WithRounds(2), WithWidth(8), WithRule(reject), WithSeedSource(fixedSeed))
	v := p.Evaluate(reservation("a@b.co", "Test Name", "xxxx1234"))
	assert.False(t, v.Accept)
	assert.Equal(t, ReasonRule, v.Reason)
	assert.Len(t, seen, 8)
}

func TestPipeline_OptionsIgnoreInvalidValues(t *testing.T) {
	p := NewPipeline(WithRounds(0), WithWidth(-3), WithRule(nil), WithSeedSource(nil), WithLogger(nil))
	assert.Equal(t, DefaultRounds, p.rounds)
	assert.Equal(t, DefaultWidth, p.width)
	assert.NotNil(t, p.rule)
	assert.NotNil(t, p.seed)
}

func TestEvaluateMemoryLinearInInput(t *testing.T) {
	p := NewPipeline(WithRounds(1), WithSeedSource(fixedSeed))
	name := strings.Repeat("n", 256<<10)
	tk := reservation("a@b.com", name, "4111")

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	v := p.Evaluate(tk)
	runtime.ReadMemStats(&after)

	require.True(t, v.Accept)
	assert.Len(t, v.Scores, DefaultWidth)
	// features and one sampled row are 2 MiB each; a full matrix would be 256 MiB
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

