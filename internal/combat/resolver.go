// Package combat turns one listening session's snapshot into damage.
//
// A [Resolver] is pure: it reads the peak loudness, the calibrated baseline
// and the latest transcript, consults the keyword catalog and produces a
// [Result] with the damage number and the log lines the client shows verbatim.
// It never fails; missing speech recognition or a silent microphone simply
// land in the no-keyword outcome.
package combat

import (
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/lastecho/internal/intensity"
	"github.com/MrWong99/lastecho/internal/lexicon"
)

// intensityScale is the damage bonus per point of normalised intensity.
const intensityScale = 0.05

// echoScale converts normalised intensity directly into echo damage.
const echoScale = 1.5

// Outcome classifies how an attack resolved.
type Outcome int

const (
	// OutcomeNoKeyword means the transcript was empty.
	OutcomeNoKeyword Outcome = iota

	// OutcomeNoMatch means the transcript named no catalog entry.
	OutcomeNoMatch

	// OutcomeUnderpowered means an ultimate phrase was spoken too quietly.
	OutcomeUnderpowered

	// OutcomeHit means a keyword matched and damage was computed.
	OutcomeHit

	// OutcomeEcho is a keyword-less echo attack that dealt damage.
	OutcomeEcho

	// OutcomeEchoShallow is an echo attack too quiet to deal damage.
	OutcomeEchoShallow
)

// String returns the outcome label used in metrics and API payloads.
func (o Outcome) String() string {
	switch o {
	case OutcomeNoKeyword:
		return "no_keyword"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeUnderpowered:
		return "underpowered"
	case OutcomeHit:
		return "hit"
	case OutcomeEcho:
		return "echo"
	case OutcomeEchoShallow:
		return "echo_shallow"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Input is everything the resolver needs about one attack attempt. It is
// normally built from a single session snapshot so that peak and transcript
// are consistent with each other.
type Input struct {
	PeakLevel  float64
	BaselineDB float64
	Transcript string
	Class      Class
	Mobile     bool
}

// Result is the outcome of one attack resolution.
type Result struct {
	Damage         int
	Logs           []string
	MatchedKeyword string
	PeakLevel      float64
	Ultimate       bool
	Outcome        Outcome

	// Hint is a near-miss keyword suggestion, set only for OutcomeNoMatch.
	Hint string
}

// Resolver computes attack results against a keyword catalog.
type Resolver struct {
	catalog       lexicon.Source
	hintThreshold float64
	hints         bool
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithHints enables near-miss keyword hints on unmatched transcripts using the
// given Jaro-Winkler threshold (0 selects the lexicon default).
func WithHints(threshold float64) Option {
	return func(r *Resolver) {
		r.hints = true
		r.hintThreshold = threshold
	}
}

// NewResolver returns a resolver reading keywords from src on every call, so
// a hot-swapped catalog takes effect on the next attack.
func NewResolver(src lexicon.Source, opts ...Option) *Resolver {
	r := &Resolver{catalog: src}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve computes a keyword attack against target.
func (r *Resolver) Resolve(in Input, target string) Result {
	res := Result{PeakLevel: in.PeakLevel}

	spoken := strings.TrimSpace(stripTerminal(in.Transcript))
	if spoken == "" {
		res.Outcome = OutcomeNoKeyword
		res.Logs = []string{"키워드가 감지되지 않았습니다. 입을 열어 외치세요!"}
		return res
	}

	cat := r.catalog.Current()
	kw, ok := cat.Find(spoken)
	switch {
	case !ok:
		res.Outcome = OutcomeNoMatch
		res.Logs = []string{"(올바른 액션 키워드를 외치지 않았습니다. 예: ...소닉 펀치!)"}
		if r.hints {
			if h, found := cat.Closest(spoken, r.hintThreshold); found {
				res.Hint = h.Keyword.Phrase
			}
		}
		return res
	case kw.Tier == lexicon.TierUltimate && in.PeakLevel < kw.RequiredDB:
		res.Outcome = OutcomeUnderpowered
		res.Logs = []string{"공명 파동이 얕습니다... (현재 최고 Peak dB: " +
			formatRound(in.PeakLevel) + " / 요구치: " + formatNumber(kw.RequiredDB) + ")"}
		return res
	case kw.Tier == lexicon.TierUltimate:
		res.Ultimate = true
		res.Logs = append(res.Logs, "[절대 공명] "+kw.Phrase+"!!")
	default:
		res.Logs = append(res.Logs, "[액션 키워드 발동] "+kw.Phrase+"!")
	}

	res.Outcome = OutcomeHit
	res.MatchedKeyword = kw.Phrase

	n := r.intensity(in)
	dmg := floorMul(kw.BaseDamage, 1+float64(n*intensityScale))
	dmg = in.Class.apply(dmg, res.Ultimate)
	res.Damage = dmg

	if dmg > 0 {
		res.Logs = append(res.Logs, "=> "+target+"에게 "+strconv.Itoa(dmg)+
			"의 파음(破音) 피해를 입혔다! (Peak DB: "+formatRound(in.PeakLevel)+")")
	}
	return res
}

// Echo computes a keyword-less attack from loudness alone. Class modifiers do
// not apply.
func (r *Resolver) Echo(in Input) Result {
	res := Result{PeakLevel: in.PeakLevel}
	res.Damage = int(math.Floor(float64(r.intensity(in) * echoScale)))
	if res.Damage <= 0 {
		res.Damage = 0
		res.Outcome = OutcomeEchoShallow
		res.Logs = []string{"공명 파동이 너무 얕아 피해를 주지 못했습니다."}
		return res
	}
	res.Outcome = OutcomeEcho
	res.Logs = []string{
		"[메아리 타격] 공간의 진동이 적을 꿰뚫었다!",
		"=> " + strconv.Itoa(res.Damage) + "의 원초적 메아리 피해를 입혔다! (Peak DB: " + formatRound(in.PeakLevel) + ")",
	}
	return res
}

func (r *Resolver) intensity(in Input) float64 {
	return intensity.Normalizer{Mobile: in.Mobile}.Normalize(intensity.RawDelta(in.PeakLevel, in.BaselineDB))
}

func stripTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '!', '.', '?':
			return -1
		}
		return r
	}, s)
}

// floorMul returns floor(v*f). The explicit conversion keeps the product from
// being fused into a multiply-add, so results are identical on every platform.
func floorMul(v int, f float64) int {
	return int(math.Floor(float64(float64(v) * f)))
}

// formatRound rounds half up, matching how peak levels are shown elsewhere.
func formatRound(v float64) string {
	return strconv.FormatFloat(math.Floor(v+0.5), 'f', 0, 64)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
