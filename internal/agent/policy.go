package agent

import "github.com/chadiek/prescreen/internal/backend"

// Follow-up question bounds used when none are configured.
const (
	DefaultMinFollowUps = 2
	DefaultMaxFollowUps = 5
)

// FollowUpPolicy bounds how many follow-up questions are asked.
// TrustEarlyDone lets a backend "done" end the section before MinQuestions answers.
type FollowUpPolicy struct {
	MinQuestions   int
	MaxQuestions   int
	TrustEarlyDone bool
}

// DefaultFollowUpPolicy asks between two and five questions.
func DefaultFollowUpPolicy() FollowUpPolicy {
	return FollowUpPolicy{MinQuestions: DefaultMinFollowUps, MaxQuestions: DefaultMaxFollowUps}
}

// Verdict is the outcome of one follow-up answer.
type Verdict struct {
	Complete     bool
	NextQuestion string
}

func (p FollowUpPolicy) normalized() FollowUpPolicy {
	if p.MinQuestions < 1 {
		p.MinQuestions = 1
	}
	if p.MaxQuestions < p.MinQuestions {
		p.MaxQuestions = p.MinQuestions
	}
	return p
}

// Decide applies the bounds to a backend reply. asked counts the questions put to the
// patient so far, including the one just answered. fallback holds seed questions not yet
// asked, in order; it is used when the backend stops before the minimum.
func (p FollowUpPolicy) Decide(asked int, reply backend.AnswerResponse, fallback []string) Verdict {
	p = p.normalized()
	next := reply.NextQuestion

	if reply.Done && (p.TrustEarlyDone || asked >= p.MinQuestions) {
		return Verdict{Complete: true}
	}
	if asked < p.MaxQuestions && next != "" {
		return Verdict{NextQuestion: next}
	}
	if asked >= p.MinQuestions {
		return Verdict{Complete: true}
	}
	if next != "" {
		return Verdict{NextQuestion: next}
	}
	for _, q := range fallback {
		if q != "" {
			return Verdict{NextQuestion: q}
		}
	}
	return Verdict{Complete: true}
}
