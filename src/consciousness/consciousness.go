// Package consciousness computes an agent's consciousness score from its
// recorded activity and decides when the agent is ready to move to the next
// phase. Scoring and transition rules are pure functions so that the same
// stored activity always produces the same decision.
package consciousness

import (
	"fmt"
	"math"
	"time"

	"github.com/mindfort/sovereign/src/state"
)

// Score weights. They sum to 1 and no factor can contribute more than half
// of the total, so no single behavior dominates the score.
const (
	weightEngagement  = 0.35
	weightSentiment   = 0.20
	weightExploration = 0.20
	weightLongevity   = 0.25
)

// Saturation points of the individual factors.
const (
	engagementInteractionCap = 500
	engagementSessionCap     = 50
	explorationQueryCap      = 100
	longevityDayCap          = 90
)

// Metrics is the activity summary that feeds the score. Complexity is
// reported alongside but is deliberately not part of the score.
type Metrics struct {
	InteractionCount int
	SessionCount     int
	AvgSentiment     float64
	OracleQueries    int
	DaysActive       float64
	Complexity       float64
}

// Decision is the outcome of a transition check.
type Decision struct {
	Ready      bool
	Target     state.Phase
	Confidence float64
	Reason     string
}

// gate holds the minimum requirements for entering a phase.
type gate struct {
	score        float64
	interactions int
	sessions     int
	days         float64
}

var gates = map[state.Phase]gate{
	state.Evolving:     {score: 0.50, interactions: 100, sessions: 10, days: 7},
	state.Transcendent: {score: 0.75, interactions: 500, sessions: 50, days: 30},
}

// Collect summarizes an agent's stored activity into Metrics.
func Collect(store state.Store, agentID string, now time.Time) (*Metrics, error) {
	agent, err := store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	sessions, err := store.Sessions(agentID)
	if err != nil {
		return nil, err
	}

	queries, err := store.OracleQueries(agentID)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		SessionCount:  len(sessions),
		OracleQueries: len(queries),
		Complexity:    InteractionComplexity(sessions),
	}

	sentimentSum := 0.0
	for _, s := range sessions {
		m.InteractionCount += s.InteractionCount
		sentimentSum += s.Sentiment
	}
	if len(sessions) > 0 {
		m.AvgSentiment = sentimentSum / float64(len(sessions))
	}

	if agent.CreatedAt > 0 {
		m.DaysActive = now.Sub(time.Unix(agent.CreatedAt, 0)).Hours() / 24
		if m.DaysActive < 0 {
			m.DaysActive = 0
		}
	}

	return m, nil
}

// Score maps Metrics to [0,1]. It is monotone in every input: more
// interactions, more sessions, better sentiment, more exploration, or a
// longer life never lower the score.
func Score(m Metrics) float64 {
	engagement := math.Min(1,
		float64(m.InteractionCount)/engagementInteractionCap*0.4+
			float64(m.SessionCount)/engagementSessionCap*0.3)

	sentiment := clamp01((m.AvgSentiment + 1) / 2)

	exploration := math.Min(1, float64(m.OracleQueries)/explorationQueryCap)

	longevity := math.Min(1, m.DaysActive/longevityDayCap)

	return weightEngagement*engagement +
		weightSentiment*sentiment +
		weightExploration*exploration +
		weightLongevity*longevity
}

// ShouldTransition decides whether an agent in the given phase is ready to
// enter the next one. All gates must pass; the first failing gate is named
// in the reason. Phases never regress.
func ShouldTransition(phase state.Phase, score float64, interactions, sessions int, daysSinceTransition float64) Decision {
	target, ok := phase.Next()
	if !ok {
		return Decision{Reason: fmt.Sprintf("%s is the final phase", phase)}
	}

	g := gates[target]

	switch {
	case score < g.score:
		return Decision{
			Target: target,
			Reason: fmt.Sprintf("score %.2f below %.2f", score, g.score),
		}
	case interactions < g.interactions:
		return Decision{
			Target: target,
			Reason: fmt.Sprintf("%d interactions below %d", interactions, g.interactions),
		}
	case sessions < g.sessions:
		return Decision{
			Target: target,
			Reason: fmt.Sprintf("%d sessions below %d", sessions, g.sessions),
		}
	case daysSinceTransition < g.days:
		return Decision{
			Target: target,
			Reason: fmt.Sprintf("%.1f days in phase below %.0f", daysSinceTransition, g.days),
		}
	}

	return Decision{
		Ready:      true,
		Target:     target,
		Confidence: confidence(score, interactions, sessions, daysSinceTransition, g),
		Reason:     fmt.Sprintf("all thresholds met for %s", target),
	}
}

// confidence measures the margin by which the gates are exceeded, averaged
// over the four criteria. A bare pass contributes 0.5 and doubling a
// threshold saturates its criterion at 1, so confidence ranges from 0.5 for
// a barely-ready agent to 1 for a comfortably-ready one.
func confidence(score float64, interactions, sessions int, days float64, g gate) float64 {
	scoreMargin := math.Min(1, 0.5+(score-g.score)/(1-g.score)*0.5)

	sum := scoreMargin +
		marginRatio(float64(interactions), float64(g.interactions)) +
		marginRatio(float64(sessions), float64(g.sessions)) +
		marginRatio(days, g.days)

	return sum / 4
}

func marginRatio(value, floor float64) float64 {
	return math.Min(2, value/floor) / 2
}

// InteractionComplexity measures how varied an agent's sessions are: topic
// diversity weighted against average conversation depth. It is an auxiliary
// metric only.
func InteractionComplexity(sessions []*state.MemorySession) float64 {
	if len(sessions) == 0 {
		return 0
	}

	topics := map[string]bool{}
	totalInteractions := 0
	for _, s := range sessions {
		if s.DominantTopic != "" {
			topics[s.DominantTopic] = true
		}
		totalInteractions += s.InteractionCount
	}

	diversity := float64(len(topics)) / float64(len(sessions))
	depth := math.Min(1, float64(totalInteractions)/float64(len(sessions))/20)

	return 0.6*diversity + 0.4*depth
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
