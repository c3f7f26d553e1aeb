package services

import (
	"competition-lifecycle/models"
)

// PollOutcomeKind classifies a finalized vote.
type PollOutcomeKind int

const (
	OutcomeAbstain PollOutcomeKind = iota
	OutcomeWinner
	OutcomeTie
)

func (k PollOutcomeKind) String() string {
	switch k {
	case OutcomeAbstain:
		return "abstain"
	case OutcomeWinner:
		return "winner"
	case OutcomeTie:
		return "tie"
	default:
		return "unknown"
	}
}

// PollOutcome is the result of evaluating a finalized tally.
type PollOutcome struct {
	Kind       PollOutcomeKind
	Winner     TallyEntry
	Tied       []TallyEntry
	TotalVotes int
}

// EvaluatePoll decides between abstention, a single winner and a tie.
//
// A zero-vote first poll abstains. A zero-vote tiebreaker is not abstained:
// every option holds the maximum of zero, so it evaluates as a tie among all
// of its options. Tied entries keep their poll order.
func EvaluatePoll(tally []TallyEntry, status models.CompetitionStatus) PollOutcome {
	total := 0
	for _, e := range tally {
		total += e.Votes
	}

	if len(tally) == 0 || (total == 0 && status != models.StatusTiebreakerPollStarted) {
		return PollOutcome{Kind: OutcomeAbstain, TotalVotes: total}
	}

	maxVotes := tally[0].Votes
	for _, e := range tally[1:] {
		if e.Votes > maxVotes {
			maxVotes = e.Votes
		}
	}

	var top []TallyEntry
	for _, e := range tally {
		if e.Votes == maxVotes {
			top = append(top, e)
		}
	}

	if len(top) == 1 {
		return PollOutcome{Kind: OutcomeWinner, Winner: top[0], TotalVotes: total}
	}
	return PollOutcome{Kind: OutcomeTie, Tied: top, TotalVotes: total}
}
