package question

import "github.com/p-n-ai/pai-elements/internal/qerr"

// State is the position of a variant in its pipeline.
type State string

const (
	StateSeeded             State = "seeded"
	StatePrepared           State = "prepared"
	StateRenderedQuestion   State = "rendered_question"
	StateSubmitted          State = "submitted"
	StateParsed             State = "parsed"
	StateGraded             State = "graded"
	StateFinalized          State = "finalized"
	StateRenderedSubmission State = "rendered_submission"
	StateTested             State = "tested"
)

// transitions lists the states reachable from each state. Rendering the
// answer panel is allowed from every state but seeded and does not move
// the variant.
var transitions = map[State][]State{
	StateSeeded:             {StatePrepared},
	StatePrepared:           {StateRenderedQuestion, StateSubmitted, StateTested},
	StateRenderedQuestion:   {StateRenderedQuestion, StateSubmitted},
	StateSubmitted:          {StateParsed},
	StateParsed:             {StateGraded, StateFinalized},
	StateGraded:             {StateRenderedSubmission, StateSubmitted},
	StateFinalized:          {StateRenderedSubmission, StateSubmitted},
	StateRenderedSubmission: {StateRenderedSubmission, StateSubmitted},
	StateTested:             {StateFinalized},
}

// CanMove reports whether a variant in from may move to to.
func CanMove(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkMove(from, to State) error {
	if !CanMove(from, to) {
		return qerr.Phase(string(from), string(to))
	}
	return nil
}
