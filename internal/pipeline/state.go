package pipeline

import "fmt"

// State is the last step a poll cycle completed.
type State int

const (
	StateInit State = iota
	StateAuthenticated
	StateMailboxesListed
	StateMailboxSelected
	StateSearched
	StateFetched
	StateProcessed
	StateSleeping
	StateHalted
)

var stateNames = [...]string{
	StateInit:            "init",
	StateAuthenticated:   "authenticated",
	StateMailboxesListed: "mailboxes_listed",
	StateMailboxSelected: "mailbox_selected",
	StateSearched:        "searched",
	StateFetched:         "fetched",
	StateProcessed:       "processed",
	StateSleeping:        "sleeping",
	StateHalted:          "halted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome is how a step ended.
type Outcome int

const (
	// Advance moves to the following state.
	Advance Outcome = iota
	// Skip ends the cycle early with nothing left to do.
	Skip
	// Fail halts the cycle.
	Fail
)

// Next returns the state reached when the step leaving s ends with o.
// A cycle ends in StateSleeping or StateHalted; after sleeping, polling
// resumes from StateMailboxSelected, whose step is the unseen search.
func Next(s State, o Outcome) State {
	switch {
	case o == Fail:
		return StateHalted
	case o == Skip:
		return StateSleeping
	case s == StateSleeping:
		return StateMailboxSelected
	case s >= StateInit && s < StateProcessed:
		return s + 1
	case s == StateProcessed:
		return StateSleeping
	default:
		return StateHalted
	}
}

// Stage names the transport or processing step a state leads into.
type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StageList         Stage = "list"
	StageSelect       Stage = "select"
	StageSearch       Stage = "search"
	StageFetch        Stage = "fetch"
	StageProcess      Stage = "process"
	StageFlag         Stage = "flag"
)

// StageError is returned when a step halts a cycle.
type StageError struct {
	Stage   Stage
	Mailbox string
	Err     error
}

func (e *StageError) Error() string {
	if e.Mailbox != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Mailbox, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
