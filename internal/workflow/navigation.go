package workflow

// Validity reports which step forms currently pass their submit predicates.
type Validity struct {
	Initiation   bool
	Assignment   bool
	Finalization bool
}

func (v Validity) forStep(id StepID) bool {
	switch id {
	case StepInitiate:
		return v.Initiation
	case StepAssign:
		return v.Assignment
	case StepConfigure:
		return v.Finalization
	}
	return false
}

// StepState is one step's progress as seen by a single actor.
type StepState struct {
	Step
	Accessible bool `json:"accessible"`
	Complete   bool `json:"complete"`
	Active     bool `json:"active"`
}

// Navigation is the actor's position in the wizard. Next and Previous are
// set only when the move is allowed.
type Navigation struct {
	Current     int         `json:"current"`
	Steps       []StepState `json:"steps"`
	CanNext     bool        `json:"can_next"`
	CanPrevious bool        `json:"can_previous"`
	Next        *StepState  `json:"next,omitempty"`
	Previous    *StepState  `json:"previous,omitempty"`
}

// ActionFor returns the transition a step performs.
func ActionFor(id StepID) (Action, bool) {
	switch id {
	case StepInitiate:
		return ActionInitiate, true
	case StepAssign:
		return ActionAssign, true
	case StepConfigure:
		return ActionFinalize, true
	}
	return "", false
}

// progress orders the non-terminal path; cancelled is off the path.
var progress = map[Status]int{
	StatusNone:      0,
	StatusInitiated: 1,
	StatusAssigned:  2,
	StatusFinalized: 3,
	StatusActive:    4,
	StatusComplete:  5,
}

// Reached reports whether s is target or a later status on the wizard path.
func Reached(s, target Status) bool {
	have, ok := progress[s]
	if !ok {
		return false
	}
	want, ok := progress[target]
	return ok && have >= want
}

// NavigationFor builds the per-step view for actor. A step is accessible
// when Evaluate allows its action now, and complete when its form is valid
// and the project reached the status the step produces. An empty current
// means the initiate step.
func NavigationFor(p ProjectRef, actor Actor, current StepID, v Validity) Navigation {
	if current == "" {
		current = StepInitiate
	}
	ordered := Steps()
	nav := Navigation{Current: -1, Steps: make([]StepState, 0, len(ordered))}
	for i, step := range ordered {
		st := StepState{Step: step, Active: step.ID == current}
		if a, ok := ActionFor(step.ID); ok {
			st.Accessible = Evaluate(p, a, actor) == DenialNone
			st.Complete = v.forStep(step.ID) && Reached(p.Status, NextStatusFor(a))
		}
		if st.Active {
			nav.Current = i
		}
		nav.Steps = append(nav.Steps, st)
	}
	if nav.Current < 0 {
		return nav
	}
	cur := nav.Steps[nav.Current]
	if next := nav.Current + 1; next < len(nav.Steps) && cur.Complete && nav.Steps[next].Accessible {
		nav.CanNext = true
		s := nav.Steps[next]
		nav.Next = &s
	}
	if prev := nav.Current - 1; prev >= 0 && nav.Steps[prev].Accessible {
		nav.CanPrevious = true
		s := nav.Steps[prev]
		nav.Previous = &s
	}
	return nav
}
