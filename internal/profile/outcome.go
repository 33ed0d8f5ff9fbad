package profile

import "fmt"

// OutcomeKind classifies a remote profile lookup.
type OutcomeKind int

const (
	OutcomeFound OutcomeKind = iota + 1
	OutcomeNotFound
	// OutcomeAmbiguousBlocked means the remote reported no rows while the
	// cache holds an entry for the same owner: most likely the remote's
	// permissions have not caught up yet, not a genuine absence.
	OutcomeAmbiguousBlocked
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAmbiguousBlocked:
		return "ambiguous_blocked"
	case OutcomeError:
		return "error"
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// Outcome is the tagged result of resolving a profile.
type Outcome struct {
	Kind    OutcomeKind
	Profile *Profile // set for OutcomeFound
	Err     error    // set for OutcomeError
}

func Found(p *Profile) Outcome { return Outcome{Kind: OutcomeFound, Profile: p} }
func NotFound() Outcome { return Outcome{Kind: OutcomeNotFound} }
func AmbiguousBlocked() Outcome { return Outcome{Kind: OutcomeAmbiguousBlocked} }
func Failed(err error) Outcome { return Outcome{Kind: OutcomeError, Err: err} }

// Terminal reports whether retrying cannot change the answer.
func (o Outcome) Terminal() bool {
	return o.Kind == OutcomeFound || o.Kind == OutcomeNotFound
}

func (o Outcome) String() string {
	if o.Kind == OutcomeError && o.Err != nil {
		return fmt.Sprintf("%s: %v", o.Kind, o.Err)
	}
	return o.Kind.String()
}
