package engine

// clone deep-copies the mutable parts of a battle state so Apply never aliases
// maps or the open round with its input.
func clone(s State) State {
	next := s
	next.Participants = append([]Participant(nil), s.Participants...)
	next.Rounds = append([]Round(nil), s.Rounds...)
	if s.Open != nil {
		open := *s.Open
		open.Responses = cloneResponses(s.Open.Responses)
		open.Scores = cloneScores(s.Open.Scores)
		next.Open = &open
	}
	return next
}

// Clone is the exported variant used when handing state snapshots across
// goroutine boundaries.
func Clone(s State) State { return clone(s) }

func cloneResponses(m map[string]Response) map[string]Response {
	out := make(map[string]Response, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneScores(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AllResponded reports whether every participant still able to answer has a
// response in the open round. Used to close rounds early.
func AllResponded(s State) bool {
	if s.Open == nil {
		return false
	}
	for _, p := range s.Participants {
		if p.Status != ParticipantActive {
			continue
		}
		if _, ok := s.Open.Responses[p.ID]; !ok {
			return false
		}
	}
	return true
}

// ContainsEvent reports whether an event of the given type was emitted.
func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}
