package compass

import "context"

const coverageEpsilon = 1e-9

type selectionCandidate struct {
	submissionID uint
	coverage     float64
	gain         int
}

// better orders candidates: lowest coverage, then highest knowledge gain, then oldest submission.
func (c selectionCandidate) better(other selectionCandidate) bool {
	if diff := c.coverage - other.coverage; diff < -coverageEpsilon || diff > coverageEpsilon {
		return diff < 0
	}
	if c.gain != other.gain {
		return c.gain > other.gain
	}
	return c.submissionID < other.submissionID
}

// NextOptimalModel selects the unassessed submission whose manual assessment is expected to
// unlock the most automatic grading and appends it to the waiting list.
func (e *Engine) NextOptimalModel() (uint, bool) {
	e.touch()
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.nextOptimalLocked()
	if ok {
		e.waiting = append(e.waiting, id)
	}
	return id, ok
}

func (e *Engine) nextOptimalLocked() (uint, bool) {
	queued := make(map[uint]struct{}, len(e.waiting))
	for _, id := range e.waiting {
		queued[id] = struct{}{}
	}

	eligible := func(id uint) bool {
		if _, ok := e.assessed[id]; ok {
			return false
		}
		if _, ok := e.handled[id]; ok {
			return false
		}
		if _, ok := e.locked[id]; ok {
			return false
		}
		_, ok := queued[id]
		return !ok
	}

	demand := e.identityDemandLocked()

	var best *selectionCandidate
	for _, id := range e.index.Submissions() {
		if !eligible(id) {
			continue
		}
		d, _ := e.index.Get(id)

		gain := 0
		counted := make(map[CanonicalID]struct{})
		for _, element := range d.Elements() {
			identity, ok := e.index.Lookup(element)
			if !ok {
				continue
			}
			if _, covered := e.grades.entries[identity]; covered {
				continue
			}
			if _, dup := counted[identity]; dup {
				continue
			}
			counted[identity] = struct{}{}
			gain += demand[identity]
		}

		candidate := selectionCandidate{
			submissionID: id,
			coverage:     e.grades.grade(d, e.index.Lookup).Coverage,
			gain:         gain,
		}
		if best == nil || candidate.better(*best) {
			best = &candidate
		}
	}

	if best == nil {
		return 0, false
	}
	return best.submissionID, true
}

// identityDemandLocked counts, per unassessed identity, the elements of unassessed
// submissions that would be graded automatically once the identity is assessed.
func (e *Engine) identityDemandLocked() map[CanonicalID]int {
	demand := make(map[CanonicalID]int)
	for _, id := range e.index.Submissions() {
		if _, ok := e.assessed[id]; ok {
			continue
		}
		d, _ := e.index.Get(id)
		for _, element := range d.Elements() {
			identity, ok := e.index.Lookup(element)
			if !ok {
				continue
			}
			if _, covered := e.grades.entries[identity]; covered {
				continue
			}
			demand[identity]++
		}
	}
	return demand
}

// WaitingList tops the waiting list up to its target size and returns it. Entries that the
// authoritative lookup reports as already assessed are dropped and never returned; entries
// whose check fails are withheld from this result but stay queued.
func (e *Engine) WaitingList(ctx context.Context, lookup AssessmentLookup) []uint {
	e.touch()
	for {
		candidates := e.topUp()
		if lookup == nil {
			return candidates
		}

		usable := make([]uint, 0, len(candidates))
		var stale []uint
		for _, id := range candidates {
			done, err := lookup.HasCompletedAssessment(ctx, id)
			switch {
			case err != nil:
			case done:
				stale = append(stale, id)
			default:
				usable = append(usable, id)
			}
		}

		if len(stale) == 0 || ctx.Err() != nil {
			return usable
		}
		e.MarkAssessed(stale...)
	}
}

func (e *Engine) topUp() []uint {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.waiting) < e.opts.waitingListSize {
		id, ok := e.nextOptimalLocked()
		if !ok {
			break
		}
		e.waiting = append(e.waiting, id)
	}

	out := make([]uint, len(e.waiting))
	copy(out, e.waiting)
	return out
}

// AssignNext hands the first verified waiting-list entry to one assessor. The entry leaves
// the waiting list and stays locked until it is assessed or released.
func (e *Engine) AssignNext(ctx context.Context, lookup AssessmentLookup) (uint, bool) {
	for ctx.Err() == nil {
		candidates := e.WaitingList(ctx, lookup)
		if len(candidates) == 0 {
			return 0, false
		}
		for _, id := range candidates {
			if e.take(id) {
				return id, true
			}
		}
		// every verified entry went to a concurrent caller; look again
	}
	return 0, false
}

func (e *Engine) take(submissionID uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inWaitingLocked(submissionID) {
		return false
	}
	e.removeWaitingLocked(submissionID)
	e.locked[submissionID] = struct{}{}
	return true
}

// Release removes a submission from the waiting list and from assessment. With requeue the
// submission can be selected again later; without it the submission is considered handled.
func (e *Engine) Release(submissionID uint, requeue bool) {
	e.touch()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeWaitingLocked(submissionID)
	delete(e.locked, submissionID)
	if requeue {
		delete(e.handled, submissionID)
		return
	}
	e.handled[submissionID] = struct{}{}
}

// InAssessment reports whether the submission is currently handed out to an assessor.
func (e *Engine) InAssessment(submissionID uint) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.locked[submissionID]
	return ok
}

func (e *Engine) inWaitingLocked(submissionID uint) bool {
	for _, id := range e.waiting {
		if id == submissionID {
			return true
		}
	}
	return false
}

func (e *Engine) removeWaitingLocked(submissionID uint) {
	for i, id := range e.waiting {
		if id == submissionID {
			e.waiting = append(e.waiting[:i:i], e.waiting[i+1:]...)
			return
		}
	}
}
