package dispatch

import "sync"

// admission bounds the number of simultaneously processing requests.
// Every granted tryAdmit is paired with exactly one release; the executor
// owns that release on every exit path, including requeues (the backoff
// delay holds no slot).
type admission struct {
	mu   sync.Mutex
	max  int
	used int
}

func newAdmission(max int) *admission {
	if max < 1 {
		max = 1
	}
	return &admission{max: max}
}

// tryAdmit claims a slot iff in-flight < max.
func (a *admission) tryAdmit() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used >= a.max {
		return false
	}
	a.used++
	return true
}

// release frees a slot. Releasing more than was admitted is a caller bug.
func (a *admission) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.used <= 0 {
		panic("dispatch: admission release without admit")
	}
	a.used--
}

// resize changes the limit. Shrinking below the current in-flight count
// admits nothing new until enough slots free up; running work is not
// preempted.
func (a *admission) resize(max int) {
	if max < 1 {
		max = 1
	}
	a.mu.Lock()
	a.max = max
	a.mu.Unlock()
}

func (a *admission) inFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

func (a *admission) limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max
}
