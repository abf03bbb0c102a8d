package dispatch

import "sync"

// jobLocks hands out one mutex per job. Every writer that publishes events
// for a job holds it from its store update until its last publish, so a
// provider always hears about an offer before hearing how it ended.
type jobLocks struct {
	mu    sync.Mutex
	locks map[string]*jobLock
}

type jobLock struct {
	mu   sync.Mutex
	refs int
}

func newJobLocks() *jobLocks {
	return &jobLocks{locks: make(map[string]*jobLock)}
}

// lock blocks until the job's mutex is held and returns its release func.
func (l *jobLocks) lock(jobID string) func() {
	l.mu.Lock()
	jl, ok := l.locks[jobID]
	if !ok {
		jl = &jobLock{}
		l.locks[jobID] = jl
	}
	jl.refs++
	l.mu.Unlock()

	jl.mu.Lock()
	return func() {
		jl.mu.Unlock()

		l.mu.Lock()
		jl.refs--
		if jl.refs == 0 {
			delete(l.locks, jobID)
		}
		l.mu.Unlock()
	}
}

func (l *jobLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
