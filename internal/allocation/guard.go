package allocation

// Lock names recognised by the recursion guard. Lecture and exam
// recalculations hold independent locks.
const (
	LockLectures = "lectures"
	LockExams    = "exams"
)

// Guard stops a recalculation's own writes from re-triggering the same
// recalculation within one call stack: a nested acquire of a held lock is a
// silent no-op, not an error.
//
// A Guard is scoped to a single request or transaction and is not safe for
// concurrent use, nor is it a cross-instance lock; serialising concurrent
// mutations to one topic is the database transaction's job.
type Guard struct {
	held map[string]bool
}

// NewGuard returns a guard with all locks released.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]bool, 2)}
}

// Held reports whether the named lock is currently held.
func (g *Guard) Held(name string) bool {
	return g.held[name]
}

// WithLock runs fn while holding the named lock. If the lock is already held
// the call returns nil immediately without running fn. The lock is released
// even when fn returns an error or panics.
func (g *Guard) WithLock(name string, fn func() error) error {
	if g.held[name] {
		return nil
	}
	g.held[name] = true
	defer delete(g.held, name)
	return fn()
}
