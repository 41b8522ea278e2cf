package workflow

// Queue is the work list the development phase traverses. It is an explicit
// FIFO over an append-only backing slice: Pop advances a cursor instead of
// removing elements, so the full ordered history stays available for
// snapshots, and rework tasks pushed mid-traversal are visited in the same
// pass. The backing slice only ever grows.
type Queue struct {
	tasks []Task
	next  int
}

// NewQueue creates a queue seeded with the planned tasks.
func NewQueue(tasks []Task) *Queue {
	q := &Queue{tasks: make([]Task, len(tasks))}
	copy(q.tasks, tasks)
	return q
}

// Pop returns the next unvisited task. The second return is false when the
// traversal is exhausted.
func (q *Queue) Pop() (Task, bool) {
	if q.next >= len(q.tasks) {
		return Task{}, false
	}
	t := q.tasks[q.next]
	q.next++
	return t, true
}

// Push appends a task to the end of the traversal.
func (q *Queue) Push(t Task) {
	q.tasks = append(q.tasks, t)
}

// Len returns the total number of tasks ever enqueued.
func (q *Queue) Len() int { return len(q.tasks) }

// Remaining returns how many tasks have not been visited yet.
func (q *Queue) Remaining() int { return len(q.tasks) - q.next }

// MaxID returns the highest task id in the queue, or 0 when empty. Rework
// injection assigns MaxID()+1.
func (q *Queue) MaxID() int {
	max := 0
	for _, t := range q.tasks {
		if t.ID > max {
			max = t.ID
		}
	}
	return max
}

// Tasks returns a copy of the full ordered task list, visited or not.
func (q *Queue) Tasks() []Task {
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}
