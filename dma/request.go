package dma

import "log"

// A Cookie identifies one submitted request on its virtual channel. Cookies
// increase monotonically with submission order, starting from 1.
type Cookie int32

// Result is what a completion callback receives.
type Result struct {
	Cookie  Cookie
	Err     error
	Residue uint64

	// Period counts the periods a cyclic request has delivered so far.
	Period uint64
	Cyclic bool
}

// A Callback is invoked once per completed request, or once per period for a
// cyclic request. It is never called with an engine lock held.
type Callback func(Result)

// A Request is a chain of tasks that makes up one transfer.
type Request struct {
	pool *TaskPool

	head   int32
	tail   int32
	count  int
	length uint64
	cyclic bool

	callback Callback
	cookie   Cookie
}

func newRequest(pool *TaskPool) *Request {
	return &Request{
		pool: pool,
		head: noTask,
		tail: noTask,
	}
}

// OnComplete sets the callback of the request. It must be called before
// the request is submitted.
func (r *Request) OnComplete(cb Callback) *Request {
	if r.cookie != 0 {
		log.Panicf("callback set on submitted request %d", r.cookie)
	}

	r.callback = cb

	return r
}

// HeadPhys returns the address of the first task, or LinkEnd once the
// request has been released.
func (r *Request) HeadPhys() uint32 {
	if r.head == noTask {
		return LinkEnd
	}

	return r.pool.get(r.head).phys
}

// NumTasks returns the number of tasks in the chain.
func (r *Request) NumTasks() int {
	return r.count
}

// Bytes returns the total length of the chain.
func (r *Request) Bytes() uint64 {
	return r.length
}

// IsCyclic tells whether the chain is a closed ring.
func (r *Request) IsCyclic() bool {
	return r.cyclic
}

// Cookie returns the cookie assigned at submission, or 0.
func (r *Request) Cookie() Cookie {
	return r.cookie
}

// Tasks returns the tasks of the chain in order.
func (r *Request) Tasks() []*TransferTask {
	tasks := make([]*TransferTask, 0, r.count)
	r.forEach(func(t *TransferTask) {
		tasks = append(tasks, t)
	})

	return tasks
}

// forEach walks the software links. They never close, even in a ring.
func (r *Request) forEach(fn func(t *TransferTask)) {
	for t := r.pool.get(r.head); t != nil; t = r.pool.get(t.next) {
		fn(t)
	}
}

// link appends t to the chain. The hardware next of the previous tail is
// pointed at t.
func (r *Request) link(t *TransferTask) {
	t.next = noTask
	t.HWNext = LinkEnd

	if prev := r.pool.get(r.tail); prev != nil {
		prev.next = t.index
		prev.HWNext = t.phys
	} else {
		r.head = t.index
	}

	r.tail = t.index
	r.count++
	r.length += uint64(t.Len)
}

// closeRing points the last task back at the first.
func (r *Request) closeRing() {
	r.pool.get(r.tail).HWNext = r.HeadPhys()
	r.cyclic = true
}

// residueFrom returns the bytes left when the controller is inside the task
// whose hardware next is pos and left bytes of it remain.
func (r *Request) residueFrom(pos, left uint32) uint64 {
	residue := uint64(left)
	if pos == LinkEnd {
		return residue
	}

	found := false
	r.forEach(func(t *TransferTask) {
		if found {
			residue += uint64(t.Len)
		} else if t.HWNext == pos {
			found = true
		}
	})

	return residue
}

// release hands every task back to the pool. The request must not be used
// afterwards.
func (r *Request) release() {
	t := r.pool.get(r.head)
	for t != nil {
		next := r.pool.get(t.next)
		r.pool.Free(t)
		t = next
	}

	r.head = noTask
	r.tail = noTask
}

// Release frees a request that was built but never submitted.
func (r *Request) Release() {
	if r.cookie != 0 {
		log.Panicf("release of submitted request %d", r.cookie)
	}

	r.release()
}
