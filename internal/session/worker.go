package session

import "sync"

// worker runs negotiation tasks one at a time in submission order. The queue
// is unbounded so the controller loop never blocks on submit.
type worker struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

func newWorker() *worker {
	w := &worker{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) submit(fn func()) {
	w.mu.Lock()
	w.tasks = append(w.tasks, fn)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// stop discards queued tasks. A task already running finishes.
func (w *worker) stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *worker) run() {
	for {
		w.mu.Lock()
		if len(w.tasks) == 0 {
			w.mu.Unlock()
			select {
			case <-w.wake:
				continue
			case <-w.quit:
				return
			}
		}
		fn := w.tasks[0]
		w.tasks[0] = nil
		w.tasks = w.tasks[1:]
		w.mu.Unlock()

		select {
		case <-w.quit:
			return
		default:
		}
		fn()
	}
}
