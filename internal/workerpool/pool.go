// Package workerpool is a small tomb-supervised fixed-size worker pool,
// used by internal/netproto to bound the number of goroutines reading
// concurrently from connected clients.
package workerpool

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const defaultTaskChanSize = 100

// WorkerFunction is the unit of work a pool runs. A returned error kills
// the tomb, which in turn stops every other worker in the pool — callers
// that want a single failed task to not bring down the pool should handle
// their own errors and return nil.
type WorkerFunction func(t *tomb.Tomb, task any) error

// Pool runs up to n instances of a WorkerFunction concurrently, each
// pulling tasks off a shared channel.
type Pool struct {
	n     int
	tasks chan any
}

func New(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{
		n:     n,
		tasks: make(chan any, defaultTaskChanSize),
	}
}

// AddTask enqueues task for some worker to pick up.
func (p *Pool) AddTask(task any) {
	p.tasks <- task
}

// Run starts n workers under t and returns without waiting for them. Each
// worker runs work against tasks from the pool's channel until t dies or
// the channel is closed.
func (p *Pool) Run(t *tomb.Tomb, work WorkerFunction) {
	for id := 0; id < p.n; id++ {
		id := id
		t.Go(func() error {
			return p.worker(t, id, work)
		})
	}
}

func (p *Pool) worker(t *tomb.Tomb, id int, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task, ok := <-p.tasks:
			if !ok {
				return nil
			}
			if err := work(t, task); err != nil {
				log.Error().Err(err).Int("worker", id).Msg("worker exiting")
				return err
			}
		}
	}
}
