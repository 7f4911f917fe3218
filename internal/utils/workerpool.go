package utils

import (
	"context"
	"sync"
)

// Task represents a unit of work and its outcome
type Task[T, R any] struct {
	Index  int
	Data   T
	Result R
	Err    error
}

// Worker is a function that processes a task
type Worker[T, R any] func(ctx context.Context, data T) (R, error)

// Pool runs a worker over a batch of items with bounded concurrency
type Pool[T, R any] struct {
	workers int
	worker  Worker[T, R]
}

// NewPool creates a new worker pool
func NewPool[T, R any](workers int, worker Worker[T, R]) *Pool[T, R] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[T, R]{
		workers: workers,
		worker:  worker,
	}
}

// Process processes items concurrently and returns the tasks in input order.
// Items not started before ctx is done carry ctx.Err().
func (p *Pool[T, R]) Process(ctx context.Context, items []T) []*Task[T, R] {
	tasks := make([]*Task[T, R], len(items))
	for i, item := range items {
		tasks[i] = &Task[T, R]{Index: i, Data: item}
	}
	if len(items) == 0 {
		return tasks
	}

	queue := make(chan *Task[T, R])
	var wg sync.WaitGroup

	workers := min(p.workers, len(items))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				task.Result, task.Err = p.worker(ctx, task.Data)
			}
		}()
	}

	submitted := 0
submit:
	for _, task := range tasks {
		select {
		case <-ctx.Done():
			break submit
		case queue <- task:
			submitted++
		}
	}
	close(queue)
	wg.Wait()

	for _, task := range tasks[submitted:] {
		task.Err = ctx.Err()
	}

	return tasks
}
