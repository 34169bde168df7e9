package web

import (
	"context"
	"fmt"
	"sync"

	"github.com/lvcoi/dgetmusic/internal/ws"
)

// Task is one batch job handed to the pool.
type Task struct {
	ID       string
	Execute  func(ctx context.Context) int
	OnFinish func(id string, exitCode int)
}

// Broadcaster decouples the pool from the WebSocket hub.
type Broadcaster interface {
	Broadcast(msg ws.WSMessage)
}

// Pool runs tasks on a fixed number of workers.
type Pool struct {
	TaskQueue chan Task
	Workers   int
	Hub       Broadcaster
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewPool(workers int, hub Broadcaster) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		TaskQueue: make(chan Task),
		Workers:   workers,
		Hub:       hub,
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.Workers; i++ {
		go p.worker()
	}
}

// AddTask queues t without blocking the caller. Tasks queued after Stop are
// dropped.
func (p *Pool) AddTask(t Task) {
	p.wg.Add(1)
	go func() {
		select {
		case p.TaskQueue <- t:
		case <-p.ctx.Done():
			p.wg.Done()
		}
	}()
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.TaskQueue:
			p.processTask(task)
			p.wg.Done()
		}
	}
}

func (p *Pool) processTask(t Task) {
	p.Hub.Broadcast(ws.WSMessage{
		Type:    "job",
		Payload: ws.JobPayload{JobID: t.ID, Status: statusRunning},
	})

	exitCode := t.Execute(p.ctx)
	if exitCode != 0 {
		p.Hub.Broadcast(ws.WSMessage{
			Type: "error",
			Payload: ws.ErrorPayload{
				JobID:   t.ID,
				Message: fmt.Sprintf("exit code %d", exitCode),
				Code:    exitCode,
			},
		})
	}
	if t.OnFinish != nil {
		t.OnFinish(t.ID, exitCode)
	}
}

// Wait blocks until every queued task has finished or been dropped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}
