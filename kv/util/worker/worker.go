package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type TaskStop struct{}

// taskFlush is answered once every task sent before it was handled.
type taskFlush struct {
	done chan struct{}
}

type Task interface{}

// Worker runs tasks one at a time, in the order they were sent, on its own goroutine.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
	stopped  atomic.Bool
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debug("worker started", zap.String("name", w.name))
		for {
			task := <-w.receiver
			switch t := task.(type) {
			case TaskStop:
				log.Debug("worker stopped", zap.String("name", w.name))
				return
			case taskFlush:
				close(t.done)
			default:
				w.handle(handler, task)
			}
		}
	}()
}

// handle keeps the worker alive when a task panics.
func (w *Worker) handle(handler TaskHandler, task Task) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("worker task panicked", zap.String("name", w.name), zap.Any("panic", p), zap.Stack("stack"))
		}
	}()
	handler.Handle(task)
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Flush blocks until every task sent before it has been handled. The worker must be running.
func (w *Worker) Flush() {
	done := make(chan struct{})
	w.sender <- taskFlush{done: done}
	<-done
}

// Stop asks the worker to exit after the tasks already sent. Only the first call has an effect.
func (w *Worker) Stop() {
	if w.stopped.Swap(true) {
		return
	}
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
