package worker

import "github.com/arialabs/aria/pkg/logger"

var log = logger.Get("Worker")

type (
	WakeupChan   chan int
	WorkerStatus int

	// Task is the unit of work executed by a worker each time it wakes. The
	// boolean return indicates whether any work was actually performed; a
	// worker which performed work will immediately poll for more, whereas an
	// idle worker returns to sleep until woken again.
	Task func(w Worker) (bool, error)

	Worker interface {
		Start()
		Status() WorkerStatus
		WakeupChan() WakeupChan
		Label() string
		Close()
	}

	taskWorker struct {
		label         string
		task          Task
		wakeupChan    WakeupChan
		currentStatus WorkerStatus
	}
)

const (
	SLEEPING WorkerStatus = iota
	WORKING
	FINISHED
)

func NewWorker(label string, task Task) *taskWorker {
	return &taskWorker{
		label:         label,
		task:          task,
		wakeupChan:    make(WakeupChan),
		currentStatus: SLEEPING,
	}
}

// Start runs the workers task in a loop, sleeping on the wakeup channel in
// between runs. This method blocks until the worker is closed, or until the
// task returns an error.
func (worker *taskWorker) Start() {
	log.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	for {
		worker.currentStatus = WORKING
		for {
			busy, err := worker.task(worker)
			if err != nil {
				log.Emit(logger.ERROR, "Worker %s task reported error (%T): %v\n", worker.label, err, err)
				worker.currentStatus = FINISHED
				return
			}

			if !busy {
				break
			}
		}

		worker.currentStatus = SLEEPING
		if _, ok := <-worker.wakeupChan; !ok {
			worker.currentStatus = FINISHED
			log.Emit(logger.STOP, "Worker %s has stopped\n", worker.label)
			return
		}
	}
}

func (worker *taskWorker) Status() WorkerStatus { return worker.currentStatus }

func (worker *taskWorker) WakeupChan() WakeupChan { return worker.wakeupChan }

func (worker *taskWorker) Label() string { return worker.label }

// Close closes the workers wakeup channel, which causes the Start loop to
// return once any in-progress task run has finished.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}
