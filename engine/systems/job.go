package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
)

/** @brief Describes a type of job */
type JobType int

const (
	/**
	 * @brief A general job that does not have any specific thread requirements.
	 */
	JOB_TYPE_GENERAL JobType = 0x02
	/**
	 * @brief Jobs recording or submitting GPU work. They run on the render
	 * thread in submission order.
	 */
	JOB_TYPE_GPU_RESOURCE JobType = 0x08
)

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Debug name of the job. */
	Name string
	/** @brief The type of job. */
	JobType JobType
	/** @brief Invoked when the job starts. Required. */
	OnStart func() error
	/** @brief Invoked when OnStart succeeds. Optional. */
	OnComplete func()
	/** @brief Invoked with the error returned by OnStart. Optional. */
	OnFailure func(err error)
	/** @brief Invoked after either outcome. Optional. */
	OnCompletionCallback func()
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrMissingEntryPoint = fmt.Errorf("job submitted without an entry point")

// NewJobSystem starts numWorkers workers. With a single worker jobs run
// strictly in submission order, which is how the renderer uses it.
func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	jq := make(chan JobTask, channelSize)
	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   jq,
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	// Run the job and handle potential errors
	if err := job.OnStart(); err != nil {
		core.LogError("job %q failed: %s", job.Name, err.Error())
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
	} else if job.OnComplete != nil {
		job.OnComplete()
	}

	// Call the completion callback if set
	if job.OnCompletionCallback != nil {
		job.OnCompletionCallback()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run before it returns.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 * @param jt The description of the job to be executed.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	if jt.OnStart == nil {
		return ErrMissingEntryPoint
	}
	js.mu.RLock()
	defer js.mu.RUnlock()
	if js.closed {
		return core.ErrExecutorClosed
	}
	js.jobQueue <- jt
	return nil
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (js *JobSystem) Pending() int {
	return len(js.jobQueue)
}
