package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-media-download/internal/api"
	"go-media-download/internal/models"

	log "github.com/sirupsen/logrus"
)

// Fallback messages surfaced when the backend gives us nothing usable.
const (
	MsgStatusFailed   = "Failed to get download status"
	MsgDownloadFailed = "Download failed"
	SpeedUnknown      = "N/A"
)

// DefaultPollInterval is the status query cadence used when none is
// configured.
const DefaultPollInterval = 1000 * time.Millisecond

var (
	ErrSubmitInFlight = errors.New("a submission is already in flight")
	ErrNoFinishedJob  = errors.New("no finished job to retrieve")
)

// State is the UI-observable lifecycle state of the current job.
type State string

const (
	StateIdle        State = "Idle"
	StateStarting    State = "Starting"
	StateDownloading State = "Downloading"
	StateFinished    State = "Finished"
	StateError       State = "Error"
)

// IsTerminal reports whether no further transitions occur from s.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateError
}

// Snapshot is an immutable view of the coordinator's observable state.
// Progress is a display percentage in [0,100].
type Snapshot struct {
	JobID    string
	State    State
	Speed    string
	Err      string
	Platform string
	Progress int
}

// Backend is the slice of the HTTP API the coordinator drives.
// *api.Client satisfies it.
type Backend interface {
	DetectPlatform(ctx context.Context, url string) (models.PlatformMatch, error)
	GetVideoInfo(ctx context.Context, url string) (models.VideoInfo, error)
	StartDownload(ctx context.Context, req models.JobRequest) (string, error)
	GetStatus(ctx context.Context, id string) (models.StatusResponse, error)
}

// Observer receives every snapshot transition. It is invoked outside the
// coordinator's lock; a nil observer is allowed.
type Observer func(Snapshot)

// InfoObserver receives best-effort metadata from platform resolution.
type InfoObserver func(models.VideoInfo)

// activeJob is the handle for the single poll loop the coordinator may
// own. generation ties every update back to the submission that created
// it so a superseded loop can never write state.
type activeJob struct {
	id         string
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// Coordinator owns the asynchronous job lifecycle: one optional active
// job, one poll timer, and the snapshot the UI renders from. All
// mutation of the active job goes through replaceActiveJob.
type Coordinator struct {
	backend  Backend
	interval time.Duration
	onUpdate Observer
	onInfo   InfoObserver

	mu         sync.Mutex
	snap       Snapshot
	active     *activeJob
	generation uint64
	submitting bool
}

// New creates a Coordinator polling at the given interval. A
// non-positive interval selects DefaultPollInterval.
func New(backend Backend, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Coordinator{
		backend:  backend,
		interval: interval,
		snap:     Snapshot{State: StateIdle},
	}
}

// OnUpdate registers the snapshot observer. Call before Submit.
func (c *Coordinator) OnUpdate(fn Observer) {
	c.onUpdate = fn
}

// OnInfo registers the metadata observer. Call before Resolve.
func (c *Coordinator) OnInfo(fn InfoObserver) {
	c.onInfo = fn
}

// Snapshot returns a copy of the current observable state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// UnsupportedPlatformMessage formats the user-facing error for an
// unrecognized platform, naming the detected label or "unknown".
func UnsupportedPlatformMessage(match models.PlatformMatch) string {
	label := match.PlatformID
	if label == "" || strings.EqualFold(label, "unknown") {
		label = "unknown"
	}
	return fmt.Sprintf("Platform not supported: %s", label)
}

// Resolve performs advisory platform detection for a URL. An empty URL
// clears any prior platform selection without touching the backend. On
// a recognized platform a best-effort metadata fetch is kicked off; its
// failure is swallowed because metadata is enrichment, not core
// function.
func (c *Coordinator) Resolve(ctx context.Context, mediaURL string) (models.PlatformMatch, error) {
	if strings.TrimSpace(mediaURL) == "" {
		c.setPlatform("")
		return models.PlatformMatch{}, nil
	}

	match, err := c.backend.DetectPlatform(ctx, mediaURL)
	if err != nil {
		log.WithError(err).Debug("Platform detection failed")
		return models.PlatformMatch{}, err
	}

	if !match.Recognized {
		c.setPlatform("")
		return match, nil
	}

	c.setPlatform(match.PlatformID)

	if c.onInfo != nil {
		go func() {
			info, err := c.backend.GetVideoInfo(ctx, mediaURL)
			if err != nil {
				// Optional enrichment, never user-visible.
				log.WithError(err).Debug("Metadata fetch failed, ignoring")
				return
			}
			c.onInfo(info)
		}()
	}
	return match, nil
}

// Submit validates and submits a job, then enters the polling phase.
// An empty or invalid request fails locally before any network call.
// Submitting while a previous job is active first tears down the
// previous polling loop. While the submission round-trip is in flight,
// further Submit calls are rejected with ErrSubmitInFlight.
func (c *Coordinator) Submit(ctx context.Context, req models.JobRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.submitting {
		c.mu.Unlock()
		return ErrSubmitInFlight
	}
	c.submitting = true
	// Tear down the previous job before the new one can exist. This
	// also guarantees no stale update lands while the submission is in
	// flight.
	c.replaceActiveJobLocked(nil)
	c.snap = Snapshot{State: StateIdle, Platform: c.snap.Platform}
	c.mu.Unlock()

	id, err := c.backend.StartDownload(ctx, req)

	c.mu.Lock()
	c.submitting = false
	if err != nil {
		c.snap = Snapshot{
			State:    StateError,
			Err:      rejectionMessage(err),
			Platform: c.snap.Platform,
		}
		snap := c.snap
		c.mu.Unlock()
		c.emit(snap)
		return err
	}

	c.generation++
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &activeJob{
		id:         id,
		generation: c.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.replaceActiveJobLocked(job)
	c.snap = Snapshot{
		JobID:    id,
		State:    StateStarting,
		Progress: 0,
		Platform: c.snap.Platform,
	}
	snap := c.snap
	c.mu.Unlock()

	c.emit(snap)
	log.Debugf("Polling job %s every %s", id, c.interval)
	go c.pollLoop(loopCtx, job)
	return nil
}

// Close cancels any active polling loop and waits for it to exit. It is
// a resource cleanup, not a lifecycle operation: the snapshot is left
// as-is.
func (c *Coordinator) Close() {
	c.mu.Lock()
	job := c.active
	c.replaceActiveJobLocked(nil)
	c.mu.Unlock()

	if job != nil {
		<-job.done
	}
}

// replaceActiveJobLocked atomically installs a new active job handle,
// cancelling the previous loop first. Must be called with c.mu held.
// This is the only place the active job is mutated.
func (c *Coordinator) replaceActiveJobLocked(job *activeJob) {
	if c.active != nil {
		c.active.cancel()
		// Bump the generation so any in-flight tick of the old loop
		// fails its generation check even before observing the cancel.
		c.generation++
	}
	c.active = job
}

// pollLoop runs one repeating status timer for a single job. It exits
// on cancellation or on the first terminal transition; the ticker is
// stopped exactly once either way.
func (c *Coordinator) pollLoop(ctx context.Context, job *activeJob) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(job.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if terminal := c.tick(ctx, job); terminal {
				return
			}
		}
	}
}

// tick performs one status query and applies the resulting transition.
// Returns true when the loop must stop (terminal state reached, or the
// job was superseded).
func (c *Coordinator) tick(ctx context.Context, job *activeJob) bool {
	status, err := c.backend.GetStatus(ctx, job.id)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded mid-query; the replacement owns the state now.
			return true
		}
		log.WithError(err).Debugf("Status query failed for job %s", job.id)
		return c.apply(job, Snapshot{
			JobID: job.id,
			State: StateError,
			Err:   MsgStatusFailed,
		})
	}

	switch status.Status {
	case models.StatusStarting:
		return c.apply(job, Snapshot{
			JobID:    job.id,
			State:    StateStarting,
			Progress: 0,
		})
	case models.StatusDownloading:
		speed := status.Speed
		if speed == "" {
			speed = SpeedUnknown
		}
		return c.apply(job, Snapshot{
			JobID:    job.id,
			State:    StateDownloading,
			Progress: models.ParsePercent(status.Progress),
			Speed:    speed,
		})
	case models.StatusFinished:
		return c.apply(job, Snapshot{
			JobID:    job.id,
			State:    StateFinished,
			Progress: 100,
		})
	case models.StatusError:
		msg := status.Error
		if msg == "" {
			msg = MsgDownloadFailed
		}
		return c.apply(job, Snapshot{
			JobID: job.id,
			State: StateError,
			Err:   msg,
		})
	default:
		// Unknown or not_found payloads are indistinguishable from a
		// parse failure on this contract.
		log.Debugf("Unrecognized status %q for job %s", status.Status, job.id)
		return c.apply(job, Snapshot{
			JobID: job.id,
			State: StateError,
			Err:   MsgStatusFailed,
		})
	}
}

// apply installs a snapshot for job unless the job has been superseded.
// Returns true when the poll loop must stop. Terminal snapshots also
// release the active job handle, so no further tick can ever run for
// this id.
func (c *Coordinator) apply(job *activeJob, next Snapshot) bool {
	c.mu.Lock()
	if c.generation != job.generation {
		// Stale write from an outdated job id; drop it.
		c.mu.Unlock()
		return true
	}
	next.Platform = c.snap.Platform
	c.snap = next
	terminal := next.State.IsTerminal()
	if terminal {
		c.active = nil
	}
	c.mu.Unlock()

	if terminal {
		job.cancel()
	}
	c.emit(next)
	return terminal
}

func (c *Coordinator) setPlatform(platform string) {
	c.mu.Lock()
	c.snap.Platform = platform
	snap := c.snap
	c.mu.Unlock()
	c.emit(snap)
}

func (c *Coordinator) emit(snap Snapshot) {
	if c.onUpdate != nil {
		c.onUpdate(snap)
	}
}

// rejectionMessage maps a submission failure to the user-facing error
// text: the server's structured message when present, the generic
// fallback otherwise.
func rejectionMessage(err error) string {
	var rejected *api.RejectedError
	if errors.As(err, &rejected) && rejected.Message != "" {
		return rejected.Message
	}
	return MsgDownloadFailed
}
