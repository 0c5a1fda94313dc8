package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DeviceUploadStatus tracks an asynchronous upload. It only ever advances.
type DeviceUploadStatus uint32

// Upload states.
const (
	UploadPending DeviceUploadStatus = iota
	UploadInProgress
	UploadCompleted
)

func (s DeviceUploadStatus) String() string {
	switch s {
	case UploadPending:
		return "Pending"
	case UploadInProgress:
		return "InProgress"
	case UploadCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("DeviceUploadStatus(%d)", s)
	}
}

// UploadRequest is a handle to one in-flight upload.
type UploadRequest struct {
	status atomic.Uint32
	target string
	size   int
	fence  atomic.Uint64

	mu        sync.Mutex
	callbacks []func(*UploadRequest)
}

func newUploadRequest(target string, size int) *UploadRequest {
	return &UploadRequest{target: target, size: size}
}

// Status returns the current status.
func (r *UploadRequest) Status() DeviceUploadStatus {
	return DeviceUploadStatus(r.status.Load())
}

// Target returns the name of the uploaded resource.
func (r *UploadRequest) Target() string { return r.target }

// Size returns the payload size in bytes.
func (r *UploadRequest) Size() int { return r.size }

// Fence returns the fence value the upload was submitted with, or 0.
func (r *UploadRequest) Fence() uint64 { return r.fence.Load() }

// advance moves the status forward to s. It reports false, leaving the
// status unchanged, when the request is already at or past s.
func (r *UploadRequest) advance(s DeviceUploadStatus) bool {
	for {
		cur := r.status.Load()
		if DeviceUploadStatus(cur) >= s {
			return false
		}
		if r.status.CompareAndSwap(cur, uint32(s)) {
			return true
		}
	}
}

// OnComplete registers fn to run when the upload completes. If it already
// has, fn runs immediately on the calling goroutine.
func (r *UploadRequest) OnComplete(fn func(*UploadRequest)) {
	r.mu.Lock()
	if r.Status() != UploadCompleted {
		r.callbacks = append(r.callbacks, fn)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	fn(r)
}

// Complete marks the upload completed and runs the registered callbacks
// once. The callback list is detached, so calling Complete again is a no-op.
func (r *UploadRequest) Complete() {
	r.mu.Lock()
	if !r.advance(UploadCompleted) {
		r.mu.Unlock()
		return
	}
	cbs := r.callbacks
	r.callbacks = nil
	r.mu.Unlock()

	for _, fn := range cbs {
		fn(r)
	}
}

type uploadJob struct {
	req     *UploadRequest
	staging NativeBuffer
	owner   any
	live    func() bool
	// record encodes the copy. The returned func, if any, restores the
	// tracked state record changed and runs when the copy is not submitted.
	record func(enc CommandEncoder) (undo func())
}

// UploadQueue batches asynchronous CPU to GPU transfers. Requests may be
// queued from any goroutine; Flush and Poll run on the render goroutine.
type UploadQueue struct {
	rc *RenderContext

	mu       sync.Mutex
	pending  []*uploadJob
	inflight []*uploadJob

	completed atomic.Uint64
}

func newUploadQueue(rc *RenderContext) *UploadQueue {
	return &UploadQueue{rc: rc}
}

// QueueBufferUpload schedules data to be written at offset. Host-visible
// buffers are written immediately and the returned request is already
// completed. data may be reused once the call returns.
//
// For other buffers offset must be 4-byte aligned, and a length that is not
// a multiple of 4 clears the bytes up to the next 4-byte boundary.
func (q *UploadQueue) QueueBufferUpload(b *Buffer, data []byte, offset uint64) (*UploadRequest, error) {
	if b == nil {
		return nil, contractError("queue upload", ErrNilResource)
	}
	req := newUploadRequest(b.Name(), len(data))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.native == nil {
		return nil, contractError("queue upload", ErrReleased)
	}
	if offset+uint64(len(data)) > b.size {
		return nil, contractError("queue upload",
			fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, len(data), b.size))
	}
	if offset%4 != 0 && !b.desc.Type.HostVisible() {
		return nil, contractError("queue upload",
			fmt.Errorf("%w: offset %d is not 4-byte aligned", ErrInvalidArgument, offset))
	}
	b.upload.Store(req)

	if b.desc.Type.HostVisible() {
		if err := b.native.Write(offset, data); err != nil {
			// Status stays Pending; consumers keep skipping the buffer.
			Logger().Warn("rhi: direct upload failed", "buffer", b.name, "err", err)
			return req, nil
		}
		req.advance(UploadInProgress)
		req.Complete()
		return req, nil
	}

	staging, size, err := q.rc.newStaging(b.name, data, b.native.Size()-offset)
	if err != nil {
		Logger().Warn("rhi: staging allocation failed", "buffer", b.name, "err", err)
		return req, nil
	}
	q.push(&uploadJob{
		req:     req,
		staging: staging,
		owner:   b,
		live:    b.Valid,
		record: func(enc CommandEncoder) func() {
			enc.CopyBuffer(staging, b.Native(), 0, offset, size)
			return nil
		},
	})
	return req, nil
}

// QueueTextureUpload schedules the base mip of t to be replaced by data.
func (q *UploadQueue) QueueTextureUpload(t *Texture, data []byte) (*UploadRequest, error) {
	if t == nil {
		return nil, contractError("queue upload", ErrNilResource)
	}
	req := newUploadRequest(t.Name(), len(data))

	t.mu.Lock()
	staging, pitch, err := t.stageLocked(data)
	t.mu.Unlock()
	if err != nil {
		if KindOf(err) == KindContract {
			return nil, err
		}
		Logger().Warn("rhi: staging allocation failed", "texture", t.Name(), "err", err)
		t.upload.Store(req)
		return req, nil
	}
	t.upload.Store(req)
	q.push(&uploadJob{
		req:     req,
		staging: staging,
		owner:   t,
		live:    t.Valid,
		record: func(enc CommandEncoder) func() {
			// The native image may have been recreated since queueing.
			t.mu.Lock()
			regions := t.copies(pitch)
			t.mu.Unlock()
			before := t.Layout()
			t.recordUpload(enc, staging, regions)
			return func() { t.SetLayout(before) }
		},
	})
	return req, nil
}

func (q *UploadQueue) push(j *uploadJob) {
	q.mu.Lock()
	q.pending = append(q.pending, j)
	q.mu.Unlock()
}

// cancel drops the queued uploads of a released resource. Their requests
// stay Pending.
func (q *UploadQueue) cancel(owner any) {
	q.mu.Lock()
	var dropped []*uploadJob
	kept := q.pending[:0]
	for _, j := range q.pending {
		if j.owner == owner {
			dropped = append(dropped, j)
		} else {
			kept = append(kept, j)
		}
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	q.mu.Unlock()

	for _, j := range dropped {
		j.staging.Destroy()
	}
}

// Flush records every pending upload into one command buffer and submits it.
// Uploads whose target was released are dropped and stay Pending. A request
// becomes InProgress only once its copy is submitted; if recording or
// submission fails the uploads are queued again for the next Flush.
func (q *UploadQueue) Flush() error {
	q.mu.Lock()
	queued := q.pending
	q.pending = nil
	q.mu.Unlock()

	var jobs []*uploadJob
	for _, j := range queued {
		if j.live != nil && !j.live() {
			Logger().Debug("rhi: upload target released", "target", j.req.Target())
			j.staging.Destroy()
			continue
		}
		jobs = append(jobs, j)
	}
	if len(jobs) == 0 {
		return nil
	}

	var undo []func()
	requeue := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		q.mu.Lock()
		q.pending = append(jobs, q.pending...)
		q.mu.Unlock()
	}
	enc, err := q.rc.device.CreateCommandEncoder("upload queue")
	if err != nil {
		requeue()
		return NativeError("upload flush", err)
	}
	for _, j := range jobs {
		if fn := j.record(enc); fn != nil {
			undo = append(undo, fn)
		}
	}
	cmd, err := enc.Finish()
	if err != nil {
		requeue()
		return NativeError("upload flush", err)
	}
	fence, err := q.rc.Submit(cmd)
	if err != nil {
		requeue()
		return err
	}

	for _, j := range jobs {
		j.req.fence.Store(fence)
		j.req.advance(UploadInProgress)
		q.rc.releases.DeferObject(fence, j.staging)
	}
	q.mu.Lock()
	q.inflight = append(q.inflight, jobs...)
	q.mu.Unlock()
	Logger().Debug("rhi: uploads submitted", "count", len(jobs), "fence", fence)
	return nil
}

// Poll completes every in-flight upload whose fence has retired and returns
// how many completed.
func (q *UploadQueue) Poll() int {
	completed := q.rc.device.CompletedValue()

	q.mu.Lock()
	var done []*uploadJob
	kept := q.inflight[:0]
	for _, j := range q.inflight {
		if j.req.Fence() <= completed {
			done = append(done, j)
		} else {
			kept = append(kept, j)
		}
	}
	for i := len(kept); i < len(q.inflight); i++ {
		q.inflight[i] = nil
	}
	q.inflight = kept
	q.mu.Unlock()

	for _, j := range done {
		j.req.Complete()
	}
	q.completed.Add(uint64(len(done)))
	return len(done)
}

// Pending returns the number of queued, not yet submitted uploads.
func (q *UploadQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the number of submitted, not yet completed uploads.
func (q *UploadQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Completed returns the total number of uploads completed by Poll.
func (q *UploadQueue) Completed() uint64 { return q.completed.Load() }

// discard drops queued uploads at shutdown.
func (q *UploadQueue) discard() {
	q.mu.Lock()
	jobs := q.pending
	q.pending = nil
	q.inflight = nil
	q.mu.Unlock()
	for _, j := range jobs {
		j.staging.Destroy()
	}
}

// Uploadable is a resource with an asynchronous upload status.
type Uploadable interface {
	UploadStatus() DeviceUploadStatus
}

// Renderable reports whether every resource has finished uploading. Draws
// that reference a resource which is not renderable are skipped for the
// frame rather than treated as errors.
func Renderable(rs ...Uploadable) bool {
	for _, r := range rs {
		if r == nil || r.UploadStatus() != UploadCompleted {
			return false
		}
	}
	return true
}
