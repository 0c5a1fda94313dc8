package rhi

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// BufferType determines heap placement and residency of a buffer.
type BufferType uint8

// Buffer types.
const (
	BufferVertex BufferType = iota
	BufferIndex
	BufferUniform
	BufferStorage
	BufferStaging
	BufferReadback
)

var bufferTypeNames = [...]string{"Vertex", "Index", "Uniform", "Storage", "Staging", "Readback"}

func (t BufferType) String() string {
	if int(t) < len(bufferTypeNames) {
		return bufferTypeNames[t]
	}
	return fmt.Sprintf("BufferType(%d)", t)
}

// HostVisible reports whether buffers of this type live in persistently
// CPU-mapped memory. Vertex and index buffers live in the default heap and
// are reached through a staging copy.
func (t BufferType) HostVisible() bool {
	switch t {
	case BufferUniform, BufferStorage, BufferStaging, BufferReadback:
		return true
	}
	return false
}

// DefaultUsage returns the native usage flags implied by the type.
func (t BufferType) DefaultUsage() BufferUsage {
	switch t {
	case BufferVertex:
		return BufferUsageVertex | BufferUsageCopyDst | BufferUsageCopySrc
	case BufferIndex:
		return BufferUsageIndex | BufferUsageCopyDst | BufferUsageCopySrc
	case BufferUniform:
		return BufferUsageUniform | BufferUsageCopyDst | BufferUsageCopySrc
	case BufferStorage:
		return BufferUsageStorage | BufferUsageCopyDst | BufferUsageCopySrc
	case BufferStaging:
		return BufferUsageCopySrc | BufferUsageCopyDst | BufferUsageMapWrite
	case BufferReadback:
		return BufferUsageCopyDst | BufferUsageMapRead
	}
	return 0
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Type   BufferType
	Size   uint64
	Stride uint32
	Name   string

	// Usage overrides the flags derived from Type when non-zero.
	Usage BufferUsage
}

// Buffer is a typed block of GPU memory.
type Buffer struct {
	rc   *RenderContext
	desc BufferDesc

	mu     sync.Mutex
	native NativeBuffer
	size   uint64
	name   string

	upload atomic.Pointer[UploadRequest]
}

// CreateBuffer allocates a buffer on rc's device.
func CreateBuffer(rc *RenderContext, desc BufferDesc) (*Buffer, error) {
	if rc == nil {
		return nil, contractError("create buffer", ErrNilContext)
	}
	if desc.Size == 0 {
		return nil, contractError("create buffer", fmt.Errorf("%w: zero size", ErrInvalidArgument))
	}
	if desc.Type > BufferReadback {
		return nil, contractError("create buffer", fmt.Errorf("%w: buffer type %d", ErrInvalidArgument, desc.Type))
	}
	if desc.Usage == 0 {
		desc.Usage = desc.Type.DefaultUsage()
	}

	b := &Buffer{rc: rc, desc: desc, name: desc.Name}
	native, err := b.allocate(desc.Size)
	if err != nil {
		return nil, err
	}
	b.native = native
	b.size = desc.Size
	return b, nil
}

func (b *Buffer) allocate(size uint64) (NativeBuffer, error) {
	native, err := b.rc.device.CreateBuffer(NativeBufferDesc{
		Label:       b.name,
		Size:        align4(size),
		Usage:       b.desc.Usage,
		HostVisible: b.desc.Type.HostVisible(),
	})
	if err != nil {
		return nil, NativeError("create buffer", err)
	}
	Logger().Debug("rhi: buffer allocated", "name", b.name, "type", b.desc.Type, "size", size)
	return native, nil
}

// align4 rounds size up to the 4-byte granularity native copies require.
func align4(size uint64) uint64 { return (size + 3) &^ 3 }

func alignUp(v, alignment uint64) uint64 {
	if alignment <= 1 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

// Type returns the buffer type.
func (b *Buffer) Type() BufferType { return b.desc.Type }

// Stride returns the element stride given at creation.
func (b *Buffer) Stride() uint32 { return b.desc.Stride }

// Size returns the usable size in bytes.
func (b *Buffer) Size() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Native returns the current native buffer. It changes on Resize.
func (b *Buffer) Native() NativeBuffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.native
}

// Upload copies data into the buffer at offset rounded up to alignment and
// returns the view covering the written bytes. Host-visible buffers are
// written directly; others go through a staging buffer and block until the
// GPU copy completes.
func (b *Buffer) Upload(data []byte, offset, alignment uint64) (BufferView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.native == nil {
		return BufferView{}, contractError("buffer upload", ErrReleased)
	}
	offset = alignUp(offset, alignment)
	n := uint64(len(data))
	if offset+n > b.size {
		return BufferView{}, contractError("buffer upload",
			fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, n, b.size))
	}
	if n == 0 {
		return BufferView{Buffer: b, Offset: offset}, nil
	}

	if err := b.writeLocked(offset, data); err != nil {
		return BufferView{}, err
	}
	return BufferView{Buffer: b, Offset: offset, Size: n}, nil
}

func (b *Buffer) writeLocked(offset uint64, data []byte) error {
	if b.desc.Type.HostVisible() {
		if err := b.native.Write(offset, data); err != nil {
			return NativeError("buffer write", err)
		}
		return nil
	}

	// GPU copies move whole 4-byte words. An unaligned write merges data
	// into the current contents of the covering window first.
	end := offset + uint64(len(data))
	lo, hi := offset&^3, align4(end)
	payload := data
	if lo != offset || hi != end {
		window, err := b.readWindowLocked(lo, hi-lo)
		if err != nil {
			return err
		}
		copy(window[offset-lo:], data)
		payload = window
	}

	staging, size, err := b.rc.newStaging(b.name, payload, hi-lo)
	if err != nil {
		return err
	}
	defer staging.Destroy()

	dst := b.native
	return b.rc.submitAndWait("buffer upload", func(enc CommandEncoder) {
		enc.CopyBuffer(staging, dst, 0, lo, size)
	})
}

// newStaging creates a host-visible buffer holding data. The copy size is
// padded to 4 bytes when limit allows it.
func (rc *RenderContext) newStaging(name string, data []byte, limit uint64) (NativeBuffer, uint64, error) {
	size := uint64(len(data))
	if padded := align4(size); padded <= limit {
		size = padded
	}
	staging, err := rc.device.CreateBuffer(NativeBufferDesc{
		Label:       name + " staging",
		Size:        align4(size),
		Usage:       BufferStaging.DefaultUsage(),
		HostVisible: true,
	})
	if err != nil {
		return nil, 0, NativeError("create staging buffer", err)
	}
	if err := staging.Write(0, data); err != nil {
		staging.Destroy()
		return nil, 0, NativeError("staging write", err)
	}
	return staging, size, nil
}

// Download returns a copy of the buffer contents. Buffers outside
// host-visible memory are copied into a readback buffer first, blocking until
// the copy completes.
func (b *Buffer) Download() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.native == nil {
		return nil, contractError("buffer download", ErrReleased)
	}
	return b.readLocked()
}

func (b *Buffer) readLocked() ([]byte, error) {
	out, err := b.readWindowLocked(0, align4(b.size))
	if err != nil {
		return nil, err
	}
	return out[:b.size], nil
}

// readWindowLocked reads size bytes at offset. Both must be multiples of 4
// for buffers outside host-visible memory.
func (b *Buffer) readWindowLocked(offset, size uint64) ([]byte, error) {
	out := make([]byte, size)
	if b.desc.Type.HostVisible() {
		if err := b.native.Read(offset, out); err != nil {
			return nil, NativeError("buffer read", err)
		}
		return out, nil
	}

	readback, err := b.rc.device.CreateBuffer(NativeBufferDesc{
		Label:       b.name + " readback",
		Size:        size,
		Usage:       BufferReadback.DefaultUsage(),
		HostVisible: true,
	})
	if err != nil {
		return nil, NativeError("create readback buffer", err)
	}
	defer readback.Destroy()

	src := b.native
	if err := b.rc.submitAndWait("buffer download", func(enc CommandEncoder) {
		enc.CopyBuffer(src, readback, offset, 0, size)
	}); err != nil {
		return nil, err
	}
	if err := readback.Read(0, out); err != nil {
		return nil, NativeError("readback read", err)
	}
	return out, nil
}

// Resize grows the buffer to newSize, preserving existing contents. It is a
// no-op when newSize does not exceed the current size. Bytes beyond the old
// size are undefined. The old native buffer is released once in-flight GPU
// work has retired.
func (b *Buffer) Resize(newSize uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.native == nil {
		return contractError("buffer resize", ErrReleased)
	}
	if newSize <= b.size {
		return nil
	}

	old, err := b.readLocked()
	if err != nil {
		return err
	}
	native, err := b.allocate(newSize)
	if err != nil {
		return err
	}
	b.rc.DeferRelease(b.native)
	b.native = native
	b.size = newSize

	if len(old) == 0 {
		return nil
	}
	return b.writeLocked(0, old)
}

// QueueUpload schedules an asynchronous upload of data at offset. Poll
// UploadStatus before referencing the buffer in a draw.
func (b *Buffer) QueueUpload(data []byte, offset uint64) (*UploadRequest, error) {
	return b.rc.uploads.QueueBufferUpload(b, data, offset)
}

// UploadStatus returns the status of the most recent queued upload. Buffers
// without queued uploads report UploadCompleted.
func (b *Buffer) UploadStatus() DeviceUploadStatus {
	if r := b.upload.Load(); r != nil {
		return r.Status()
	}
	return UploadCompleted
}

// Release destroys the native buffer once in-flight work has retired.
func (b *Buffer) Release() {
	b.mu.Lock()
	native := b.native
	b.native = nil
	b.mu.Unlock()
	if native != nil {
		b.rc.DeferRelease(native)
		b.rc.uploads.cancel(b)
	}
}

// Valid reports whether the buffer still owns native memory.
func (b *Buffer) Valid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.native != nil
}

// SetName sets the debug label used for future allocations.
func (b *Buffer) SetName(name string) {
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
}

// Name returns the debug label.
func (b *Buffer) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

// BufferView is a non-owning window into a buffer. Views must not outlive
// the buffer; this is not checked at runtime. Equality is structural.
type BufferView struct {
	Buffer *Buffer
	Offset uint64
	Size   uint64
}

// NewBufferView checks that the range lies within the buffer.
func NewBufferView(b *Buffer, offset, size uint64) (BufferView, error) {
	if b == nil {
		return BufferView{}, contractError("buffer view", ErrNilResource)
	}
	if offset+size > b.Size() {
		return BufferView{}, contractError("buffer view",
			fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, size, b.Size()))
	}
	return BufferView{Buffer: b, Offset: offset, Size: size}, nil
}

// IsValid reports whether the view references a live buffer.
func (v BufferView) IsValid() bool { return v.Buffer != nil && v.Buffer.Valid() }

// DynamicBuffer is a linear sub-allocator over a growable buffer. Capacity
// doubles whenever an upload would overflow it.
type DynamicBuffer struct {
	buf    *Buffer
	cursor uint64
	grows  int
}

// minDynamicCapacity is the smallest capacity a DynamicBuffer doubles from.
const minDynamicCapacity = 256

// NewDynamicBuffer creates a dynamic buffer with the given initial capacity.
func NewDynamicBuffer(rc *RenderContext, typ BufferType, capacity uint64, name string) (*DynamicBuffer, error) {
	if capacity < minDynamicCapacity {
		capacity = minDynamicCapacity
	}
	b, err := CreateBuffer(rc, BufferDesc{Type: typ, Size: capacity, Name: name})
	if err != nil {
		return nil, err
	}
	return &DynamicBuffer{buf: b}, nil
}

// Upload appends data at the next offset aligned to alignment, growing the
// backing buffer by doubling when it does not fit.
func (d *DynamicBuffer) Upload(data []byte, alignment uint64) (BufferView, error) {
	offset := alignUp(d.cursor, alignment)
	need := offset + uint64(len(data))
	if capacity := d.buf.Size(); need > capacity {
		for capacity < need {
			capacity *= 2
		}
		if err := d.buf.Resize(capacity); err != nil {
			return BufferView{}, err
		}
		d.grows++
		Logger().Debug("rhi: dynamic buffer grown", "name", d.buf.Name(), "capacity", capacity)
	}
	view, err := d.buf.Upload(data, offset, 1)
	if err != nil {
		return BufferView{}, err
	}
	d.cursor = need
	return view, nil
}

// Reset rewinds the allocator. Call it once the GPU no longer reads the
// previous contents, typically per frame slot.
func (d *DynamicBuffer) Reset() { d.cursor = 0 }

// Used returns the number of bytes allocated since the last Reset.
func (d *DynamicBuffer) Used() uint64 { return d.cursor }

// Capacity returns the current capacity.
func (d *DynamicBuffer) Capacity() uint64 { return d.buf.Size() }

// Grows returns how many times the buffer has grown.
func (d *DynamicBuffer) Grows() int { return d.grows }

// Buffer returns the backing buffer.
func (d *DynamicBuffer) Buffer() *Buffer { return d.buf }

// Release releases the backing buffer.
func (d *DynamicBuffer) Release() { d.buf.Release() }
