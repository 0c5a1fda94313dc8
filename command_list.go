package rhi

import (
	"fmt"
)

// CommandStats counts recorded commands.
type CommandStats struct {
	Draws          int
	DrawsIndexed   int
	Barriers       int
	BarrierBatches int
	Renderpasses   int
	PipelineBinds  int
	Copies         int
}

func (s *CommandStats) add(o CommandStats) {
	s.Draws += o.Draws
	s.DrawsIndexed += o.DrawsIndexed
	s.Barriers += o.Barriers
	s.BarrierBatches += o.BarrierBatches
	s.Renderpasses += o.Renderpasses
	s.PipelineBinds += o.PipelineBinds
	s.Copies += o.Copies
}

type commandListState uint8

const (
	stateRecording commandListState = iota
	stateInRenderpass
	stateSubmitted
	stateDiscarded
)

func (s commandListState) String() string {
	switch s {
	case stateRecording:
		return "recording"
	case stateInRenderpass:
		return "in renderpass"
	case stateSubmitted:
		return "submitted"
	case stateDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// CommandList records GPU commands for one submission. It is not safe for
// concurrent use.
//
// Recording methods do not return errors. The first contract violation is
// kept, later commands are dropped, and the error is reported by Err and
// Submit.
type CommandList struct {
	rc    *RenderContext
	name  string
	enc   CommandEncoder
	state commandListState
	err   error

	pipeline    *Pipeline
	indexFormat IndexFormat
	hasIndex    bool
	stats       CommandStats

	// layouts holds the tracked layout of every texture before this list
	// first changed it.
	layouts map[*Texture]ImageLayout
}

// NewCommandList starts recording a new command list.
func (rc *RenderContext) NewCommandList(name string) (*CommandList, error) {
	if rc == nil {
		return nil, contractError("new command list", ErrNilContext)
	}
	if rc.closed.Load() {
		return nil, contractError("new command list", ErrReleased)
	}
	enc, err := rc.device.CreateCommandEncoder(name)
	if err != nil {
		return nil, NativeError("new command list", err)
	}
	return &CommandList{rc: rc, name: name, enc: enc}, nil
}

// Name returns the debug label.
func (cl *CommandList) Name() string { return cl.name }

// Err returns the first recording error.
func (cl *CommandList) Err() error { return cl.err }

// Stats returns the counters recorded so far.
func (cl *CommandList) Stats() CommandStats { return cl.stats }

// Pipeline returns the bound pipeline, if any.
func (cl *CommandList) Pipeline() *Pipeline { return cl.pipeline }

// InRenderpass reports whether a renderpass is open.
func (cl *CommandList) InRenderpass() bool { return cl.state == stateInRenderpass }

func (cl *CommandList) fail(op string, err error) {
	if cl.err == nil {
		cl.err = contractError(op, err)
		Logger().Debug("rhi: command list error", "list", cl.name, "op", op, "err", err)
	}
}

// check reports whether a command may be recorded; inPass is the required
// renderpass state.
func (cl *CommandList) check(op string, inPass bool) bool {
	if cl.err != nil {
		return false
	}
	switch {
	case cl.state == stateSubmitted || cl.state == stateDiscarded:
		cl.fail(op, fmt.Errorf("%w: command list %s", ErrInvalidState, cl.state))
		return false
	case inPass && cl.state != stateInRenderpass:
		cl.fail(op, fmt.Errorf("%w: outside a renderpass", ErrInvalidState))
		return false
	case !inPass && cl.state == stateInRenderpass:
		cl.fail(op, fmt.Errorf("%w: inside a renderpass", ErrInvalidState))
		return false
	}
	return true
}

// PipelineBarrier records one batch of image barriers and advances the
// tracked layout of every texture. An empty batch records nothing.
func (cl *CommandList) PipelineBarrier(barriers []ImageBarrier) {
	if len(barriers) == 0 || !cl.check("pipeline barrier", false) {
		return
	}
	natives := make([]NativeBarrier, 0, len(barriers))
	for _, b := range barriers {
		if b.Texture == nil || !b.Texture.Valid() {
			cl.fail("pipeline barrier", ErrNilResource)
			return
		}
		natives = append(natives, b.native())
	}
	cl.enc.PipelineBarrier(natives)
	for _, b := range barriers {
		cl.track(b.Texture, b.NewLayout)
	}
	cl.stats.Barriers += len(barriers)
	cl.stats.BarrierBatches++
}

// BeginRenderpass opens rp on targets.
func (cl *CommandList) BeginRenderpass(rp *Renderpass, targets RenderTargets) {
	if !cl.check("begin renderpass", false) {
		return
	}
	if rp == nil {
		cl.fail("begin renderpass", ErrNilResource)
		return
	}
	desc := rp.desc
	if len(targets.Color) != len(desc.Colors) || (targets.Depth != nil) != (desc.Depth != nil) {
		cl.fail("begin renderpass", fmt.Errorf("%w: targets do not match renderpass attachments", ErrInvalidArgument))
		return
	}
	cl.enc.BeginRenderpass(rp.native, targets)
	cl.state = stateInRenderpass
	cl.stats.Renderpasses++
	if targets.Width > 0 && targets.Height > 0 {
		cl.enc.SetViewport(Viewport{Width: float32(targets.Width), Height: float32(targets.Height), MaxDepth: 1})
		cl.enc.SetScissor(Rect{Width: targets.Width, Height: targets.Height})
	}
}

// EndRenderpass closes the open renderpass.
func (cl *CommandList) EndRenderpass() {
	if !cl.check("end renderpass", true) {
		return
	}
	cl.enc.EndRenderpass()
	cl.state = stateRecording
	cl.pipeline = nil
	cl.hasIndex = false
}

// BindPipeline binds p for subsequent draws.
func (cl *CommandList) BindPipeline(p *Pipeline) {
	if !cl.check("bind pipeline", true) {
		return
	}
	if p == nil {
		cl.fail("bind pipeline", ErrNilResource)
		return
	}
	if cl.pipeline == p {
		return
	}
	cl.enc.BindPipeline(p.native)
	cl.pipeline = p
	cl.stats.PipelineBinds++
}

// BindDescriptorSet binds the descriptor d at set for the bound pipeline.
func (cl *CommandList) BindDescriptorSet(set uint32, d Descriptor) {
	if !cl.check("bind descriptor set", true) {
		return
	}
	if cl.pipeline == nil {
		cl.fail("bind descriptor set", fmt.Errorf("%w: no pipeline bound", ErrInvalidState))
		return
	}
	if int(set) >= len(cl.pipeline.layouts) {
		cl.fail("bind descriptor set", fmt.Errorf("%w: set %d, pipeline has %d", ErrOutOfRange, set, len(cl.pipeline.layouts)))
		return
	}
	page, err := cl.rc.descriptors.NativePage(d)
	if err != nil {
		cl.fail("bind descriptor set", err)
		return
	}
	cl.enc.BindDescriptorSet(set, page, d.Slot)
}

// PushConstants writes data into the bound pipeline's push-constant block.
func (cl *CommandList) PushConstants(offset uint32, data []byte) {
	if !cl.check("push constants", true) {
		return
	}
	if cl.pipeline == nil {
		cl.fail("push constants", fmt.Errorf("%w: no pipeline bound", ErrInvalidState))
		return
	}
	push := cl.pipeline.shader.PushConstants()
	if offset+uint32(len(data)) > push.Size { //nolint:gosec // G115: push data is tiny
		cl.fail("push constants", fmt.Errorf("%w: %d+%d > %d", ErrOutOfRange, offset, len(data), push.Size))
		return
	}
	cl.enc.PushConstants(push.Stages, offset, data)
}

// SetVertexBuffer binds view to slot.
func (cl *CommandList) SetVertexBuffer(slot uint32, view BufferView) {
	if !cl.check("set vertex buffer", true) {
		return
	}
	if !view.IsValid() {
		cl.fail("set vertex buffer", ErrNilResource)
		return
	}
	cl.enc.SetVertexBuffer(slot, view.Buffer.Native(), view.Offset)
}

// SetIndexBuffer binds view as the index buffer.
func (cl *CommandList) SetIndexBuffer(view BufferView, format IndexFormat) {
	if !cl.check("set index buffer", true) {
		return
	}
	if !view.IsValid() {
		cl.fail("set index buffer", ErrNilResource)
		return
	}
	if view.Offset%uint64(format.Size()) != 0 {
		cl.fail("set index buffer", fmt.Errorf("%w: offset %d not aligned to index size", ErrInvalidArgument, view.Offset))
		return
	}
	cl.enc.SetIndexBuffer(view.Buffer.Native(), format, view.Offset)
	cl.indexFormat = format
	cl.hasIndex = true
}

// SetViewport sets the viewport.
func (cl *CommandList) SetViewport(v Viewport) {
	if !cl.check("set viewport", true) {
		return
	}
	cl.enc.SetViewport(v)
}

// SetScissor sets the scissor rectangle.
func (cl *CommandList) SetScissor(r Rect) {
	if !cl.check("set scissor", true) {
		return
	}
	cl.enc.SetScissor(r)
}

// Draw records a non-indexed draw.
func (cl *CommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !cl.check("draw", true) {
		return
	}
	if cl.pipeline == nil {
		cl.fail("draw", fmt.Errorf("%w: no pipeline bound", ErrInvalidState))
		return
	}
	if vertexCount == 0 || instanceCount == 0 {
		return
	}
	cl.enc.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	cl.stats.Draws++
}

// DrawIndexed records an indexed draw.
func (cl *CommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, baseVertex int32, firstInstance uint32) {
	if !cl.check("draw indexed", true) {
		return
	}
	if cl.pipeline == nil {
		cl.fail("draw indexed", fmt.Errorf("%w: no pipeline bound", ErrInvalidState))
		return
	}
	if !cl.hasIndex {
		cl.fail("draw indexed", fmt.Errorf("%w: no index buffer bound", ErrInvalidState))
		return
	}
	if indexCount == 0 || instanceCount == 0 {
		return
	}
	cl.enc.DrawIndexed(indexCount, instanceCount, firstIndex, baseVertex, firstInstance)
	cl.stats.DrawsIndexed++
}

// CopyBuffer copies size bytes between buffer views.
func (cl *CommandList) CopyBuffer(src, dst BufferView, size uint64) {
	if !cl.check("copy buffer", false) {
		return
	}
	if !src.IsValid() || !dst.IsValid() {
		cl.fail("copy buffer", ErrNilResource)
		return
	}
	if size > src.Size || size > dst.Size {
		cl.fail("copy buffer", fmt.Errorf("%w: copy of %d bytes", ErrOutOfRange, size))
		return
	}
	cl.enc.CopyBuffer(src.Buffer.Native(), dst.Buffer.Native(), src.Offset, dst.Offset, size)
	cl.stats.Copies++
}

// Submit finishes recording and submits the list. It returns the fence value
// that retires the work.
func (cl *CommandList) Submit() (uint64, error) {
	if cl.err == nil && cl.state == stateInRenderpass {
		cl.fail("submit", fmt.Errorf("%w: renderpass still open", ErrInvalidState))
	}
	if cl.err == nil && cl.state != stateRecording {
		cl.fail("submit", fmt.Errorf("%w: command list %s", ErrInvalidState, cl.state))
	}
	if cl.err != nil {
		cl.Discard()
		return 0, cl.err
	}
	cmd, err := cl.enc.Finish()
	if err != nil {
		cl.state = stateDiscarded
		cl.rollback()
		return 0, NativeError("submit", err)
	}
	fence, err := cl.rc.Submit(cmd)
	if err != nil {
		cl.state = stateDiscarded
		cl.rollback()
		return 0, err
	}
	cl.state = stateSubmitted
	cl.layouts = nil

	frame := cl.rc.CurrentFrame()
	frame.CommandLists++
	frame.Commands.add(cl.stats)
	return fence, nil
}

// SubmitAndWait submits the list and blocks until the GPU has finished it.
func (cl *CommandList) SubmitAndWait() error {
	fence, err := cl.Submit()
	if err != nil {
		return err
	}
	return cl.rc.waitFence(fence)
}

// Discard abandons recording. It is a no-op after Submit.
func (cl *CommandList) Discard() {
	if cl.state == stateSubmitted || cl.state == stateDiscarded {
		return
	}
	cl.enc.Discard()
	cl.state = stateDiscarded
	cl.rollback()
}

// SetTextureLayout records that the commands in the list leave t in layout
// l, as a renderpass does with its final layouts. Like barrier transitions,
// the change is undone if the list is discarded or fails to submit.
func (cl *CommandList) SetTextureLayout(t *Texture, l ImageLayout) {
	if t == nil || cl.state == stateSubmitted || cl.state == stateDiscarded {
		return
	}
	cl.track(t, l)
}

func (cl *CommandList) track(t *Texture, l ImageLayout) {
	if cl.layouts == nil {
		cl.layouts = make(map[*Texture]ImageLayout)
	}
	if _, ok := cl.layouts[t]; !ok {
		cl.layouts[t] = t.Layout()
	}
	t.SetLayout(l)
}

// rollback restores the layouts the list changed; its commands never ran.
func (cl *CommandList) rollback() {
	for t, l := range cl.layouts {
		t.SetLayout(l)
	}
	cl.layouts = nil
}
