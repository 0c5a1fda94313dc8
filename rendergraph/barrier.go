package rendergraph

import (
	"github.com/gogpu/rhi"
)

// PassBarriers is what one pass of the last execution recorded before it
// began.
type PassBarriers struct {
	Pass string

	// Barriers is the batch issued in a single PipelineBarrier call.
	Barriers []rhi.ImageBarrier

	// Suppressed counts transitions dropped by the pass's skip flags.
	Suppressed int

	// Skipped is set when the pass did not run this frame because its
	// shader failed to compile.
	Skipped bool
}

// boundTexture is a resolved access of a pass.
type boundTexture struct {
	tex   *rhi.Texture
	usage usage
}

// transitions computes the minimal barrier batch moving every bound texture
// from its tracked layout to the layout its usage requires. Transitions the
// pass's skip flags suppress are not returned but still advance the tracked
// layout through cl, so later passes see the layout the pass left behind.
func (p *pass) transitions(cl *rhi.CommandList, bound []boundTexture) (batch []rhi.ImageBarrier, suppressed int) {
	for _, b := range bound {
		from := b.tex.Layout()
		to := b.usage.layout(b.tex.Format())
		if from == to {
			continue
		}
		if (b.usage.write() && p.skipWrite) || (!b.usage.write() && p.skipRead) {
			cl.SetTextureLayout(b.tex, to)
			suppressed++
			continue
		}
		batch = append(batch, rhi.NewImageBarrier(b.tex, from, to))
	}
	return batch, suppressed
}
