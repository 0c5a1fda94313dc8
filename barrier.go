package rhi

import "fmt"

// SubresourceRange selects mips and layers of a texture.
type SubresourceRange struct {
	BaseMip    uint32
	MipCount   uint32
	BaseLayer  uint32
	LayerCount uint32
}

// ImageBarrier transitions a texture from one layout to another, making
// writes under the source access visible to the destination access.
type ImageBarrier struct {
	Texture   *Texture
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Range     SubresourceRange
}

// NewImageBarrier builds a whole-texture barrier with stage and access masks
// derived from the two layouts.
func NewImageBarrier(t *Texture, from, to ImageLayout) ImageBarrier {
	srcStage, srcAccess := LayoutAccess(from)
	dstStage, dstAccess := LayoutAccess(to)
	return ImageBarrier{
		Texture:   t,
		OldLayout: from,
		NewLayout: to,
		SrcStage:  srcStage,
		DstStage:  dstStage,
		SrcAccess: srcAccess,
		DstAccess: dstAccess,
		Range: SubresourceRange{
			MipCount:   t.info.MipLevels,
			LayerCount: t.info.Layers(),
		},
	}
}

func (b ImageBarrier) String() string {
	return fmt.Sprintf("%s: %s -> %s", b.Texture.name, b.OldLayout, b.NewLayout)
}

// native resolves the barrier for a CommandEncoder. Called on the render
// goroutine, which is the only writer of the texture's native handle.
func (b ImageBarrier) native() NativeBarrier {
	return NativeBarrier{
		Texture:   b.Texture.native,
		Format:    b.Texture.info.Format,
		OldLayout: b.OldLayout,
		NewLayout: b.NewLayout,
		SrcStage:  b.SrcStage,
		DstStage:  b.DstStage,
		SrcAccess: b.SrcAccess,
		DstAccess: b.DstAccess,
		Range:     b.Range,
	}
}
