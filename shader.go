package rhi

import (
	"sort"
	"sync"
)

// VertexAttribute is one vertex input.
type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

// VertexLayout describes one interleaved vertex stream.
type VertexLayout struct {
	Stride      uint32
	Attributes  []VertexAttribute
	PerInstance bool
}

// Hash returns a structural hash of the layout.
func (l VertexLayout) Hash() uint64 {
	h := newHasher()
	hashWriteUint32(h, l.Stride)
	hashWriteBool(h, l.PerInstance)
	hashWriteUint32(h, uint32(len(l.Attributes))) //nolint:gosec // G115: attribute count is tiny
	for _, a := range l.Attributes {
		hashWriteUint32(h, a.Location)
		hashWriteUint8(h, uint8(a.Format))
		hashWriteUint32(h, a.Offset)
	}
	return h.Sum64()
}

// layoutFromInputs packs reflected inputs in location order.
func layoutFromInputs(inputs []VertexAttribute) VertexLayout {
	attrs := append([]VertexAttribute(nil), inputs...)
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].Location < attrs[j].Location })
	var offset uint32
	for i := range attrs {
		attrs[i].Offset = offset
		offset += attrs[i].Format.Size()
	}
	return VertexLayout{Stride: offset, Attributes: attrs}
}

// DescriptorBinding is one shader-visible binding slot.
type DescriptorBinding struct {
	Binding uint32
	Kind    DescriptorKind
	Count   uint32
	Stages  ShaderStage
}

// DescriptorSetLayoutDesc describes the bindings of one descriptor set.
type DescriptorSetLayoutDesc struct {
	Set      uint32
	Bindings []DescriptorBinding
}

// Hash combines the set index and every binding.
func (d DescriptorSetLayoutDesc) Hash() uint64 {
	h := newHasher()
	hashWriteUint32(h, d.Set)
	hashWriteUint32(h, uint32(len(d.Bindings))) //nolint:gosec // G115: binding count is small
	for _, b := range d.Bindings {
		hashWriteUint32(h, b.Binding)
		hashWriteUint8(h, uint8(b.Kind))
		hashWriteUint32(h, b.Count)
		hashWriteUint32(h, uint32(b.Stages))
	}
	return h.Sum64()
}

// PushConstantRange is the push-constant block of a shader.
type PushConstantRange struct {
	Stages ShaderStage
	Offset uint32
	Size   uint32
}

// ShaderDesc identifies a shader by its stage source paths, entry point and
// optional explicit vertex layout. Empty paths mean the stage is absent.
type ShaderDesc struct {
	Vertex      string
	TessControl string
	TessEval    string
	Geometry    string
	Pixel       string
	Compute     string

	// EntryPoint is the main function name. Empty means "main".
	EntryPoint string

	// VertexLayout overrides the layout reflected from the vertex stage.
	VertexLayout *VertexLayout
}

type stagePath struct {
	stage ShaderStage
	path  string
}

// stages returns the declared stages in pipeline order.
func (d ShaderDesc) stages() []stagePath {
	all := [...]stagePath{
		{ShaderStageVertex, d.Vertex},
		{ShaderStageTessControl, d.TessControl},
		{ShaderStageTessEval, d.TessEval},
		{ShaderStageGeometry, d.Geometry},
		{ShaderStagePixel, d.Pixel},
		{ShaderStageCompute, d.Compute},
	}
	out := make([]stagePath, 0, len(all))
	for _, s := range all {
		if s.path != "" {
			out = append(out, s)
		}
	}
	return out
}

func (d ShaderDesc) entryPoint() string {
	if d.EntryPoint == "" {
		return "main"
	}
	return d.EntryPoint
}

// Hash combines every non-empty stage path, tagged with its stage, and the
// entry point. An explicit vertex layout takes part as well.
func (d ShaderDesc) Hash() uint64 {
	h := newHasher()
	for _, s := range d.stages() {
		hashWriteUint32(h, uint32(s.stage))
		hashWriteString(h, s.path)
	}
	hashWriteString(h, d.entryPoint())
	if d.VertexLayout != nil {
		hashWriteUint64(h, d.VertexLayout.Hash())
	}
	return h.Sum64()
}

// Name returns a readable label: the first declared path.
func (d ShaderDesc) Name() string {
	if s := d.stages(); len(s) > 0 {
		return s[0].path
	}
	return "<empty shader>"
}

// Shader is a compiled, reflected shader program.
type Shader struct {
	desc   ShaderDesc
	hash   uint64
	handle Handle

	mu           sync.RWMutex
	blobs        map[ShaderStage][]byte
	modules      map[ShaderStage]NativeShaderModule
	entries      map[ShaderStage]string
	sets         []DescriptorSetLayoutDesc
	push         PushConstantRange
	vertexLayout VertexLayout
	compiles     int
	released     bool
	name         string
	rc           *RenderContext
}

// Desc returns the descriptor the shader was created from.
func (s *Shader) Desc() ShaderDesc { return s.desc }

// Hash returns the descriptor hash.
func (s *Shader) Hash() uint64 { return s.hash }

// Handle returns the shader's generation-tagged handle.
func (s *Shader) Handle() Handle { return s.handle }

// Stages returns the compiled stages as a mask.
func (s *Shader) Stages() ShaderStage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var m ShaderStage
	for st := range s.modules {
		m |= st
	}
	return m
}

// Blob returns the compiled binary of one stage.
func (s *Shader) Blob(stage ShaderStage) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[stage]
}

// DescriptorSets returns the reflected descriptor-set layouts ordered by set.
func (s *Shader) DescriptorSets() []DescriptorSetLayoutDesc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets
}

// PushConstants returns the reflected push-constant block.
func (s *Shader) PushConstants() PushConstantRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.push
}

// VertexLayout returns the explicit or reflected vertex layout.
func (s *Shader) VertexLayout() VertexLayout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vertexLayout
}

// EntryPoint returns the entry point used for stage.
func (s *Shader) EntryPoint(stage ShaderStage) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[stage]
}

// Compiles returns how many times the shader has been compiled successfully.
func (s *Shader) Compiles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiles
}

// stageModules returns the modules in pipeline order for pipeline creation.
func (s *Shader) stageModules() []ShaderStageModule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ShaderStageModule, 0, len(s.modules))
	for _, sp := range s.desc.stages() {
		if m, ok := s.modules[sp.stage]; ok {
			out = append(out, ShaderStageModule{Stage: sp.stage, Module: m, EntryPoint: s.entries[sp.stage]})
		}
	}
	return out
}

// compiledProgram is the result of compiling every stage of a shader.
type compiledProgram struct {
	blobs        map[ShaderStage][]byte
	modules      map[ShaderStage]NativeShaderModule
	entries      map[ShaderStage]string
	sets         []DescriptorSetLayoutDesc
	push         PushConstantRange
	vertexLayout VertexLayout
}

func (p *compiledProgram) destroy() {
	for _, m := range p.modules {
		m.Destroy()
	}
}

// swap installs p and returns the modules it replaced.
func (s *Shader) swap(p *compiledProgram) map[ShaderStage]NativeShaderModule {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.modules
	s.blobs = p.blobs
	s.modules = p.modules
	s.entries = p.entries
	s.sets = p.sets
	s.push = p.push
	s.vertexLayout = p.vertexLayout
	s.compiles++
	return old
}

// Release destroys the native modules once in-flight work retires.
func (s *Shader) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	modules := s.modules
	s.modules = nil
	s.blobs = nil
	s.mu.Unlock()

	for _, m := range modules {
		s.rc.DeferRelease(m)
	}
}

// Valid reports whether the shader has live native modules.
func (s *Shader) Valid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.released && len(s.modules) > 0
}

// SetName sets the debug label.
func (s *Shader) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Name returns the debug label.
func (s *Shader) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}
