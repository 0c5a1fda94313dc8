package rhi

import (
	"fmt"
	"sort"
)

// SPIR-V opcodes, decorations and enums used by reflection.
const (
	opName             = 5
	opEntryPoint       = 15
	opTypeInt          = 21
	opTypeFloat        = 22
	opTypeVector       = 23
	opTypeMatrix       = 24
	opTypeImage        = 25
	opTypeSampler      = 26
	opTypeSampledImage = 27
	opTypeArray        = 28
	opTypeRuntimeArray = 29
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opDecorate         = 71
	opMemberDecorate   = 72

	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationArrayStride   = 6
	decorationBuiltIn       = 11
	decorationLocation      = 30
	decorationBinding       = 33
	decorationDescriptorSet = 34
	decorationOffset        = 35

	storageUniformConstant = 0
	storageInput           = 1
	storageUniform         = 2
	storagePushConstant    = 9
	storageStorageBuffer   = 12

	execModelVertex = 0
)

// EntryPoint is an entry point declared by a SPIR-V module.
type EntryPoint struct {
	Name  string
	Stage ShaderStage
}

// Reflection is what rhi needs to know about a compiled stage.
type Reflection struct {
	EntryPoints      []EntryPoint
	Sets             []DescriptorSetLayoutDesc
	PushConstantSize uint32

	// Inputs are the vertex-stage inputs, ordered by location. Offsets are
	// left zero; layoutFromInputs packs them.
	Inputs []VertexAttribute
}

type spvType struct {
	op     uint32
	args   []uint32
	length uint32 // arrays: element count, 0 for runtime arrays
}

type spvDecorations struct {
	set, binding, location, arrayStride uint32
	hasSet, hasBinding, hasLocation     bool
	block, bufferBlock, builtIn         bool
}

type spvModule struct {
	types       map[uint32]*spvType
	constants   map[uint32]uint32
	decorations map[uint32]*spvDecorations
	offsets     map[uint32]map[uint32]uint32
	variables   []spvVariable
	entries     []spvEntry
}

type spvVariable struct {
	id, typeID, storage uint32
}

type spvEntry struct {
	model  uint32
	name   string
	ifaces []uint32
}

// ReflectSPIRV extracts descriptor bindings, the push-constant block size
// and vertex inputs from a SPIR-V module. stage is recorded as the
// visibility of every binding found.
func ReflectSPIRV(code []byte, stage ShaderStage) (*Reflection, error) {
	words, ok := SPIRVWords(code)
	if !ok {
		return nil, fmt.Errorf("%w: not a SPIR-V module", ErrInvalidArgument)
	}
	m, err := parseSPIRV(words)
	if err != nil {
		return nil, err
	}

	r := &Reflection{}
	for _, e := range m.entries {
		r.EntryPoints = append(r.EntryPoints, EntryPoint{Name: e.name, Stage: execModelStage(e.model)})
	}

	sets := make(map[uint32][]DescriptorBinding)
	for _, v := range m.variables {
		switch v.storage {
		case storageUniformConstant, storageUniform, storageStorageBuffer:
			d := m.decorations[v.id]
			if d == nil || !d.hasBinding {
				continue
			}
			kind, count := m.descriptorKind(v)
			sets[d.set] = append(sets[d.set], DescriptorBinding{
				Binding: d.binding,
				Kind:    kind,
				Count:   count,
				Stages:  stage,
			})
		case storagePushConstant:
			r.PushConstantSize = max(r.PushConstantSize, m.sizeOf(m.pointee(v.typeID)))
		}
	}
	r.Sets = sortedSets(sets)

	for _, e := range m.entries {
		if e.model != execModelVertex {
			continue
		}
		for _, id := range e.ifaces {
			v, ok := m.variable(id)
			if !ok || v.storage != storageInput {
				continue
			}
			d := m.decorations[id]
			if d == nil || d.builtIn || !d.hasLocation {
				continue
			}
			r.Inputs = append(r.Inputs, VertexAttribute{
				Location: d.location,
				Format:   m.vertexFormat(m.pointee(v.typeID)),
			})
		}
	}
	sort.Slice(r.Inputs, func(i, j int) bool { return r.Inputs[i].Location < r.Inputs[j].Location })
	return r, nil
}

// execModelStage maps a SPIR-V execution model to a ShaderStage.
func execModelStage(model uint32) ShaderStage {
	switch model {
	case 0:
		return ShaderStageVertex
	case 1:
		return ShaderStageTessControl
	case 2:
		return ShaderStageTessEval
	case 3:
		return ShaderStageGeometry
	case 4:
		return ShaderStagePixel
	case 5:
		return ShaderStageCompute
	}
	return 0
}

// EntryFor returns the entry point to use for stage: preferred when the
// module declares it for that stage, otherwise the first entry point of the
// stage. ok is false when the module has no entry point for stage.
func (r *Reflection) EntryFor(stage ShaderStage, preferred string) (name string, ok bool) {
	for _, e := range r.EntryPoints {
		if e.Stage == stage && e.Name == preferred {
			return e.Name, true
		}
	}
	for _, e := range r.EntryPoints {
		if e.Stage == stage {
			return e.Name, true
		}
	}
	return "", false
}

func parseSPIRV(words []uint32) (*spvModule, error) {
	m := &spvModule{
		types:       make(map[uint32]*spvType),
		constants:   make(map[uint32]uint32),
		decorations: make(map[uint32]*spvDecorations),
		offsets:     make(map[uint32]map[uint32]uint32),
	}
	deco := func(id uint32) *spvDecorations {
		d := m.decorations[id]
		if d == nil {
			d = &spvDecorations{}
			m.decorations[id] = d
		}
		return d
	}

	for i := 5; i < len(words); {
		count := int(words[i] >> 16)
		op := words[i] & 0xffff
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("%w: malformed SPIR-V instruction at word %d", ErrInvalidArgument, i)
		}
		args := words[i+1 : i+count]
		i += count

		switch op {
		case opEntryPoint:
			if len(args) < 3 {
				continue
			}
			name, n := spvString(args[2:])
			m.entries = append(m.entries, spvEntry{
				model:  args[0],
				name:   name,
				ifaces: append([]uint32(nil), args[2+n:]...),
			})
		case opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix, opTypeImage,
			opTypeSampler, opTypeSampledImage, opTypeRuntimeArray, opTypeStruct, opTypePointer:
			if len(args) < 1 {
				continue
			}
			m.types[args[0]] = &spvType{op: op, args: args[1:]}
		case opTypeArray:
			if len(args) < 3 {
				continue
			}
			m.types[args[0]] = &spvType{op: op, args: args[1:], length: args[2]}
		case opConstant:
			if len(args) >= 3 {
				m.constants[args[1]] = args[2]
			}
		case opVariable:
			if len(args) >= 3 {
				m.variables = append(m.variables, spvVariable{id: args[1], typeID: args[0], storage: args[2]})
			}
		case opDecorate:
			if len(args) < 2 {
				continue
			}
			d := deco(args[0])
			switch args[1] {
			case decorationBlock:
				d.block = true
			case decorationBufferBlock:
				d.bufferBlock = true
			case decorationBuiltIn:
				d.builtIn = true
			case decorationLocation:
				if len(args) > 2 {
					d.location, d.hasLocation = args[2], true
				}
			case decorationBinding:
				if len(args) > 2 {
					d.binding, d.hasBinding = args[2], true
				}
			case decorationDescriptorSet:
				if len(args) > 2 {
					d.set, d.hasSet = args[2], true
				}
			case decorationArrayStride:
				if len(args) > 2 {
					d.arrayStride = args[2]
				}
			}
		case opMemberDecorate:
			if len(args) >= 4 && args[2] == decorationOffset {
				if m.offsets[args[0]] == nil {
					m.offsets[args[0]] = make(map[uint32]uint32)
				}
				m.offsets[args[0]][args[1]] = args[3]
			}
		case opName:
			// Debug names are not needed.
		}
	}

	// Array lengths reference constants that may be declared after the type.
	for _, t := range m.types {
		if t.op == opTypeArray {
			t.length = m.constants[t.length]
		}
	}
	return m, nil
}

// spvString decodes a nul-terminated literal string and returns it with the
// number of words it occupied.
func spvString(words []uint32) (string, int) {
	var b []byte
	for i, w := range words {
		for s := 0; s < 32; s += 8 {
			c := byte(w >> s)
			if c == 0 {
				return string(b), i + 1
			}
			b = append(b, c)
		}
	}
	return string(b), len(words)
}

func (m *spvModule) variable(id uint32) (spvVariable, bool) {
	for _, v := range m.variables {
		if v.id == id {
			return v, true
		}
	}
	return spvVariable{}, false
}

// pointee follows a pointer type to the type it points at.
func (m *spvModule) pointee(ptrType uint32) uint32 {
	if t := m.types[ptrType]; t != nil && t.op == opTypePointer && len(t.args) >= 2 {
		return t.args[1]
	}
	return ptrType
}

// descriptorKind classifies a resource variable and returns its array count.
func (m *spvModule) descriptorKind(v spvVariable) (DescriptorKind, uint32) {
	typeID := m.pointee(v.typeID)
	count := uint32(1)
	for {
		t := m.types[typeID]
		if t == nil {
			break
		}
		if t.op == opTypeArray {
			count *= t.length
			typeID = t.args[0]
			continue
		}
		if t.op == opTypeRuntimeArray {
			count = 0
			typeID = t.args[0]
			continue
		}
		break
	}

	t := m.types[typeID]
	if t == nil {
		return DescriptorUniformBuffer, count
	}
	switch t.op {
	case opTypeSampler:
		return DescriptorSampler, count
	case opTypeSampledImage:
		return DescriptorCombinedImageSampler, count
	case opTypeImage:
		// The Sampled operand is 2 for storage images.
		if len(t.args) >= 6 && t.args[5] == 2 {
			return DescriptorStorageTexture, count
		}
		return DescriptorSampledTexture, count
	}
	if v.storage == storageStorageBuffer {
		return DescriptorStorageBuffer, count
	}
	if d := m.decorations[typeID]; d != nil && d.bufferBlock {
		return DescriptorStorageBuffer, count
	}
	return DescriptorUniformBuffer, count
}

// sizeOf returns the byte size of a type under explicit layout.
func (m *spvModule) sizeOf(typeID uint32) uint32 {
	t := m.types[typeID]
	if t == nil {
		return 0
	}
	switch t.op {
	case opTypeInt, opTypeFloat:
		return t.args[0] / 8
	case opTypeVector, opTypeMatrix:
		return m.sizeOf(t.args[0]) * t.args[1]
	case opTypeArray:
		stride := m.sizeOf(t.args[0])
		if d := m.decorations[typeID]; d != nil && d.arrayStride != 0 {
			stride = d.arrayStride
		}
		return stride * t.length
	case opTypeStruct:
		var size uint32
		for i, member := range t.args {
			off := m.offsets[typeID][uint32(i)] //nolint:gosec // G115: member count is small
			size = max(size, off+m.sizeOf(member))
		}
		return size
	}
	return 0
}

// vertexFormat maps a scalar or vector input type to a VertexFormat.
func (m *spvModule) vertexFormat(typeID uint32) VertexFormat {
	t := m.types[typeID]
	if t == nil {
		return VertexFormatUndefined
	}
	n := uint32(1)
	if t.op == opTypeVector {
		n = t.args[1]
		t = m.types[t.args[0]]
		if t == nil {
			return VertexFormatUndefined
		}
	}
	switch {
	case t.op == opTypeFloat && t.args[0] == 32:
		return [...]VertexFormat{VertexFormatUndefined, VertexFloat32, VertexFloat32x2, VertexFloat32x3, VertexFloat32x4}[min(n, 4)]
	case t.op == opTypeInt && n == 1 && len(t.args) >= 2 && t.args[1] == 1:
		return VertexSint32
	case t.op == opTypeInt && n == 1:
		return VertexUint32
	}
	return VertexFormatUndefined
}

func sortedSets(sets map[uint32][]DescriptorBinding) []DescriptorSetLayoutDesc {
	out := make([]DescriptorSetLayoutDesc, 0, len(sets))
	for set, bindings := range sets {
		sort.Slice(bindings, func(i, j int) bool { return bindings[i].Binding < bindings[j].Binding })
		out = append(out, DescriptorSetLayoutDesc{Set: set, Bindings: bindings})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Set < out[j].Set })
	return out
}

// mergeSets unions the bindings of two stages. A binding present in both
// gets the union of their stage masks.
func mergeSets(a, b []DescriptorSetLayoutDesc) []DescriptorSetLayoutDesc {
	type key struct{ set, binding uint32 }
	merged := make(map[uint32][]DescriptorBinding)
	index := make(map[key]int)
	for _, list := range [][]DescriptorSetLayoutDesc{a, b} {
		for _, s := range list {
			for _, bd := range s.Bindings {
				k := key{s.Set, bd.Binding}
				if i, ok := index[k]; ok {
					merged[s.Set][i].Stages |= bd.Stages
					continue
				}
				index[k] = len(merged[s.Set])
				merged[s.Set] = append(merged[s.Set], bd)
			}
		}
	}
	return sortedSets(merged)
}
