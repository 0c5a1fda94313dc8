package rhi

import (
	"encoding/binary"
	"errors"
	"testing"
)

// spvAsm assembles a SPIR-V module word by word.
type spvAsm struct {
	words []uint32
}

func newSPVAsm() *spvAsm {
	return &spvAsm{words: []uint32{spirvMagic, 0x00010000, 0, 100, 0}}
}

func (a *spvAsm) op(code uint32, args ...uint32) {
	a.words = append(a.words, uint32(len(args)+1)<<16|code) //nolint:gosec // G115: test input is tiny
	a.words = append(a.words, args...)
}

func spvLiteral(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func (a *spvAsm) bytes() []byte {
	out := make([]byte, len(a.words)*4)
	for i, w := range a.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// Result ids of the test module.
const (
	idMain = iota + 1
	idFloat
	idV2
	idV3
	idV4
	idMat4
	idUint
	idUBO
	idUBOPtr
	idUBOVar
	idImage
	idImagePtr
	idTex
	idSampler
	idSamplerPtr
	idSamp
	idFour
	idImageArr
	idImageArrPtr
	idTexArr
	idSSBO
	idSSBOPtr
	idSSBOVar
	idPC
	idPCPtr
	idPCVar
	idInV3Ptr
	idInV2Ptr
	idInUintPtr
	idInPos
	idInUV
	idVertexIndex
)

// vertexModule builds a vertex shader declaring a uniform block, a storage
// buffer, a sampler, a sampled image, an image array, a push-constant block
// and two located inputs plus a builtin.
func vertexModule() []byte {
	a := newSPVAsm()
	a.op(opEntryPoint, append(append([]uint32{execModelVertex, idMain}, spvLiteral("main")...),
		idInPos, idInUV, idVertexIndex)...)

	a.op(opDecorate, idInPos, decorationLocation, 0)
	a.op(opDecorate, idInUV, decorationLocation, 1)
	a.op(opDecorate, idVertexIndex, decorationBuiltIn, 42)
	a.op(opDecorate, idUBO, decorationBlock)
	a.op(opMemberDecorate, idUBO, 0, decorationOffset, 0)
	a.op(opMemberDecorate, idUBO, 1, decorationOffset, 64)
	a.op(opDecorate, idUBOVar, decorationDescriptorSet, 0)
	a.op(opDecorate, idUBOVar, decorationBinding, 0)
	a.op(opDecorate, idSSBOVar, decorationDescriptorSet, 0)
	a.op(opDecorate, idSSBOVar, decorationBinding, 3)
	a.op(opDecorate, idSamp, decorationDescriptorSet, 1)
	a.op(opDecorate, idSamp, decorationBinding, 1)
	a.op(opDecorate, idTex, decorationDescriptorSet, 1)
	a.op(opDecorate, idTex, decorationBinding, 2)
	a.op(opDecorate, idTexArr, decorationDescriptorSet, 2)
	a.op(opDecorate, idTexArr, decorationBinding, 0)
	a.op(opDecorate, idPC, decorationBlock)
	a.op(opMemberDecorate, idPC, 0, decorationOffset, 0)
	a.op(opMemberDecorate, idPC, 1, decorationOffset, 16)

	a.op(opTypeFloat, idFloat, 32)
	a.op(opTypeVector, idV2, idFloat, 2)
	a.op(opTypeVector, idV3, idFloat, 3)
	a.op(opTypeVector, idV4, idFloat, 4)
	a.op(opTypeMatrix, idMat4, idV4, 4)
	a.op(opTypeInt, idUint, 32, 0)

	a.op(opTypeStruct, idUBO, idMat4, idV4)
	a.op(opTypePointer, idUBOPtr, storageUniform, idUBO)
	a.op(opVariable, idUBOPtr, idUBOVar, storageUniform)

	a.op(opTypeImage, idImage, idFloat, 1, 0, 0, 0, 1, 0)
	a.op(opTypePointer, idImagePtr, storageUniformConstant, idImage)
	a.op(opVariable, idImagePtr, idTex, storageUniformConstant)

	a.op(opTypeSampler, idSampler)
	a.op(opTypePointer, idSamplerPtr, storageUniformConstant, idSampler)
	a.op(opVariable, idSamplerPtr, idSamp, storageUniformConstant)

	// The array length constant is declared after the array type.
	a.op(opTypeArray, idImageArr, idImage, idFour)
	a.op(opConstant, idUint, idFour, 4)
	a.op(opTypePointer, idImageArrPtr, storageUniformConstant, idImageArr)
	a.op(opVariable, idImageArrPtr, idTexArr, storageUniformConstant)

	a.op(opTypeStruct, idSSBO, idV4)
	a.op(opTypePointer, idSSBOPtr, storageStorageBuffer, idSSBO)
	a.op(opVariable, idSSBOPtr, idSSBOVar, storageStorageBuffer)

	a.op(opTypeStruct, idPC, idV4, idFloat)
	a.op(opTypePointer, idPCPtr, storagePushConstant, idPC)
	a.op(opVariable, idPCPtr, idPCVar, storagePushConstant)

	a.op(opTypePointer, idInV3Ptr, storageInput, idV3)
	a.op(opTypePointer, idInV2Ptr, storageInput, idV2)
	a.op(opTypePointer, idInUintPtr, storageInput, idUint)
	a.op(opVariable, idInV2Ptr, idInUV, storageInput)
	a.op(opVariable, idInV3Ptr, idInPos, storageInput)
	a.op(opVariable, idInUintPtr, idVertexIndex, storageInput)
	return a.bytes()
}

func TestReflectSPIRV(t *testing.T) {
	r, err := ReflectSPIRV(vertexModule(), ShaderStageVertex)
	if err != nil {
		t.Fatalf("ReflectSPIRV: %v", err)
	}

	if len(r.EntryPoints) != 1 || r.EntryPoints[0].Name != "main" || r.EntryPoints[0].Stage != ShaderStageVertex {
		t.Errorf("EntryPoints = %+v", r.EntryPoints)
	}
	if r.PushConstantSize != 20 {
		t.Errorf("PushConstantSize = %d, want 20", r.PushConstantSize)
	}

	want := []DescriptorSetLayoutDesc{
		{Set: 0, Bindings: []DescriptorBinding{
			{Binding: 0, Kind: DescriptorUniformBuffer, Count: 1, Stages: ShaderStageVertex},
			{Binding: 3, Kind: DescriptorStorageBuffer, Count: 1, Stages: ShaderStageVertex},
		}},
		{Set: 1, Bindings: []DescriptorBinding{
			{Binding: 1, Kind: DescriptorSampler, Count: 1, Stages: ShaderStageVertex},
			{Binding: 2, Kind: DescriptorSampledTexture, Count: 1, Stages: ShaderStageVertex},
		}},
		{Set: 2, Bindings: []DescriptorBinding{
			{Binding: 0, Kind: DescriptorSampledTexture, Count: 4, Stages: ShaderStageVertex},
		}},
	}
	if len(r.Sets) != len(want) {
		t.Fatalf("Sets = %+v, want %d sets", r.Sets, len(want))
	}
	for i, s := range want {
		got := r.Sets[i]
		if got.Set != s.Set || len(got.Bindings) != len(s.Bindings) {
			t.Errorf("set %d = %+v, want %+v", i, got, s)
			continue
		}
		for j := range s.Bindings {
			if got.Bindings[j] != s.Bindings[j] {
				t.Errorf("set %d binding %d = %+v, want %+v", s.Set, j, got.Bindings[j], s.Bindings[j])
			}
		}
	}

	if len(r.Inputs) != 2 {
		t.Fatalf("Inputs = %+v, want 2 located inputs", r.Inputs)
	}
	if r.Inputs[0].Location != 0 || r.Inputs[0].Format != VertexFloat32x3 {
		t.Errorf("input 0 = %+v, want location 0 float32x3", r.Inputs[0])
	}
	if r.Inputs[1].Location != 1 || r.Inputs[1].Format != VertexFloat32x2 {
		t.Errorf("input 1 = %+v, want location 1 float32x2", r.Inputs[1])
	}
}

func TestReflectSPIRVRejectsGarbage(t *testing.T) {
	if _, err := ReflectSPIRV([]byte("@vertex fn main() {}"), ShaderStageVertex); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("WGSL source: err = %v, want ErrInvalidArgument", err)
	}

	a := newSPVAsm()
	a.words = append(a.words, 0) // zero word count
	if _, err := ReflectSPIRV(a.bytes(), ShaderStageVertex); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("malformed module: err = %v, want ErrInvalidArgument", err)
	}

	a = newSPVAsm()
	a.words = append(a.words, 9<<16|opName, 1)
	if _, err := ReflectSPIRV(a.bytes(), ShaderStageVertex); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("truncated instruction: err = %v, want ErrInvalidArgument", err)
	}
}

func TestEntryFor(t *testing.T) {
	r := &Reflection{EntryPoints: []EntryPoint{
		{Name: "vs", Stage: ShaderStageVertex},
		{Name: "fs_a", Stage: ShaderStagePixel},
		{Name: "fs_b", Stage: ShaderStagePixel},
	}}
	tests := []struct {
		stage     ShaderStage
		preferred string
		want      string
		ok        bool
	}{
		{ShaderStageVertex, "main", "vs", true},
		{ShaderStagePixel, "fs_b", "fs_b", true},
		{ShaderStagePixel, "main", "fs_a", true},
		{ShaderStageCompute, "main", "", false},
	}
	for _, tt := range tests {
		got, ok := r.EntryFor(tt.stage, tt.preferred)
		if got != tt.want || ok != tt.ok {
			t.Errorf("EntryFor(%v, %q) = %q, %v, want %q, %v", tt.stage, tt.preferred, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMergeSets(t *testing.T) {
	vs := []DescriptorSetLayoutDesc{{Set: 0, Bindings: []DescriptorBinding{
		{Binding: 0, Kind: DescriptorUniformBuffer, Count: 1, Stages: ShaderStageVertex},
	}}}
	fs := []DescriptorSetLayoutDesc{
		{Set: 0, Bindings: []DescriptorBinding{
			{Binding: 0, Kind: DescriptorUniformBuffer, Count: 1, Stages: ShaderStagePixel},
			{Binding: 1, Kind: DescriptorSampledTexture, Count: 1, Stages: ShaderStagePixel},
		}},
		{Set: 1, Bindings: []DescriptorBinding{
			{Binding: 0, Kind: DescriptorSampler, Count: 1, Stages: ShaderStagePixel},
		}},
	}
	got := mergeSets(vs, fs)
	if len(got) != 2 || len(got[0].Bindings) != 2 || len(got[1].Bindings) != 1 {
		t.Fatalf("mergeSets = %+v", got)
	}
	if s := got[0].Bindings[0].Stages; s != ShaderStageVertex|ShaderStagePixel {
		t.Errorf("shared binding stages = %v, want vertex|pixel", s)
	}
}
