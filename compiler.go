package rhi

import (
	"encoding/binary"
	"fmt"
	"path"
	"strings"

	"github.com/gogpu/naga"
)

// Compiler turns shader source into a native binary. Compilation itself is
// opaque to rhi; the manager only needs the resulting blob.
type Compiler interface {
	Compile(stage ShaderStage, source []byte, entryPoint string) ([]byte, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(stage ShaderStage, source []byte, entryPoint string) ([]byte, error)

// Compile calls f.
func (f CompilerFunc) Compile(stage ShaderStage, source []byte, entryPoint string) ([]byte, error) {
	return f(stage, source, entryPoint)
}

// NagaCompiler compiles WGSL to SPIR-V with gogpu/naga. A WGSL module holds
// every stage, so the same source may back several stage paths.
type NagaCompiler struct{}

// Compile compiles WGSL source to SPIR-V bytes.
func (NagaCompiler) Compile(stage ShaderStage, source []byte, entryPoint string) ([]byte, error) {
	spirv, err := naga.Compile(string(source))
	if err != nil {
		return nil, fmt.Errorf("naga: %s stage %q: %w", stage, entryPoint, err)
	}
	return spirv, nil
}

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// IsSPIRV reports whether code starts with the SPIR-V magic number.
func IsSPIRV(code []byte) bool {
	return len(code) >= 20 && len(code)%4 == 0 && binary.LittleEndian.Uint32(code) == spirvMagic
}

// SPIRVWords returns code as little-endian words, or false if code is not
// a SPIR-V module.
func SPIRVWords(code []byte) ([]uint32, bool) {
	if !IsSPIRV(code) {
		return nil, false
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	return words, true
}

// SPIRVPassthrough accepts precompiled SPIR-V unchanged.
type SPIRVPassthrough struct{}

// Compile validates the SPIR-V header and returns source.
func (SPIRVPassthrough) Compile(_ ShaderStage, source []byte, _ string) ([]byte, error) {
	if !IsSPIRV(source) {
		return nil, fmt.Errorf("%w: not a SPIR-V module", ErrInvalidArgument)
	}
	return source, nil
}

// isPrecompiled reports whether a stage path names a SPIR-V binary.
func isPrecompiled(p string, source []byte) bool {
	return strings.EqualFold(path.Ext(p), ".spv") || IsSPIRV(source)
}
