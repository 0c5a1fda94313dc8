package rhi

// SampleVertexSPIRV exposes the hand-assembled vertex module to the
// external tests.
var SampleVertexSPIRV = vertexModule
