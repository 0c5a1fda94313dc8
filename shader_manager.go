package rhi

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/gogpu/rhi/cache"
)

// ShaderManager compiles shaders on demand and caches them by descriptor
// hash. Reload requests go to a separate queue with its own lock, so a
// file-watcher or editor goroutine never blocks GetOrCreateShader.
type ShaderManager struct {
	rc       *RenderContext
	compiler Compiler
	fsys     fs.FS
	blobs    *cache.Sharded[[]byte]
	arena    *Arena[*Shader]

	// mu guards shaders. Compiles run outside it; flight merges concurrent
	// compiles of the same descriptor.
	mu      sync.RWMutex
	shaders map[uint64]*Shader
	flight  singleflight.Group

	// reloadMu guards reloads. It is never held together with mu.
	reloadMu sync.Mutex
	reloads  map[uint64]ShaderDesc

	hits           atomic.Uint64
	misses         atomic.Uint64
	reloadFailures atomic.Uint64
}

// ShaderInfo is a read-only summary for tools listing loaded shaders.
type ShaderInfo struct {
	Name     string
	Hash     uint64
	Stages   ShaderStage
	Compiles int
}

func newShaderManager(rc *RenderContext, compiler Compiler, fsys fs.FS, blobCache int) *ShaderManager {
	return &ShaderManager{
		rc:       rc,
		compiler: compiler,
		fsys:     fsys,
		blobs:    cache.NewSharded[[]byte](blobCache),
		arena:    NewArena[*Shader](),
		shaders:  make(map[uint64]*Shader),
		reloads:  make(map[uint64]ShaderDesc),
	}
}

func validateShaderDesc(desc ShaderDesc) error {
	stages := desc.stages()
	if len(stages) == 0 {
		return fmt.Errorf("%w: shader has no stages", ErrInvalidArgument)
	}
	if desc.Compute != "" && len(stages) > 1 {
		return fmt.Errorf("%w: compute stage mixed with graphics stages", ErrInvalidArgument)
	}
	if desc.Compute == "" && desc.Vertex == "" {
		return fmt.Errorf("%w: graphics shader without a vertex stage", ErrInvalidArgument)
	}
	return nil
}

// GetOrCreateShader returns the cached shader for desc, compiling and
// reflecting it on first use. A compile failure is a recoverable error; the
// caller may skip the work that needed the shader.
func (m *ShaderManager) GetOrCreateShader(desc ShaderDesc) (*Shader, error) {
	if err := validateShaderDesc(desc); err != nil {
		return nil, contractError("get shader", err)
	}
	key := desc.Hash()

	m.mu.RLock()
	if s, ok := m.shaders[key]; ok {
		m.mu.RUnlock()
		m.hits.Add(1)
		return s, nil
	}
	m.mu.RUnlock()

	v, err, _ := m.flight.Do(strconv.FormatUint(key, 16), func() (any, error) {
		m.mu.RLock()
		s, ok := m.shaders[key]
		m.mu.RUnlock()
		if ok {
			m.hits.Add(1)
			return s, nil
		}

		prog, err := m.compile(desc)
		if err != nil {
			return nil, err
		}
		s = &Shader{desc: desc, hash: key, rc: m.rc, name: desc.Name()}
		s.swap(prog)

		m.mu.Lock()
		if prev, ok := m.shaders[key]; ok {
			m.mu.Unlock()
			prog.destroy()
			m.hits.Add(1)
			return prev, nil
		}
		s.handle = m.arena.Insert(s)
		m.shaders[key] = s
		m.mu.Unlock()
		m.misses.Add(1)

		Logger().Debug("rhi: shader compiled", "name", s.name, "stages", s.Stages(), "handle", s.handle)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Shader), nil
}

// compile builds every stage of desc. On failure nothing is left allocated.
func (m *ShaderManager) compile(desc ShaderDesc) (*compiledProgram, error) {
	prog := &compiledProgram{
		blobs:   make(map[ShaderStage][]byte),
		modules: make(map[ShaderStage]NativeShaderModule),
		entries: make(map[ShaderStage]string),
	}
	var inputs []VertexAttribute

	for _, sp := range desc.stages() {
		blob, err := m.compileStage(sp, desc.entryPoint())
		if err != nil {
			prog.destroy()
			return nil, recoverableError("compile shader",
				fmt.Errorf("%w: %s %s: %w", ErrShaderCompile, sp.stage, sp.path, err))
		}
		prog.blobs[sp.stage] = blob
		prog.entries[sp.stage] = desc.entryPoint()

		if IsSPIRV(blob) {
			refl, err := ReflectSPIRV(blob, sp.stage)
			if err != nil {
				prog.destroy()
				return nil, recoverableError("reflect shader", fmt.Errorf("%s: %w", sp.path, err))
			}
			if name, ok := refl.EntryFor(sp.stage, desc.entryPoint()); ok {
				prog.entries[sp.stage] = name
			}
			prog.sets = mergeSets(prog.sets, refl.Sets)
			if refl.PushConstantSize > 0 {
				prog.push.Stages |= sp.stage
				prog.push.Size = max(prog.push.Size, refl.PushConstantSize)
			}
			if sp.stage == ShaderStageVertex {
				inputs = refl.Inputs
			}
		} else {
			Logger().Debug("rhi: shader blob is not SPIR-V, skipping reflection", "path", sp.path)
		}

		mod, err := m.rc.device.CreateShaderModule(sp.stage, blob, sp.path)
		if err != nil {
			prog.destroy()
			return nil, NativeError("create shader module", err)
		}
		prog.modules[sp.stage] = mod
	}

	if desc.VertexLayout != nil {
		prog.vertexLayout = *desc.VertexLayout
	} else {
		prog.vertexLayout = layoutFromInputs(inputs)
	}
	return prog, nil
}

// compileStage reads one stage source and compiles it, memoising the blob
// by source content so unchanged files are not recompiled on reload.
func (m *ShaderManager) compileStage(sp stagePath, entry string) ([]byte, error) {
	if m.fsys == nil {
		return nil, fmt.Errorf("%w: no shader source root configured", ErrInvalidArgument)
	}
	source, err := fs.ReadFile(m.fsys, cleanShaderPath(sp.path))
	if err != nil {
		return nil, err
	}

	compiler := m.compiler
	if isPrecompiled(sp.path, source) {
		compiler = SPIRVPassthrough{}
	}
	h := newHasher()
	hashWriteUint32(h, uint32(sp.stage))
	hashWriteString(h, entry)
	_, _ = h.Write(source)
	return m.blobs.GetOrCreate(h.Sum64(), func() ([]byte, error) {
		return compiler.Compile(sp.stage, source, entry)
	})
}

func cleanShaderPath(p string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(p, "\\", "/")), "/")
}

// ShaderByHandle resolves a handle issued to a live shader.
func (m *ShaderManager) ShaderByHandle(h Handle) (*Shader, bool) {
	return m.arena.Get(h)
}

// Lookup returns the cached shader for desc without compiling.
func (m *ShaderManager) Lookup(desc ShaderDesc) (*Shader, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shaders[desc.Hash()]
	return s, ok
}

// ReloadShader queues desc for recompilation on the next ProcessReloads.
// It only takes the reload-queue lock.
func (m *ShaderManager) ReloadShader(desc ShaderDesc) {
	m.reloadMu.Lock()
	m.reloads[desc.Hash()] = desc
	m.reloadMu.Unlock()
}

// ReloadShaders queues every cached shader for recompilation.
func (m *ShaderManager) ReloadShaders() {
	for _, d := range m.snapshot(nil) {
		m.ReloadShader(d)
	}
}

// ReloadPath queues every shader that has a stage sourced from file and
// returns how many were queued.
func (m *ShaderManager) ReloadPath(file string) int {
	file = cleanShaderPath(file)
	descs := m.snapshot(func(d ShaderDesc) bool {
		for _, sp := range d.stages() {
			if cleanShaderPath(sp.path) == file {
				return true
			}
		}
		return false
	})
	for _, d := range descs {
		m.ReloadShader(d)
	}
	return len(descs)
}

// snapshot copies matching descriptors under the map read lock.
func (m *ShaderManager) snapshot(match func(ShaderDesc) bool) []ShaderDesc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ShaderDesc, 0, len(m.shaders))
	for _, s := range m.shaders {
		if match == nil || match(s.desc) {
			out = append(out, s.desc)
		}
	}
	return out
}

// PendingReloads returns the number of queued reloads.
func (m *ShaderManager) PendingReloads() int {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	return len(m.reloads)
}

// ProcessReloads drains the reload queue and recompiles the queued shaders
// in parallel. A shader that fails to recompile keeps its previous binary.
// Pipelines built from a reloaded shader are dropped from the pipeline cache
// and rebuilt on next use. Call it from the render goroutine.
func (m *ShaderManager) ProcessReloads(ctx context.Context) (int, error) {
	m.reloadMu.Lock()
	queued := m.reloads
	m.reloads = make(map[uint64]ShaderDesc)
	m.reloadMu.Unlock()
	if len(queued) == 0 {
		return 0, nil
	}

	type job struct {
		shader *Shader
		prog   *compiledProgram
		err    error
	}
	jobs := make([]*job, 0, len(queued))
	m.mu.RLock()
	for key := range queued {
		if s, ok := m.shaders[key]; ok {
			jobs = append(jobs, &job{shader: s})
		}
	}
	m.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				j.err = err
				return nil
			}
			j.prog, j.err = m.compile(j.shader.desc)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	reloaded := 0
	for _, j := range jobs {
		if j.err != nil {
			m.reloadFailures.Add(1)
			Logger().Warn("rhi: shader reload failed, keeping previous binary",
				"name", j.shader.Name(), "err", j.err)
			errs = append(errs, j.err)
			continue
		}
		for _, old := range j.shader.swap(j.prog) {
			m.rc.DeferRelease(old)
		}
		m.rc.pipelines.releaseByShader(j.shader.handle)
		reloaded++
	}
	if err := ctx.Err(); err != nil {
		return reloaded, err
	}
	return reloaded, errors.Join(errs...)
}

// DestroyShader releases the shader cached for desc and removes the entry.
func (m *ShaderManager) DestroyShader(desc ShaderDesc) bool {
	m.mu.Lock()
	key := desc.Hash()
	s, ok := m.shaders[key]
	delete(m.shaders, key)
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.arena.Remove(s.handle)
	m.rc.pipelines.releaseByShader(s.handle)
	s.Release()
	return true
}

// Shaders lists the cached shaders ordered by name.
func (m *ShaderManager) Shaders() []ShaderInfo {
	m.mu.RLock()
	out := make([]ShaderInfo, 0, len(m.shaders))
	for _, s := range m.shaders {
		out = append(out, ShaderInfo{Name: s.Name(), Hash: s.hash, Stages: s.Stages(), Compiles: s.Compiles()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of cached shaders.
func (m *ShaderManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shaders)
}

// Stats returns lookup hits and misses.
func (m *ShaderManager) Stats() (hits, misses uint64) {
	return m.hits.Load(), m.misses.Load()
}

// ReloadFailures returns how many reloads failed to compile.
func (m *ShaderManager) ReloadFailures() uint64 { return m.reloadFailures.Load() }

// BlobStats returns statistics of the compiled blob cache.
func (m *ShaderManager) BlobStats() cache.Stats { return m.blobs.Stats() }

// ReleaseAll releases every shader. The device must be idle.
func (m *ShaderManager) ReleaseAll() {
	m.mu.Lock()
	shaders := m.shaders
	m.shaders = make(map[uint64]*Shader)
	m.mu.Unlock()

	m.reloadMu.Lock()
	m.reloads = make(map[uint64]ShaderDesc)
	m.reloadMu.Unlock()

	for _, s := range shaders {
		m.arena.Remove(s.handle)
		s.Release()
	}
	m.blobs.Clear()
}
