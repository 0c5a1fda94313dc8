package rhi_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/backend/software"
)

const copyUsage = rhi.TextureUsageSampled | rhi.TextureUsageCopyDst | rhi.TextureUsageCopySrc

func TestTextureRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		info rhi.TextureInfo
	}{
		{"rgba8 odd width", rhi.TextureInfo{Width: 3, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: copyUsage}},
		{"array", rhi.TextureInfo{Type: rhi.Texture2DArray, Width: 4, Height: 4, DepthOrLayers: 2, Format: rhi.FormatRGBA8Unorm, Usage: copyUsage}},
		{"r32 float", rhi.TextureInfo{Width: 5, Height: 1, Format: rhi.FormatR32Float, Usage: copyUsage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc, _ := newTestContext(t, software.Config{RowPitchAlignment: 256})
			tex, err := rhi.CreateTexture(rc, tt.info)
			if err != nil {
				t.Fatalf("CreateTexture: %v", err)
			}
			t.Cleanup(tex.Release)

			size := int(tt.info.Width*tt.info.Height*tt.info.Format.BytesPerPixel()) * int(tex.Info().Layers())
			data := seq(size, 7)
			if err := tex.Upload(data); err != nil {
				t.Fatalf("Upload: %v", err)
			}
			if tex.Layout() != rhi.LayoutShaderReadOnly {
				t.Errorf("layout after upload = %s, want ShaderReadOnly", tex.Layout())
			}

			got, err := tex.Download()
			if err != nil {
				t.Fatalf("Download: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Download = %v, want %v", got, data)
			}
			if tex.Layout() != rhi.LayoutShaderReadOnly {
				t.Errorf("layout after download = %s, want ShaderReadOnly", tex.Layout())
			}
		})
	}
}

func TestTextureUploadErrors(t *testing.T) {
	rc, _ := newTestContext(t, software.Config{})

	sampled, err := rhi.CreateTexture(rc, rhi.TextureInfo{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(sampled.Release)
	if err := sampled.Upload(make([]byte, 16)); !errors.Is(err, rhi.ErrInvalidArgument) {
		t.Errorf("upload without CopyDst = %v, want ErrInvalidArgument", err)
	}
	if _, err := sampled.Download(); !errors.Is(err, rhi.ErrInvalidArgument) {
		t.Errorf("download without CopySrc = %v, want ErrInvalidArgument", err)
	}

	tex, err := rhi.CreateTexture(rc, rhi.TextureInfo{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: copyUsage})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tex.Release)
	if err := tex.Upload(make([]byte, 15)); !errors.Is(err, rhi.ErrInvalidArgument) || rhi.KindOf(err) != rhi.KindContract {
		t.Errorf("short upload = %v, want contract ErrInvalidArgument", err)
	}
}

func TestTextureInfoValidate(t *testing.T) {
	tests := []struct {
		name string
		info rhi.TextureInfo
	}{
		{"zero extent", rhi.TextureInfo{Width: 0, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled}},
		{"undefined format", rhi.TextureInfo{Width: 4, Height: 4, Usage: rhi.TextureUsageSampled}},
		{"no usage", rhi.TextureInfo{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm}},
		{"cube layers", rhi.TextureInfo{Type: rhi.TextureCube, Width: 4, Height: 4, DepthOrLayers: 5, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled}},
		{"depth as colour", rhi.TextureInfo{Width: 4, Height: 4, Format: rhi.FormatDepth32Float, Usage: rhi.TextureUsageRenderTarget}},
		{"colour as depth", rhi.TextureInfo{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageDepthStencil}},
		{"too many mips", rhi.TextureInfo{Width: 4, Height: 4, MipLevels: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled}},
	}
	rc, _ := newTestContext(t, software.Config{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.info.Validate(); !errors.Is(err, rhi.ErrInvalidArgument) {
				t.Errorf("Validate = %v, want ErrInvalidArgument", err)
			}
			if _, err := rhi.CreateTexture(rc, tt.info); rhi.KindOf(err) != rhi.KindContract {
				t.Errorf("CreateTexture = %v, want contract error", err)
			}
		})
	}
}

func TestTextureViewsAndRelease(t *testing.T) {
	rc, dev := newTestContext(t, software.Config{})
	tex, err := rhi.CreateTexture(rc, rhi.TextureInfo{
		Type: rhi.Texture2DArray, Width: 8, Height: 8, DepthOrLayers: 3, MipLevels: 2,
		Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled, Name: "atlas",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := rc.Textures().Get(tex.Handle()); !ok || got != tex {
		t.Error("texture not registered in the arena")
	}

	v1, err := tex.View(1, 2)
	if err != nil {
		t.Fatalf("View(1, 2): %v", err)
	}
	v2, _ := tex.View(1, 2)
	if v1 != v2 || tex.ViewCount() != 2 {
		t.Errorf("views not cached: count %d", tex.ViewCount())
	}
	if _, err := tex.View(2, 0); !errors.Is(err, rhi.ErrOutOfRange) {
		t.Errorf("View past last mip = %v, want ErrOutOfRange", err)
	}

	tex.Release()
	if tex.Valid() {
		t.Error("texture valid after Release")
	}
	if _, ok := rc.Textures().Get(tex.Handle()); ok {
		t.Error("released texture still in the arena")
	}
	if err := rc.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	rc.Collect()
	if st := dev.Stats(); st.Textures != 0 || st.Views != 0 {
		t.Errorf("native textures %d views %d after release, want 0", st.Textures, st.Views)
	}
}
