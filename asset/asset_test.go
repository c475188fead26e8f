// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package asset_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devblok/vkplayground/asset"
	"github.com/devblok/vkplayground/shader"
	"github.com/devblok/vkplayground/utility/kar"
	"github.com/gobuffalo/packd"
	"github.com/gobuffalo/packr"
	"github.com/pkg/errors"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

const triangle = `<?xml version="1.0" encoding="utf-8"?>
<COLLADA xmlns="http://www.collada.org/2005/11/COLLADASchema" version="1.4.1">
  <library_geometries>
    <geometry id="Tri-mesh">
      <mesh>
        <source id="Tri-mesh-positions">
          <float_array id="Tri-mesh-positions-array" count="9">0 0 0 1 0 0 0 1 0</float_array>
          <technique_common><accessor source="#Tri-mesh-positions-array" count="3" stride="3"/></technique_common>
        </source>
        <vertices id="Tri-mesh-vertices">
          <input semantic="POSITION" source="#Tri-mesh-positions"/>
        </vertices>
        <triangles count="1">
          <input semantic="VERTEX" source="#Tri-mesh-vertices" offset="0"/>
          <p>0 1 2</p>
        </triangles>
      </mesh>
    </geometry>
  </library_geometries>
</COLLADA>`

// twoRows is 2x2 with a red top row and a blue bottom row.
func twoRows() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
		img.Set(x, 1, color.NRGBA{B: 255, A: 255})
	}
	return img
}

func encodePNG(t *testing.T) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, twoRows()); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func checkFlipped(t *testing.T, tex *asset.Texture) {
	t.Helper()
	if tex.Width != 2 || tex.Height != 2 || len(tex.Pixels) != 16 {
		t.Fatalf("unexpected texture %dx%d with %d bytes", tex.Width, tex.Height, len(tex.Pixels))
	}
	if !bytes.Equal(tex.Pixels[:4], []byte{0, 0, 255, 255}) {
		t.Errorf("first row must be the bottom row, got % x", tex.Pixels[:4])
	}
	if !bytes.Equal(tex.Pixels[8:12], []byte{255, 0, 0, 255}) {
		t.Errorf("last row must be the top row, got % x", tex.Pixels[8:12])
	}
}

func TestDecodeTexture(t *testing.T) {
	tex, err := asset.DecodeTexture(bytes.NewReader(encodePNG(t)))
	if err != nil {
		t.Fatal(err)
	}
	checkFlipped(t, tex)
}

func TestDecodeTextureFormats(t *testing.T) {
	var b, f bytes.Buffer
	if err := bmp.Encode(&b, twoRows()); err != nil {
		t.Fatal(err)
	}
	if err := tiff.Encode(&f, twoRows(), nil); err != nil {
		t.Fatal(err)
	}
	for name, data := range map[string][]byte{"bmp": b.Bytes(), "tiff": f.Bytes()} {
		tex, err := asset.DecodeTexture(bytes.NewReader(data))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		checkFlipped(t, tex)
	}

	if _, err := asset.DecodeTexture(strings.NewReader("not an image")); err == nil {
		t.Error("garbage must not decode")
	}
}

func TestBox(t *testing.T) {
	box := packd.NewMemoryBox()
	if err := box.AddString("models/tri.dae", triangle); err != nil {
		t.Fatal(err)
	}
	if err := box.AddBytes("textures/rows.png", encodePNG(t)); err != nil {
		t.Fatal(err)
	}
	src := asset.Box{Finder: box}

	mesh, err := asset.LoadMesh(src, "models/tri.dae")
	if err != nil {
		t.Fatal(err)
	}
	if len(mesh.Vertices) != 3 || len(mesh.Indices) != 3 {
		t.Errorf("unexpected mesh %d vertices, %d indices", len(mesh.Vertices), len(mesh.Indices))
	}
	if mesh.Name != "tri" {
		t.Errorf("unnamed geometry must be named after the file, got %q", mesh.Name)
	}

	tex, err := asset.LoadTexture(src, "textures/rows.png")
	if err != nil {
		t.Fatal(err)
	}
	checkFlipped(t, tex)

	if _, err := src.ReadFile("missing"); errors.Cause(err) != asset.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuiltinAssets(t *testing.T) {
	src := asset.Box{Finder: packr.NewBox("../assets")}

	mesh, err := asset.LoadMesh(src, "models/cube.dae")
	if err != nil {
		t.Fatal(err)
	}
	if mesh.Name != "Cube" || len(mesh.Vertices) != 24 || len(mesh.Indices) != 36 || len(mesh.SubMeshes) != 1 {
		t.Errorf("unexpected cube %q: %d vertices, %d indices, %d sub-meshes",
			mesh.Name, len(mesh.Vertices), len(mesh.Indices), len(mesh.SubMeshes))
	}

	tex, err := asset.LoadTexture(src, "textures/checker.png")
	if err != nil {
		t.Fatal(err)
	}
	if tex.Width != 64 || tex.Height != 64 {
		t.Errorf("unexpected checker %dx%d", tex.Width, tex.Height)
	}

	source, err := src.ReadFile("shaders/test.shader")
	if err != nil {
		t.Fatal(err)
	}
	stages, err := shader.Split(bytes.NewReader(source))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := stages[shader.Vertex]; !ok || len(stages) != 2 {
		t.Errorf("expected vertex and fragment stages, got %d", len(stages))
	}
}

func TestLoadMeshUnsupported(t *testing.T) {
	box := packd.NewMemoryBox()
	if err := box.AddString("models/tri.obj", "v 0 0 0"); err != nil {
		t.Fatal(err)
	}
	if _, err := asset.LoadMesh(asset.Box{Finder: box}, "models/tri.obj"); err == nil {
		t.Error("obj files are not supported")
	}
}

func TestDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "models"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "models", "tri.dae"), []byte(triangle), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := asset.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	if _, ok := src.(asset.Dir); !ok {
		t.Fatalf("expected a directory source, got %T", src)
	}
	if _, err := asset.LoadMesh(src, "models/tri.dae"); err != nil {
		t.Error(err)
	}
	if _, err := src.ReadFile("models/missing.dae"); errors.Cause(err) != asset.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := asset.Open(filepath.Join(dir, "models", "tri.dae")); err == nil {
		t.Error("a plain file is not a source")
	}
}

func TestArchive(t *testing.T) {
	builder, err := kar.NewBuilder(kar.Header{Author: "devblok", Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()
	if err := builder.Add("models/tri.dae", strings.NewReader(triangle)); err != nil {
		t.Fatal(err)
	}
	if err := builder.Add("textures/rows.png", bytes.NewReader(encodePNG(t))); err != nil {
		t.Fatal(err)
	}

	p := filepath.Join(t.TempDir(), "assets.kar")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := builder.WriteTo(f); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	src, err := asset.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	ar, ok := src.(*asset.Archive)
	if !ok {
		t.Fatalf("expected an archive source, got %T", src)
	}
	if files := ar.Files(); len(files) != 2 {
		t.Errorf("unexpected files %v", files)
	}
	if _, err := asset.LoadMesh(src, "models/tri.dae"); err != nil {
		t.Error(err)
	}
	tex, err := asset.LoadTexture(src, "./textures/rows.png")
	if err != nil {
		t.Fatal(err)
	}
	checkFlipped(t, tex)
	if _, err := src.ReadFile("missing"); errors.Cause(err) != asset.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func BenchmarkDecodeTexture(b *testing.B) {
	var buf bytes.Buffer
	img := image.NewNRGBA(image.Rect(0, 0, 256, 256))
	if err := png.Encode(&buf, img); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := asset.DecodeTexture(bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}
