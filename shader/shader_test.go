// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader_test

import (
	"encoding/binary"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblok/vkplayground/shader"
	"github.com/pkg/errors"
)

const source = `// leading comment
#Shader Vertex
#version 450
void main() {}
#Shader Fragment
#version 450
void main() {}
`

func TestSplit(t *testing.T) {
	sources, err := shader.Split(strings.NewReader(source))
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(sources))
	}
	if want := "#version 450\nvoid main() {}\n"; sources[shader.Vertex] != want {
		t.Errorf("vertex source: %q", sources[shader.Vertex])
	}
	if strings.Contains(sources[shader.Vertex], "leading comment") {
		t.Error("text before the first marker must be dropped")
	}
	if _, ok := sources[shader.Fragment]; !ok {
		t.Error("fragment stage missing")
	}
}

func TestSplitErrors(t *testing.T) {
	_, err := shader.Split(strings.NewReader("#Shader Geometry\n"))
	if errors.Cause(err) != shader.ErrUnknownStage {
		t.Errorf("expected unknown stage, got %v", err)
	}

	if _, err := shader.Split(strings.NewReader("#Shader Vertex\n#Shader vertex\n")); err == nil {
		t.Error("duplicate stage must fail")
	}
}

func TestParseStage(t *testing.T) {
	cases := map[string]shader.Stage{
		"Vertex":    shader.Vertex,
		" fragment": shader.Fragment,
		"PIXEL":     shader.Fragment,
		"compute ":  shader.Compute,
	}
	for name, want := range cases {
		got, err := shader.ParseStage(name)
		if err != nil || got != want {
			t.Errorf("%q: got %v, %v", name, got, err)
		}
	}
}

func TestModulePath(t *testing.T) {
	if p := shader.ModulePath("shaders/test.shader", shader.Fragment); p != "shaders/test.frag.spv" {
		t.Errorf("unexpected module path %s", p)
	}
}

func inst(op uint32, operands ...uint32) []uint32 {
	return append([]uint32{uint32(len(operands)+1)<<16 | op}, operands...)
}

func str(s string) []uint32 {
	b := append([]byte(s), make([]byte, 4-len(s)%4)...)
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return words
}

func module(body ...[]uint32) []uint32 {
	code := []uint32{shader.Magic, 0x00010000, 0, 32, 0}
	for _, i := range body {
		code = append(code, i...)
	}
	return code
}

func vertexModule() []uint32 {
	return module(
		inst(5, append([]uint32{4}, str("Camera")...)...),
		inst(6, append([]uint32{4, 0}, str("ViewProjection")...)...),
		inst(6, append([]uint32{4, 1}, str("InverseViewProjection")...)...),
		inst(71, 4, 2),
		inst(71, 6, 34, 0),
		inst(71, 6, 33, 0),
		inst(72, 4, 0, 35, 0),
		inst(72, 4, 0, 7, 16),
		inst(72, 4, 1, 35, 64),
		inst(72, 4, 1, 7, 16),
		inst(22, 1, 32),
		inst(23, 2, 1, 4),
		inst(24, 3, 2, 4),
		inst(30, 4, 3, 3),
		inst(32, 5, 2, 4),
		inst(59, 5, 6, 2),
	)
}

func fragmentModule() []uint32 {
	return module(
		inst(5, append([]uint32{14}, str("u_Texture")...)...),
		inst(71, 14, 34, 1),
		inst(71, 14, 33, 0),
		inst(22, 10, 32),
		inst(25, 11, 10, 1, 0, 0, 0, 1, 0),
		inst(27, 12, 11),
		inst(32, 13, 0, 12),
		inst(59, 13, 14, 0),
	)
}

func TestReflect(t *testing.T) {
	r, err := shader.Reflect(vertexModule())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.UniformBuffers) != 1 || len(r.Resources) != 0 {
		t.Fatalf("unexpected reflection %+v", r)
	}

	ub := r.UniformBuffers[0]
	if ub.Name != "Camera" || ub.Size != 128 || ub.Set != 0 || ub.Binding != 0 {
		t.Errorf("unexpected uniform buffer %+v", ub)
	}
	if len(ub.Uniforms) != 2 {
		t.Fatalf("expected 2 members, got %d", len(ub.Uniforms))
	}
	inv := ub.Uniforms[1]
	if inv.Name != "InverseViewProjection" || inv.Type != shader.Mat4 || inv.Size != 64 || inv.Offset != 64 {
		t.Errorf("unexpected member %+v", inv)
	}
}

func TestReflectSampler(t *testing.T) {
	r, err := shader.Reflect(fragmentModule())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(r.Resources))
	}
	res := r.Resources[0]
	if res.Name != "u_Texture" || res.Set != 1 || res.Type != shader.Texture2D || res.Dimension != 1 {
		t.Errorf("unexpected resource %+v", res)
	}
	if res.Index != 1 {
		t.Errorf("the index is the set number, got %d", res.Index)
	}
}

func TestReflectInvalid(t *testing.T) {
	if _, err := shader.Reflect([]uint32{1, 2, 3, 4, 5}); errors.Cause(err) != shader.ErrInvalidSPIRV {
		t.Errorf("bad magic: %v", err)
	}

	truncated := append(module(), 10<<16|22, 1)
	if _, err := shader.Reflect(truncated); errors.Cause(err) != shader.ErrInvalidSPIRV {
		t.Errorf("truncated: %v", err)
	}

	// A float without its width, used as a block member.
	shortFloat := module(
		inst(71, 4, 2),
		inst(71, 6, 34, 0),
		inst(71, 6, 33, 0),
		inst(22, 1),
		inst(30, 4, 1),
		inst(32, 5, 2, 4),
		inst(59, 5, 6, 2),
	)
	if _, err := shader.Reflect(shortFloat); errors.Cause(err) != shader.ErrInvalidSPIRV {
		t.Errorf("short float: %v", err)
	}

	selfVector := module(inst(23, 2, 2, 4))
	if _, err := shader.Reflect(selfVector); errors.Cause(err) != shader.ErrInvalidSPIRV {
		t.Errorf("self referencing vector: %v", err)
	}

	shortPointer := module(inst(32, 5, 2))
	if _, err := shader.Reflect(shortPointer); errors.Cause(err) != shader.ErrInvalidSPIRV {
		t.Errorf("short pointer: %v", err)
	}
}

func TestMerge(t *testing.T) {
	vert, _ := shader.Reflect(vertexModule())
	frag, _ := shader.Reflect(fragmentModule())

	merged := shader.Merge(frag, vert, vert)
	if len(merged.UniformBuffers) != 1 {
		t.Errorf("shared bindings must be merged, got %d", len(merged.UniformBuffers))
	}
	if merged.Resources[0].Index != 1 {
		t.Errorf("set 1 follows set 0, got index %d", merged.Resources[0].Index)
	}
	if sets := merged.Sets(); len(sets) != 2 || sets[0] != 0 || sets[1] != 1 {
		t.Errorf("unexpected sets %v", sets)
	}
}

type files map[string][]byte

func (f files) ReadFile(name string) ([]byte, error) {
	data, ok := f[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func encode(code []uint32) []byte {
	data := make([]byte, len(code)*4)
	for i, w := range code {
		binary.LittleEndian.PutUint32(data[i*4:], w)
	}
	return data
}

type compiler struct {
	code  []uint32
	calls int
}

func (c *compiler) Compile(stage shader.Stage, name, source string) ([]uint32, error) {
	c.calls++
	return c.code, nil
}

func TestLoad(t *testing.T) {
	fs := files{
		"shaders/test.shader":   []byte(source),
		"shaders/test.vert.spv": encode(vertexModule()),
		"shaders/test.frag.spv": encode(fragmentModule()),
	}

	p, err := shader.Load(fs, "shaders/test.shader", nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "test" || len(p.Modules) != 2 || p.Modules[0].Stage != shader.Vertex {
		t.Errorf("unexpected program %s with %d modules", p.Name, len(p.Modules))
	}
	if len(p.UniformBuffers) != 1 || len(p.Resources) != 1 {
		t.Errorf("unexpected bindings %+v %+v", p.UniformBuffers, p.Resources)
	}
}

func TestLoadCompilesMissingModules(t *testing.T) {
	fs := files{
		"test.shader":   []byte(source),
		"test.vert.spv": encode(vertexModule()),
	}

	if _, err := shader.Load(fs, "test.shader", nil); err == nil {
		t.Error("a missing module without a compiler must fail")
	}

	c := &compiler{code: fragmentModule()}
	p, err := shader.Load(fs, "test.shader", c)
	if err != nil {
		t.Fatal(err)
	}
	if c.calls != 1 || len(p.Resources) != 1 {
		t.Errorf("expected the fragment stage compiled once, got %d calls", c.calls)
	}
}

func TestLoadRejectsMisalignedModule(t *testing.T) {
	fs := files{
		"test.shader":   []byte("#Shader Vertex\n"),
		"test.vert.spv": []byte{1, 2, 3, 4, 5},
	}
	if _, err := shader.Load(fs, "test.shader", nil); errors.Cause(err) != shader.ErrInvalidSPIRV {
		t.Errorf("expected invalid SPIR-V, got %v", err)
	}
}

func TestWatcher(t *testing.T) {
	dir, err := ioutil.TempDir("", "shaders")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	w, err := shader.NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Watch("shaders/test.shader", filepath.Join(dir, "test.shader")); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "test.frag.spv"), encode(fragmentModule()), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case name := <-w.Changes():
		if name != "shaders/test.shader" {
			t.Errorf("unexpected program %s", name)
		}
	case <-time.After(5 * time.Second):
		t.Error("no change reported")
	}
}
