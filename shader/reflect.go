// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package shader

import (
	"sort"

	"github.com/pkg/errors"
)

// UniformType is the type of a uniform block member or a bound resource.
type UniformType int

// Uniform types.
const (
	None UniformType = iota
	Float
	Float2
	Float3
	Float4
	Mat3
	Mat4
	Int
	Bool
	Texture2D
	TextureCube
)

func (t UniformType) String() string {
	switch t {
	case Float:
		return "float"
	case Float2:
		return "vec2"
	case Float3:
		return "vec3"
	case Float4:
		return "vec4"
	case Mat3:
		return "mat3"
	case Mat4:
		return "mat4"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Texture2D:
		return "sampler2D"
	case TextureCube:
		return "samplerCube"
	default:
		return "none"
	}
}

// Uniform is a member of a uniform block.
type Uniform struct {
	Name   string
	Type   UniformType
	Size   uint32
	Offset uint32
}

// UniformBufferDescription is a uniform block bound by a shader. Index is
// the position of its descriptor set in the pipeline layout, which is the
// set number.
type UniformBufferDescription struct {
	Name     string
	Size     uint32
	Binding  uint32
	Set      uint32
	Index    uint32
	Uniforms []Uniform
}

// ResourceDescription is a sampled image bound by a shader. Dimension is
// the SPIR-V image dimension, 1 for 2D and 3 for cube images.
type ResourceDescription struct {
	Name      string
	Binding   uint32
	Set       uint32
	Dimension uint32
	Type      UniformType
	Index     uint32
}

// Reflection lists the descriptors a module binds, ordered by set and binding.
type Reflection struct {
	UniformBuffers []UniformBufferDescription
	Resources      []ResourceDescription
}

// Sets returns the descriptor sets in use in ascending order.
func (r Reflection) Sets() []uint32 {
	seen := make(map[uint32]bool)
	var sets []uint32
	for _, ub := range r.UniformBuffers {
		if !seen[ub.Set] {
			seen[ub.Set] = true
			sets = append(sets, ub.Set)
		}
	}
	for _, res := range r.Resources {
		if !seen[res.Set] {
			seen[res.Set] = true
			sets = append(sets, res.Set)
		}
	}
	sort.Slice(sets, func(i, j int) bool { return sets[i] < sets[j] })
	return sets
}

// Merge combines reflections of several stages. A set and binding pair is
// kept from the first reflection that has it. Indices are reassigned.
func Merge(reflections ...Reflection) Reflection {
	type key struct{ set, binding uint32 }
	var merged Reflection
	seen := make(map[key]bool)

	for _, r := range reflections {
		for _, ub := range r.UniformBuffers {
			k := key{ub.Set, ub.Binding}
			if !seen[k] {
				seen[k] = true
				merged.UniformBuffers = append(merged.UniformBuffers, ub)
			}
		}
		for _, res := range r.Resources {
			k := key{res.Set, res.Binding}
			if !seen[k] {
				seen[k] = true
				merged.Resources = append(merged.Resources, res)
			}
		}
	}

	sort.SliceStable(merged.UniformBuffers, func(i, j int) bool {
		a, b := merged.UniformBuffers[i], merged.UniformBuffers[j]
		return a.Set < b.Set || a.Set == b.Set && a.Binding < b.Binding
	})
	sort.SliceStable(merged.Resources, func(i, j int) bool {
		a, b := merged.Resources[i], merged.Resources[j]
		return a.Set < b.Set || a.Set == b.Set && a.Binding < b.Binding
	})

	for i := range merged.UniformBuffers {
		merged.UniformBuffers[i].Index = merged.UniformBuffers[i].Set
	}
	for i := range merged.Resources {
		merged.Resources[i].Index = merged.Resources[i].Set
	}
	return merged
}

// SPIR-V constants used by reflection.
const (
	Magic = 0x07230203

	opName             = 5
	opMemberName       = 6
	opTypeBool         = 20
	opTypeInt          = 21
	opTypeFloat        = 22
	opTypeVector       = 23
	opTypeMatrix       = 24
	opTypeImage        = 25
	opTypeSampledImage = 27
	opTypeArray        = 28
	opTypeStruct       = 30
	opTypePointer      = 32
	opConstant         = 43
	opVariable         = 59
	opDecorate         = 71
	opMemberDecorate   = 72

	decorationBlock         = 2
	decorationArrayStride   = 6
	decorationMatrixStride  = 7
	decorationBinding       = 33
	decorationDescriptorSet = 34
	decorationOffset        = 35

	storageUniformConstant = 0
	storageUniform         = 2

	dim2D   = 1
	dimCube = 3
)

// typeOperands is the operand count of each type instruction after its
// result id.
var typeOperands = map[uint32]int{
	opTypeBool:         0,
	opTypeInt:          2,
	opTypeFloat:        1,
	opTypeVector:       2,
	opTypeMatrix:       2,
	opTypeImage:        7,
	opTypeSampledImage: 1,
	opTypeArray:        2,
	opTypeStruct:       0,
	opTypePointer:      2,
}

type instruction struct {
	op       uint32
	operands []uint32
}

// references returns the type ids the type is built from.
func (t instruction) references() []uint32 {
	switch t.op {
	case opTypeVector, opTypeMatrix, opTypeImage, opTypeSampledImage, opTypeArray:
		return t.operands[:1]
	case opTypeStruct:
		return t.operands
	case opTypePointer:
		return t.operands[1:2]
	}
	return nil
}

type variable struct {
	id, typeID, storage uint32
}

type spirv struct {
	names             map[uint32]string
	memberNames       map[uint32]map[uint32]string
	decorations       map[uint32]map[uint32]uint32
	memberDecorations map[uint32]map[uint32]map[uint32]uint32
	types             map[uint32]instruction
	constants         map[uint32]uint32
	variables         []variable
}

func decodeString(words []uint32) string {
	var b []byte
	for _, w := range words {
		for shift := uint(0); shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(b)
			}
			b = append(b, c)
		}
	}
	return string(b)
}

func parse(code []uint32) (*spirv, error) {
	if len(code) < 5 || code[0] != Magic {
		return nil, ErrInvalidSPIRV
	}

	m := &spirv{
		names:             make(map[uint32]string),
		memberNames:       make(map[uint32]map[uint32]string),
		decorations:       make(map[uint32]map[uint32]uint32),
		memberDecorations: make(map[uint32]map[uint32]map[uint32]uint32),
		types:             make(map[uint32]instruction),
		constants:         make(map[uint32]uint32),
	}

	for i := 5; i < len(code); {
		count := int(code[i] >> 16)
		op := code[i] & 0xffff
		if count == 0 || i+count > len(code) {
			return nil, errors.Wrapf(ErrInvalidSPIRV, "truncated instruction at word %d", i)
		}
		operands := code[i+1 : i+count]
		i += count

		switch op {
		case opName:
			if len(operands) >= 1 {
				m.names[operands[0]] = decodeString(operands[1:])
			}
		case opMemberName:
			if len(operands) >= 2 {
				if m.memberNames[operands[0]] == nil {
					m.memberNames[operands[0]] = make(map[uint32]string)
				}
				m.memberNames[operands[0]][operands[1]] = decodeString(operands[2:])
			}
		case opDecorate:
			if len(operands) >= 2 {
				if m.decorations[operands[0]] == nil {
					m.decorations[operands[0]] = make(map[uint32]uint32)
				}
				var value uint32
				if len(operands) >= 3 {
					value = operands[2]
				}
				m.decorations[operands[0]][operands[1]] = value
			}
		case opMemberDecorate:
			if len(operands) >= 3 {
				target, member := operands[0], operands[1]
				if m.memberDecorations[target] == nil {
					m.memberDecorations[target] = make(map[uint32]map[uint32]uint32)
				}
				if m.memberDecorations[target][member] == nil {
					m.memberDecorations[target][member] = make(map[uint32]uint32)
				}
				var value uint32
				if len(operands) >= 4 {
					value = operands[3]
				}
				m.memberDecorations[target][member][operands[2]] = value
			}
		case opTypeBool, opTypeInt, opTypeFloat, opTypeVector, opTypeMatrix,
			opTypeImage, opTypeSampledImage, opTypeArray, opTypeStruct, opTypePointer:
			if len(operands) < 1+typeOperands[op] {
				return nil, errors.Wrapf(ErrInvalidSPIRV, "type instruction %d at word %d has %d operands", op, i-count, len(operands))
			}
			t := instruction{op: op, operands: operands[1:]}
			for _, ref := range t.references() {
				if _, ok := m.types[ref]; !ok {
					return nil, errors.Wrapf(ErrInvalidSPIRV, "type %d uses undeclared type %d", operands[0], ref)
				}
			}
			m.types[operands[0]] = t
		case opConstant:
			if len(operands) >= 3 {
				m.constants[operands[1]] = operands[2]
			}
		case opVariable:
			if len(operands) >= 3 {
				m.variables = append(m.variables, variable{
					typeID:  operands[0],
					id:      operands[1],
					storage: operands[2],
				})
			}
		}
	}
	return m, nil
}

func (m *spirv) binding(id uint32) (set, binding uint32) {
	d := m.decorations[id]
	return d[decorationDescriptorSet], d[decorationBinding]
}

func (m *spirv) size(id uint32, matrixStride uint32) uint32 {
	t, ok := m.types[id]
	if !ok {
		return 0
	}
	switch t.op {
	case opTypeBool:
		return 4
	case opTypeInt, opTypeFloat:
		return t.operands[0] / 8
	case opTypeVector:
		return t.operands[1] * m.size(t.operands[0], 0)
	case opTypeMatrix:
		column := m.size(t.operands[0], 0)
		if matrixStride == 0 {
			matrixStride = (column + 15) &^ 15
		}
		return t.operands[1] * matrixStride
	case opTypeArray:
		stride := m.decorations[id][decorationArrayStride]
		if stride == 0 {
			stride = m.size(t.operands[0], matrixStride)
		}
		return m.constants[t.operands[1]] * stride
	case opTypeStruct:
		return m.structSize(id)
	}
	return 0
}

func (m *spirv) structSize(id uint32) uint32 {
	var size uint32
	for member, memberType := range m.types[id].operands {
		d := m.memberDecorations[id][uint32(member)]
		if end := d[decorationOffset] + m.size(memberType, d[decorationMatrixStride]); end > size {
			size = end
		}
	}
	return size
}

func (m *spirv) uniformType(id uint32) UniformType {
	t, ok := m.types[id]
	if !ok {
		return None
	}
	switch t.op {
	case opTypeBool:
		return Bool
	case opTypeInt:
		return Int
	case opTypeFloat:
		return Float
	case opTypeVector:
		if m.uniformType(t.operands[0]) != Float {
			return None
		}
		switch t.operands[1] {
		case 2:
			return Float2
		case 3:
			return Float3
		case 4:
			return Float4
		}
	case opTypeMatrix:
		column := m.uniformType(t.operands[0])
		switch {
		case t.operands[1] == 3 && column == Float3:
			return Mat3
		case t.operands[1] == 4 && column == Float4:
			return Mat4
		}
	}
	return None
}

// Reflect lists the uniform blocks and sampled images a SPIR-V module binds.
func Reflect(code []uint32) (Reflection, error) {
	m, err := parse(code)
	if err != nil {
		return Reflection{}, err
	}

	var r Reflection
	for _, v := range m.variables {
		pointer, ok := m.types[v.typeID]
		if !ok || pointer.op != opTypePointer || len(pointer.operands) < 2 {
			continue
		}
		pointee := pointer.operands[1]

		switch v.storage {
		case storageUniform:
			block, ok := m.types[pointee]
			if !ok || block.op != opTypeStruct {
				continue
			}
			if _, ok := m.decorations[pointee][decorationBlock]; !ok {
				continue
			}

			set, binding := m.binding(v.id)
			ub := UniformBufferDescription{
				Name:    m.names[pointee],
				Size:    m.structSize(pointee),
				Binding: binding,
				Set:     set,
			}
			if ub.Name == "" {
				ub.Name = m.names[v.id]
			}
			for member, memberType := range block.operands {
				d := m.memberDecorations[pointee][uint32(member)]
				ub.Uniforms = append(ub.Uniforms, Uniform{
					Name:   m.memberNames[pointee][uint32(member)],
					Type:   m.uniformType(memberType),
					Size:   m.size(memberType, d[decorationMatrixStride]),
					Offset: d[decorationOffset],
				})
			}
			r.UniformBuffers = append(r.UniformBuffers, ub)

		case storageUniformConstant:
			sampled, ok := m.types[pointee]
			if ok && sampled.op == opTypeArray {
				sampled, ok = m.types[sampled.operands[0]]
			}
			if !ok || sampled.op != opTypeSampledImage {
				continue
			}
			image, ok := m.types[sampled.operands[0]]
			if !ok || image.op != opTypeImage || len(image.operands) < 2 {
				continue
			}

			set, binding := m.binding(v.id)
			res := ResourceDescription{
				Name:      m.names[v.id],
				Binding:   binding,
				Set:       set,
				Dimension: image.operands[1],
			}
			switch res.Dimension {
			case dim2D:
				res.Type = Texture2D
			case dimCube:
				res.Type = TextureCube
			}
			r.Resources = append(r.Resources, res)
		}
	}
	return Merge(r), nil
}
