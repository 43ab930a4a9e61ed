package dataframe

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/dagframe/dagframe/pkg/errdefs"
)

// Type names accepted in schema expressions. The first name listed for a
// type is the one used when formatting.
var (
	typesByName = map[string]arrow.DataType{
		"bool":     arrow.FixedWidthTypes.Boolean,
		"boolean":  arrow.FixedWidthTypes.Boolean,
		"byte":     arrow.PrimitiveTypes.Int8,
		"int8":     arrow.PrimitiveTypes.Int8,
		"ubyte":    arrow.PrimitiveTypes.Uint8,
		"uint8":    arrow.PrimitiveTypes.Uint8,
		"short":    arrow.PrimitiveTypes.Int16,
		"int16":    arrow.PrimitiveTypes.Int16,
		"int":      arrow.PrimitiveTypes.Int32,
		"int32":    arrow.PrimitiveTypes.Int32,
		"long":     arrow.PrimitiveTypes.Int64,
		"int64":    arrow.PrimitiveTypes.Int64,
		"float":    arrow.PrimitiveTypes.Float32,
		"float32":  arrow.PrimitiveTypes.Float32,
		"double":   arrow.PrimitiveTypes.Float64,
		"float64":  arrow.PrimitiveTypes.Float64,
		"str":      arrow.BinaryTypes.String,
		"string":   arrow.BinaryTypes.String,
		"binary":   arrow.BinaryTypes.Binary,
		"bytes":    arrow.BinaryTypes.Binary,
		"date":     arrow.FixedWidthTypes.Date32,
		"datetime": arrow.FixedWidthTypes.Timestamp_us,
	}

	namesByType = map[arrow.Type]string{
		arrow.BOOL:      "bool",
		arrow.INT8:      "byte",
		arrow.UINT8:     "ubyte",
		arrow.INT16:     "short",
		arrow.INT32:     "int",
		arrow.INT64:     "long",
		arrow.FLOAT32:   "float",
		arrow.FLOAT64:   "double",
		arrow.STRING:    "str",
		arrow.BINARY:    "binary",
		arrow.DATE32:    "date",
		arrow.TIMESTAMP: "datetime",
	}
)

// ParseSchema parses a schema expression such as
//
//	a:int,b:str,c:{x:long,y:[double]}
//
// Struct types are written in braces and list types in brackets. An empty
// expression yields an empty schema.
func ParseSchema(expr string) (*arrow.Schema, error) {
	p := &schemaParser{src: expr}
	fields, err := p.fields(0)
	if err != nil {
		return nil, errdefs.Configurationf("invalid schema expression %q: %v", expr, err)
	}
	if p.pos != len(p.src) {
		return nil, errdefs.Configurationf("invalid schema expression %q: unexpected %q at offset %d", expr, p.src[p.pos], p.pos)
	}
	return arrow.NewSchema(fields, nil), nil
}

// MustParseSchema is like [ParseSchema] but panics on error.
func MustParseSchema(expr string) *arrow.Schema {
	s, err := ParseSchema(expr)
	if err != nil {
		panic(err)
	}
	return s
}

type schemaParser struct {
	src string
	pos int
}

// fields parses a comma separated field list until end of input or the
// closing brace of a struct.
func (p *schemaParser) fields(depth int) ([]arrow.Field, error) {
	var (
		fields []arrow.Field
		seen   = make(map[string]struct{})
	)
	p.skipSpace()
	if p.done() || (depth > 0 && p.peek() == '}') {
		return fields, nil
	}

	for {
		name := p.until(":,{}[]")
		if name == "" {
			return nil, fmt.Errorf("missing field name at offset %d", p.pos)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("duplicate field %q", name)
		}
		seen[name] = struct{}{}

		if p.done() || p.peek() != ':' {
			return nil, fmt.Errorf("missing type for field %q", name)
		}
		p.pos++

		dt, err := p.dataType(depth)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: true})

		p.skipSpace()
		if p.done() || p.peek() != ',' {
			return fields, nil
		}
		p.pos++
	}
}

func (p *schemaParser) dataType(depth int) (arrow.DataType, error) {
	p.skipSpace()
	if p.done() {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch p.peek() {
	case '{':
		p.pos++
		fields, err := p.fields(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.done() || p.peek() != '}' {
			return nil, fmt.Errorf("unterminated struct at offset %d", p.pos)
		}
		p.pos++
		return arrow.StructOf(fields...), nil

	case '[':
		p.pos++
		elem, err := p.dataType(depth)
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.done() || p.peek() != ']' {
			return nil, fmt.Errorf("unterminated list at offset %d", p.pos)
		}
		p.pos++
		return arrow.ListOf(elem), nil
	}

	name := strings.ToLower(p.until(",{}[]"))
	dt, ok := typesByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	return dt, nil
}

func (p *schemaParser) until(stop string) string {
	start := p.pos
	for !p.done() && !strings.ContainsRune(stop, rune(p.peek())) {
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *schemaParser) skipSpace() {
	for !p.done() && (p.peek() == ' ' || p.peek() == '\t' || p.peek() == '\n') {
		p.pos++
	}
}

func (p *schemaParser) peek() byte { return p.src[p.pos] }
func (p *schemaParser) done() bool { return p.pos >= len(p.src) }

// FormatSchema returns the schema expression for s. It is the inverse of
// [ParseSchema] for every type ParseSchema accepts.
func FormatSchema(s *arrow.Schema) (string, error) {
	var sb strings.Builder
	if err := formatFields(&sb, s.Fields()); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func formatFields(sb *strings.Builder, fields []arrow.Field) error {
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(f.Name)
		sb.WriteByte(':')
		if err := formatType(sb, f.Type); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
	}
	return nil
}

func formatType(sb *strings.Builder, dt arrow.DataType) error {
	switch dt := dt.(type) {
	case *arrow.StructType:
		sb.WriteByte('{')
		if err := formatFields(sb, dt.Fields()); err != nil {
			return err
		}
		sb.WriteByte('}')
		return nil
	case *arrow.ListType:
		sb.WriteByte('[')
		if err := formatType(sb, dt.Elem()); err != nil {
			return err
		}
		sb.WriteByte(']')
		return nil
	}

	name, ok := namesByType[dt.ID()]
	if !ok {
		return errdefs.TypeMismatchf("type %s has no schema expression", dt)
	}
	sb.WriteString(name)
	return nil
}

// HasNestedTypes reports whether any top-level field of s is a struct or a
// list.
func HasNestedTypes(s *arrow.Schema) bool {
	for _, f := range s.Fields() {
		if _, ok := f.Type.(arrow.NestedType); ok {
			return true
		}
	}
	return false
}

// HasStructTypes reports whether any top-level field of s is a struct.
func HasStructTypes(s *arrow.Schema) bool {
	for _, f := range s.Fields() {
		if f.Type.ID() == arrow.STRUCT {
			return true
		}
	}
	return false
}

// SelectSchema returns the sub-schema of s made of the named columns, in the
// given order.
func SelectSchema(s *arrow.Schema, names ...string) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(names))
	for _, name := range names {
		idx := s.FieldIndices(name)
		if len(idx) == 0 {
			return nil, errdefs.Configurationf("column %q not found in schema %s", name, s)
		}
		fields = append(fields, s.Field(idx[0]))
	}
	return arrow.NewSchema(fields, nil), nil
}
