// Package scene builds POV-Ray scene descriptions from structured primitives.
//
// All floats are written with six fixed decimals (the %f verb) so equal
// documents are byte-identical.
package scene

import (
	"strconv"
	"strings"
)

type Vector struct {
	X, Y, Z float64
}

type RGB struct {
	R, G, B float64
}

// Statement is one top-level item of a scene document.
type Statement interface {
	appendTo(b *strings.Builder)
}

type Include struct {
	File string
}

type Camera struct {
	Location Vector
	LookAt   Vector
	Angle    float64
}

type AmbientLight struct {
	Color string
}

type LightSource struct {
	Position Vector
	Color    string
}

type Plane struct {
	Normal   Vector
	Distance float64
	Pigment  string
}

type Sphere struct {
	Center Vector
	Radius float64
	Color  RGB
}

// Document is an ordered list of statements.
type Document struct {
	statements []Statement
}

func (d *Document) Add(items ...Statement) *Document {
	d.statements = append(d.statements, items...)
	return d
}

func (d *Document) Statements() []Statement {
	return append([]Statement(nil), d.statements...)
}

func (d *Document) Spheres() []Sphere {
	var out []Sphere
	for _, item := range d.statements {
		if s, ok := item.(Sphere); ok {
			out = append(out, s)
		}
	}
	return out
}

func (d *Document) String() string {
	var b strings.Builder
	for _, item := range d.statements {
		item.appendTo(&b)
	}
	return b.String()
}

func (s Include) appendTo(b *strings.Builder) {
	b.WriteString(`#include "`)
	b.WriteString(s.File)
	b.WriteString("\"\n")
}

func (s Camera) appendTo(b *strings.Builder) {
	b.WriteString("camera { location ")
	writeVector(b, s.Location)
	b.WriteString(" look_at ")
	writeVector(b, s.LookAt)
	b.WriteString(" angle ")
	writeFloat(b, s.Angle)
	b.WriteString(" }\n")
}

func (s AmbientLight) appendTo(b *strings.Builder) {
	b.WriteString("global_settings { ambient_light ")
	b.WriteString(s.Color)
	b.WriteString(" }\n")
}

func (s LightSource) appendTo(b *strings.Builder) {
	b.WriteString("light_source { ")
	writeVector(b, s.Position)
	b.WriteString(" color ")
	b.WriteString(s.Color)
	b.WriteString(" }\n")
}

func (s Plane) appendTo(b *strings.Builder) {
	b.WriteString("plane { ")
	writeVector(b, s.Normal)
	b.WriteString(", ")
	writeFloat(b, s.Distance)
	b.WriteString(" pigment { ")
	b.WriteString(s.Pigment)
	b.WriteString(" } }\n")
}

func (s Sphere) appendTo(b *strings.Builder) {
	b.WriteString("sphere { ")
	writeVector(b, s.Center)
	b.WriteString(", ")
	writeFloat(b, s.Radius)
	b.WriteString(" texture { pigment { color rgb <")
	writeFloat(b, s.Color.R)
	b.WriteString(", ")
	writeFloat(b, s.Color.G)
	b.WriteString(", ")
	writeFloat(b, s.Color.B)
	b.WriteString("> } } }\n")
}

func writeVector(b *strings.Builder, v Vector) {
	b.WriteByte('<')
	writeFloat(b, v.X)
	b.WriteString(", ")
	writeFloat(b, v.Y)
	b.WriteString(", ")
	writeFloat(b, v.Z)
	b.WriteByte('>')
}

// FormatFloat is the numeric format used throughout scene documents.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func writeFloat(b *strings.Builder, v float64) {
	b.WriteString(FormatFloat(v))
}
