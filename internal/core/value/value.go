// Package value is the dynamic payload carried by collaborator events whose
// shape is only known at runtime.
package value

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindEntity
	KindList
)

var kindNames = [...]string{"nil", "bool", "int", "float", "string", "entity", "list"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Value is one of Nil, Bool, Int, Float, String, Entity or List.
type Value interface {
	Kind() Kind
	String() string
	sealed()
}

type (
	Nil    struct{}
	Bool   bool
	Int    int64
	Float  float64
	String string
	Entity ecs.EntityID
	List   []Value
)

func (Nil) Kind() Kind    { return KindNil }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (Entity) Kind() Kind { return KindEntity }
func (List) Kind() Kind   { return KindList }

func (Nil) sealed()    {}
func (Bool) sealed()   {}
func (Int) sealed()    {}
func (Float) sealed()  {}
func (String) sealed() {}
func (Entity) sealed() {}
func (List) sealed()   {}

func (Nil) String() string      { return "nil" }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v Int) String() string    { return strconv.FormatInt(int64(v), 10) }
func (v Float) String() string  { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (v String) String() string { return strconv.Quote(string(v)) }

func (v Entity) String() string {
	id := ecs.EntityID(v)
	return fmt.Sprintf("entity(%d/%d)", id.Index(), id.Generation())
}

func (v List) String() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Visitor has one method per variant. Visit calls exactly one of them.
type Visitor[R any] interface {
	Nil() R
	Bool(bool) R
	Int(int64) R
	Float(float64) R
	String(string) R
	Entity(ecs.EntityID) R
	List([]Value) R
}

// Visit dispatches v to the matching visitor method. A nil interface is
// treated as Nil.
func Visit[R any](v Value, vis Visitor[R]) R {
	switch x := v.(type) {
	case nil, Nil:
		return vis.Nil()
	case Bool:
		return vis.Bool(bool(x))
	case Int:
		return vis.Int(int64(x))
	case Float:
		return vis.Float(float64(x))
	case String:
		return vis.String(string(x))
	case Entity:
		return vis.Entity(ecs.EntityID(x))
	case List:
		return vis.List([]Value(x))
	}
	panic(fmt.Sprintf("value: unknown variant %T", v))
}

// Of converts a Go value to a Value. ok is false for unsupported types.
func Of(x any) (v Value, ok bool) {
	switch x := x.(type) {
	case nil:
		return Nil{}, true
	case Value:
		return x, true
	case bool:
		return Bool(x), true
	case int:
		return Int(x), true
	case int32:
		return Int(x), true
	case int64:
		return Int(x), true
	case uint32:
		return Int(x), true
	case float32:
		return Float(x), true
	case float64:
		return Float(x), true
	case string:
		return String(x), true
	case ecs.EntityID:
		return Entity(x), true
	case []Value:
		return List(x), true
	case []any:
		out := make(List, len(x))
		for i, e := range x {
			if out[i], ok = Of(e); !ok {
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

// Field logs v under key.
func Field(key string, v Value) zap.Field {
	return Visit[zap.Field](v, fieldVisitor{key})
}

type fieldVisitor struct{ key string }

func (f fieldVisitor) Nil() zap.Field                  { return zap.String(f.key, "nil") }
func (f fieldVisitor) Bool(b bool) zap.Field           { return zap.Bool(f.key, b) }
func (f fieldVisitor) Int(i int64) zap.Field           { return zap.Int64(f.key, i) }
func (f fieldVisitor) Float(x float64) zap.Field       { return zap.Float64(f.key, x) }
func (f fieldVisitor) String(s string) zap.Field       { return zap.String(f.key, s) }
func (f fieldVisitor) Entity(e ecs.EntityID) zap.Field { return zap.Uint64(f.key, uint64(e)) }

func (f fieldVisitor) List(l []Value) zap.Field {
	return zap.Array(f.key, zapcore.ArrayMarshalerFunc(func(enc zapcore.ArrayEncoder) error {
		for _, v := range l {
			enc.AppendString(v.String())
		}
		return nil
	}))
}
