package value

import (
	"testing"

	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type kindCounter struct{}

func (kindCounter) Nil() Kind                { return KindNil }
func (kindCounter) Bool(bool) Kind           { return KindBool }
func (kindCounter) Int(int64) Kind           { return KindInt }
func (kindCounter) Float(float64) Kind       { return KindFloat }
func (kindCounter) String(string) Kind       { return KindString }
func (kindCounter) Entity(ecs.EntityID) Kind { return KindEntity }
func (kindCounter) List([]Value) Kind        { return KindList }

func TestVisitMatchesKind(t *testing.T) {
	vals := []Value{Nil{}, Bool(true), Int(-3), Float(1.5), String("hi"), Entity(ecs.NewEntityID(4, 2)), List{Int(1)}}
	for _, v := range vals {
		assert.Equal(t, v.Kind(), Visit[Kind](v, kindCounter{}), v.String())
	}
	assert.Equal(t, KindNil, Visit[Kind](nil, kindCounter{}))
}

func TestOf(t *testing.T) {
	v, ok := Of([]any{1, "a", nil, []any{true}})
	require.True(t, ok)
	assert.Equal(t, List{Int(1), String("a"), Nil{}, List{Bool(true)}}, v)
	assert.Equal(t, `[1, "a", nil, [true]]`, v.String())

	_, ok = Of(struct{}{})
	assert.False(t, ok)
	_, ok = Of([]any{1, struct{}{}})
	assert.False(t, ok)
}

func TestEntityString(t *testing.T) {
	assert.Equal(t, "entity(4/2)", Entity(ecs.NewEntityID(4, 2)).String())
	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	log.Info("event",
		Field("hp", Int(42)),
		Field("name", String("orc")),
		Field("none", nil),
		Field("path", List{Int(1), Int(2)}))

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.EqualValues(t, 42, ctx["hp"])
	assert.Equal(t, "orc", ctx["name"])
	assert.Equal(t, "nil", ctx["none"])
	assert.Equal(t, []any{"1", "2"}, ctx["path"])
}
