package ecs

import "errors"

var (
	ErrInstanceExists     = errors.New("ecs: component instance already exists")
	ErrNoEntity           = errors.New("ecs: entity is not alive")
	ErrDuplicateComponent = errors.New("ecs: component type already registered")
	ErrTooManyComponents  = errors.New("ecs: component type limit reached")
	ErrOwnership          = errors.New("ecs: component does not satisfy its ownership category")
	ErrUnknownOwnership   = errors.New("ecs: unknown ownership category")
	ErrUnknownPolicy      = errors.New("ecs: unknown create policy")
	ErrTypeMismatch       = errors.New("ecs: value type does not match component type")
)
