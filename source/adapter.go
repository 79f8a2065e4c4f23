package source

import (
	"context"
	"fmt"
	"sort"
)

// EmitFunc receives one line without its terminator. The slice is only
// valid during the call. A returned error stops the source.
type EmitFunc func(line []byte) error

// Adapter feeds the store writer.
type Adapter interface {
	Configure(any) error
	Run(context.Context, EmitFunc) error
	Close() error
}

// Factory builds an Adapter ("fifo", "kafka", …).
type Factory func() Adapter

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// NewAdapter returns a driver by name.
func NewAdapter(name string) (Adapter, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("source: unsupported driver %q (registered: %v)", name, names())
}

func names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
