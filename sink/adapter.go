package sink

import (
	"context"
	"fmt"
	"sort"
)

// Adapter is the common behaviour every relay output exposes.
type Adapter interface {
	Configure(any) error                        // driver-specific config ⇒ struct
	Push(ctx context.Context, line []byte) error // deliver one encoded line
	Close() error                               // idempotent
}

/*──────── registry ───────*/

type factory = func() Adapter

var reg = map[string]factory{}

func Register(name string, f factory) { reg[name] = f }

func NewAdapter(name string) (Adapter, error) {
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (registered: %v)", name, Names())
}

// Names lists the registered drivers.
func Names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
