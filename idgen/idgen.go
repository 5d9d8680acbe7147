// Package idgen generates identifiers for events and handler contexts.
package idgen

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces string identifiers.
type Generator interface {
	Generate() string
}

type sequential struct {
	next uint64
}

func (g *sequential) Generate() string {
	n := atomic.AddUint64(&g.next, 1)
	return strconv.FormatUint(n, 10)
}

type nonDeterministic struct{}

func (nonDeterministic) Generate() string {
	return xid.New().String()
}

var (
	mu          sync.Mutex
	instantiated bool
	current     Generator
)

// UseSequential configures the package-level generator to produce
// small, deterministic, monotonically increasing ids. Must be called
// before the first Generate call.
func UseSequential() {
	setGenerator(&sequential{})
}

// UseNonDeterministic configures the package-level generator to produce
// globally unique ids (via xid) instead of small sequential ones. Useful
// when multiple agent processes' logs may be merged and ids must not
// collide across processes.
func UseNonDeterministic() {
	setGenerator(nonDeterministic{})
}

func setGenerator(g Generator) {
	mu.Lock()
	defer mu.Unlock()
	if instantiated {
		panic("idgen: cannot change generator type after it has been used")
	}
	current = g
	instantiated = true
}

// Default returns the package-level id generator, defaulting to the
// sequential generator if none was explicitly selected.
func Default() Generator {
	mu.Lock()
	defer mu.Unlock()
	if !instantiated {
		current = &sequential{}
		instantiated = true
	}
	return current
}
