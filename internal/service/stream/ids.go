package stream

import (
	"fmt"
	"sync/atomic"
)

// Generator labels sessions for logs before a streamSid is known.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next() string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("ws-%d", n)
}
