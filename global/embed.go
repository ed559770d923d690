package global

import (
	"sync/atomic"

	"github.com/toolink/burst/embed"
)

func defaultEmbedder() *atomic.Value {
	v := &atomic.Value{}
	e, err := embed.NewEmbedder(GetManager())
	if err != nil {
		panic("failed to initialize default global embedder: " + err.Error())
	}
	v.Store(e)
	return v
}

var globalEmbedder = defaultEmbedder()

// SetEmbedder sets the global embedder.
func SetEmbedder(e *embed.Embedder) {
	globalEmbedder.Store(e)
}

// GetEmbedder retrieves the current global embedder.
func GetEmbedder() *embed.Embedder {
	return globalEmbedder.Load().(*embed.Embedder)
}
