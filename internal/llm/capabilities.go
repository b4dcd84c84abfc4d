package llm

import (
	"strings"
	"sync"
)

// Protocol is the wire shape used to talk to the model backend.
type Protocol int

const (
	// ProtocolCompletion sends one flattened prompt to the generate endpoint.
	ProtocolCompletion Protocol = iota
	// ProtocolChat sends structured role/content messages to the chat endpoint.
	ProtocolChat
)

func (p Protocol) String() string {
	if p == ProtocolChat {
		return "chat"
	}
	return "completion"
}

// DefaultChatModels are model-name substrings known to support the chat protocol.
var DefaultChatModels = []string{
	"llama2", "llama3", "qwen2.5", "mistral", "gemma", "phi3", "dolphin", "codellama",
}

// Capabilities decides which protocol to try first for a model. It starts from
// a set of known chat-capable name substrings and learns from outcomes: a model
// that fell back to completion is never offered chat again, and a model that
// answered over chat keeps using it.
//
// A Capabilities is safe for concurrent use and is meant to be shared by all
// calls in the process.
type Capabilities struct {
	mu           sync.RWMutex
	substrings   []string
	learned      map[string]Protocol
	probeUnknown bool
}

// NewCapabilities returns a table seeded with the given chat-capable substrings.
// When probeUnknown is true, models matching no substring try chat first too.
func NewCapabilities(probeUnknown bool, chatSubstrings ...string) *Capabilities {
	return &Capabilities{
		substrings:   append([]string(nil), chatSubstrings...),
		learned:      make(map[string]Protocol),
		probeUnknown: probeUnknown,
	}
}

// DefaultCapabilities returns a table seeded with DefaultChatModels.
func DefaultCapabilities() *Capabilities {
	return NewCapabilities(false, DefaultChatModels...)
}

// Protocol returns the protocol to attempt first for model.
func (c *Capabilities) Protocol(model string) Protocol {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if p, ok := c.learned[model]; ok {
		return p
	}
	if c.probeUnknown {
		return ProtocolChat
	}
	for _, s := range c.substrings {
		if strings.Contains(model, s) {
			return ProtocolChat
		}
	}
	return ProtocolCompletion
}

// Record stores the protocol a model actually answered on.
func (c *Capabilities) Record(model string, p Protocol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.learned[model] = p
}

// Known reports the learned protocol for model, if any.
func (c *Capabilities) Known(model string) (Protocol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.learned[model]
	return p, ok
}
