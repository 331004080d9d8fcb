package core

import (
	"sort"
	"sync"
)

// Version is the firmware version reported in the dictionary
const Version = "ranger-0.2.0"

// Dictionary is the JSON document the host downloads with identify.
// It maps every command and response signature to its ID.
type Dictionary struct {
	mu        sync.RWMutex
	constants map[string]interface{}
	reg       *CommandRegistry
	version   string
	cached    []byte
}

var globalDictionary = NewDictionary(globalRegistry)

// NewDictionary creates a dictionary over a command registry
func NewDictionary(reg *CommandRegistry) *Dictionary {
	return &Dictionary{
		constants: make(map[string]interface{}),
		reg:       reg,
		version:   Version,
	}
}

// RegisterConstant registers a constant in the global dictionary
func RegisterConstant(name string, value interface{}) {
	globalDictionary.AddConstant(name, value)
}

// AddConstant adds a constant and drops the cached document
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = value
	d.cached = nil
}

// BuildDictionary renders and caches the document. Call it after every
// command is registered.
func (d *Dictionary) BuildDictionary() {
	// Fetch registry entries before taking our lock; the registry has its own
	entries := d.reg.Ordered()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.render(entries)
	DebugPrintln("[dict] built " + itoa(len(d.cached)) + " bytes, " + itoa(len(entries)) + " entries")
}

// Generate returns the cached document, rendering it if needed
func (d *Dictionary) Generate() []byte {
	d.mu.RLock()
	cached := d.cached
	d.mu.RUnlock()
	if cached != nil {
		return cached
	}

	entries := d.reg.Ordered()
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.render(entries)
}

// render builds the JSON by hand; encoding/json is too heavy for the MCU.
// Caller holds d.mu.
func (d *Dictionary) render(entries []*Command) []byte {
	out := make([]byte, 0, 512)
	out = append(out, `{"version":"`...)
	out = append(out, d.version...)
	out = append(out, `","config":{`...)

	names := make([]string, 0, len(d.constants))
	for name := range d.constants {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '"')
		out = append(out, name...)
		out = append(out, `":"`...)
		out = append(out, valueToString(d.constants[name])...)
		out = append(out, '"')
	}

	out = append(out, `},"commands":{`...)
	out = appendEntries(out, entries, true)
	out = append(out, `},"responses":{`...)
	out = appendEntries(out, entries, false)
	out = append(out, `}}`...)
	return out
}

func appendEntries(out []byte, entries []*Command, commands bool) []byte {
	first := true
	for _, cmd := range entries {
		if (cmd.Handler != nil) != commands {
			continue
		}
		if !first {
			out = append(out, ',')
		}
		out = append(out, '"')
		out = append(out, cmd.Signature()...)
		out = append(out, `":`...)
		out = append(out, itoa(int(cmd.ID))...)
		first = false
	}
	return out
}

// GetChunk returns a copy of up to count bytes of the document at offset
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Generate()
	if offset >= uint32(len(data)) {
		return []byte{}
	}

	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}

	// Copy so the transport never holds a slice of the cached document
	chunk := make([]byte, end-offset)
	copy(chunk, data[offset:end])
	return chunk
}

// GetGlobalDictionary returns the global dictionary instance
func GetGlobalDictionary() *Dictionary {
	return globalDictionary
}
