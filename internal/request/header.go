package request

import "strings"

type field struct {
	name  string
	value string
}

// Header is an ordered header list. Names keep the case they were set with
// (that is the case put on the wire); lookups ignore case. Setting a name that
// is already present replaces both its spelling and its value in place.
type Header struct {
	fields []field
}

func (h *Header) index(name string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.name, name) {
			return i
		}
	}
	return -1
}

// Get returns the value for name, or "" if absent.
func (h *Header) Get(name string) string {
	if i := h.index(name); i >= 0 {
		return h.fields[i].value
	}
	return ""
}

// Has reports whether name is present.
func (h *Header) Has(name string) bool {
	return h.index(name) >= 0
}

// Set adds or replaces name.
func (h *Header) Set(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i] = field{name: name, value: value}
		return
	}
	h.fields = append(h.fields, field{name: name, value: value})
}

// Del removes name if present.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = append(h.fields[:i], h.fields[i+1:]...)
	}
}

// Names returns the header names in insertion order, as spelled when set.
func (h *Header) Names() []string {
	names := make([]string, len(h.fields))
	for i, f := range h.fields {
		names[i] = f.name
	}
	return names
}

// Len returns the number of headers.
func (h *Header) Len() int {
	return len(h.fields)
}

// Clone returns an independent copy.
func (h *Header) Clone() Header {
	return Header{fields: append([]field(nil), h.fields...)}
}

// Map returns the headers as a plain map keyed by the stored spelling.
func (h *Header) Map() map[string]string {
	m := make(map[string]string, len(h.fields))
	for _, f := range h.fields {
		m[f.name] = f.value
	}
	return m
}
