/*
Package configstring implements the compact configstring table of a
gamestate. All strings live NUL terminated in one buffer, ordered by
index. Offset 0 points at the shared empty string and means unset.
*/
package configstring

import (
	"errors"
	"fmt"
)

const (
	MaxConfigStrings = 2736
	MaxChars         = 40000
)

// well known indices
const (
	ServerInfo       = 0
	SystemInfo       = 1
	Name             = 2
	Soundtrack       = 8
	FogInfo          = 9
	SkyInfo          = 10
	GameVersion      = 11
	LevelStartTime   = 12
	CurrentObjective = 13
	Warmup           = 25
	Models           = 32
	Sounds           = Models + 1024
	Images           = Sounds + 512
	LightStyles      = Images + 64
	Players          = LightStyles + 32*3
)

var (
	ErrIndex = errors.New("configstring: index out of range")
	ErrFull  = errors.New("configstring: table full")
)

// A Table maps small indices to strings
type Table struct {
	offsets []int
	data    []byte
	highest int
	max     int
}

// New returns an empty table with room for n strings and maxChars bytes
// including terminators
func New(n, maxChars int) *Table {
	t := &Table{offsets: make([]int, n), max: maxChars}
	t.Reset()
	return t
}

// Reset clears every string
func (t *Table) Reset() {
	for i := range t.offsets {
		t.offsets[i] = 0
	}
	t.data = append(t.data[:0], 0)
	t.highest = 0
}

// Len returns the number of slots
func (t *Table) Len() int { return len(t.offsets) }

// Highest returns one past the highest set index
func (t *Table) Highest() int { return t.highest }

// Size returns the number of used buffer bytes
func (t *Table) Size() int { return len(t.data) }

// Data returns the packed buffer
func (t *Table) Data() []byte { return t.data }

// Offset returns the buffer offset of index, 0 if unset
func (t *Table) Offset(index int) int {
	if index < 0 || index >= len(t.offsets) {
		return 0
	}
	return t.offsets[index]
}

// Get returns the string at index, empty if unset or out of range
func (t *Table) Get(index int) string {
	off := t.Offset(index)
	if off == 0 {
		return ""
	}
	end := off
	for t.data[end] != 0 {
		end++
	}
	return string(t.data[off:end])
}

// Set replaces the string at index. An empty string clears it.
func (t *Table) Set(index int, s string) error {
	if index < 0 || index >= len(t.offsets) {
		return fmt.Errorf("%w: %d", ErrIndex, index)
	}

	old := t.Get(index)
	if old == s {
		return nil
	}

	oldLen := 0
	if t.offsets[index] != 0 {
		oldLen = len(old) + 1
	}
	newLen := 0
	if s != "" {
		newLen = len(s) + 1
	}
	if len(t.data)-oldLen+newLen > t.max {
		return fmt.Errorf("%w: %d bytes", ErrFull, len(t.data)-oldLen+newLen)
	}

	if oldLen != 0 {
		t.remove(index, oldLen)
	}
	if newLen != 0 {
		t.insert(index, s)
	}

	if newLen != 0 && index >= t.highest {
		t.highest = index + 1
	}
	for t.highest > 0 && t.offsets[t.highest-1] == 0 {
		t.highest--
	}
	return nil
}

func (t *Table) remove(index, n int) {
	off := t.offsets[index]
	t.data = append(t.data[:off], t.data[off+n:]...)
	t.offsets[index] = 0
	for i := index + 1; i < t.highest; i++ {
		if t.offsets[i] > off {
			t.offsets[i] -= n
		}
	}
}

func (t *Table) insert(index int, s string) {
	pos := len(t.data)
	for i := index + 1; i < t.highest; i++ {
		if t.offsets[i] != 0 {
			pos = t.offsets[i]
			break
		}
	}

	n := len(s) + 1
	t.data = append(t.data, make([]byte, n)...)
	copy(t.data[pos+n:], t.data[pos:len(t.data)-n])
	copy(t.data[pos:], s)
	t.data[pos+n-1] = 0

	t.offsets[index] = pos
	for i := index + 1; i < t.highest; i++ {
		if t.offsets[i] != 0 {
			t.offsets[i] += n
		}
	}
}

// Each calls fn for every set string in index order until it returns false
func (t *Table) Each(fn func(index int, s string) bool) {
	for i := 0; i < t.highest; i++ {
		if t.offsets[i] != 0 && !fn(i, t.Get(i)) {
			return
		}
	}
}
