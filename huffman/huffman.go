/*
Package huffman implements the adaptive (FGK) Huffman coder used by the
game protocol. Both peers grow identical trees one symbol at a time, so
every symbol that is transmitted on one side has to be received, in the
same order, on the other side.
*/
package huffman

import "errors"

const (
	maxSymbols = 256

	// NYT is the pseudo symbol of the "not yet transmitted" leaf.
	// It is followed by the 8 literal bits of the new symbol.
	NYT = maxSymbols

	internalNode = maxSymbols + 1

	maxNodes = 768
	nilNode  = -1
)

var ErrCorrupt = errors.New("huffman: walked off the tree")

// A BitWriter receives the code bits produced by Transmit
type BitWriter interface {
	WriteBit(bit uint32)
}

// A BitReader supplies the code bits consumed by Receive
type BitReader interface {
	ReadBit() (uint32, error)
}

type node struct {
	left, right, parent int
	next, prev          int // rank list, lowest weight first
	head                int // slot in Tree.heads holding the leader of this weight block
	weight              int
	symbol              int
}

// A Tree is one side of an adaptive Huffman coder.
// The zero value is not usable, call New.
type Tree struct {
	nodes    [maxNodes]node
	numNodes int

	heads    [maxNodes]int
	numHeads int
	free     []int

	root  int
	lhead int
	loc   [maxSymbols + 1]int
}

// New returns a tree that only contains the NYT leaf
func New() *Tree {
	t := &Tree{}
	t.Reset()
	return t
}

// Reset forgets every symbol seen so far
func (t *Tree) Reset() {
	t.numNodes = 0
	t.numHeads = 0
	t.free = t.free[:0]
	for i := range t.loc {
		t.loc[i] = nilNode
	}

	n := t.alloc()
	t.nodes[n].symbol = NYT
	t.root = n
	t.lhead = n
	t.loc[NYT] = n
}

// Clone returns an independent copy of the tree
func (t *Tree) Clone() *Tree {
	c := *t
	c.free = append([]int(nil), t.free...)
	return &c
}

// Known reports whether sym already has a leaf
func (t *Tree) Known(sym byte) bool {
	return t.loc[sym] != nilNode
}

// Weight returns how often sym has been added
func (t *Tree) Weight(sym byte) int {
	if t.loc[sym] == nilNode {
		return 0
	}
	return t.nodes[t.loc[sym]].weight
}

func (t *Tree) alloc() int {
	n := t.numNodes
	t.numNodes++
	t.nodes[n] = node{
		left: nilNode, right: nilNode, parent: nilNode,
		next: nilNode, prev: nilNode,
		head: nilNode,
	}
	return n
}

func (t *Tree) newHead() int {
	if l := len(t.free); l > 0 {
		h := t.free[l-1]
		t.free = t.free[:l-1]
		return h
	}
	h := t.numHeads
	t.numHeads++
	return h
}

func (t *Tree) freeHead(h int) {
	t.free = append(t.free, h)
}

// swap exchanges the tree positions of a and b
func (t *Tree) swap(a, b int) {
	p1 := t.nodes[a].parent
	p2 := t.nodes[b].parent

	if p1 != nilNode {
		if t.nodes[p1].left == a {
			t.nodes[p1].left = b
		} else {
			t.nodes[p1].right = b
		}
	} else {
		t.root = b
	}

	if p2 != nilNode {
		if t.nodes[p2].left == b {
			t.nodes[p2].left = a
		} else {
			t.nodes[p2].right = a
		}
	} else {
		t.root = a
	}

	t.nodes[a].parent = p2
	t.nodes[b].parent = p1
}

// swapList exchanges the ranks of a and b
func (t *Tree) swapList(a, b int) {
	na, nb := &t.nodes[a], &t.nodes[b]

	na.next, nb.next = nb.next, na.next
	na.prev, nb.prev = nb.prev, na.prev

	if na.next == a {
		na.next = b
	}
	if nb.next == b {
		nb.next = a
	}
	if na.next != nilNode {
		t.nodes[na.next].prev = a
	}
	if nb.next != nilNode {
		t.nodes[nb.next].prev = b
	}
	if na.prev != nilNode {
		t.nodes[na.prev].next = a
	}
	if nb.prev != nilNode {
		t.nodes[nb.prev].next = b
	}
}

func (t *Tree) increment(n int) {
	if n == nilNode {
		return
	}
	nd := &t.nodes[n]

	if nd.next != nilNode && t.nodes[nd.next].weight == nd.weight {
		leader := t.heads[nd.head]
		if leader != nd.parent {
			t.swap(leader, n)
		}
		t.swapList(leader, n)
	}

	if nd.prev != nilNode && t.nodes[nd.prev].weight == nd.weight {
		t.heads[nd.head] = nd.prev
	} else {
		t.heads[nd.head] = nilNode
		t.freeHead(nd.head)
	}

	nd.weight++

	if nd.next != nilNode && t.nodes[nd.next].weight == nd.weight {
		nd.head = t.nodes[nd.next].head
	} else {
		nd.head = t.newHead()
		t.heads[nd.head] = n
	}

	if nd.parent != nilNode {
		t.increment(nd.parent)
		if nd.prev == nd.parent {
			t.swapList(n, nd.parent)
			if t.heads[nd.head] == n {
				t.heads[nd.head] = nd.parent
			}
		}
	}
}

// AddRef records one more occurrence of sym, grafting a new leaf
// next to the NYT node the first time sym is seen
func (t *Tree) AddRef(sym byte) {
	if t.loc[sym] != nilNode {
		t.increment(t.loc[sym])
		return
	}

	leaf := t.alloc()
	inner := t.alloc()
	lh := t.lhead

	in := &t.nodes[inner]
	in.symbol = internalNode
	in.weight = 1
	in.next = t.nodes[lh].next
	if nx := t.nodes[lh].next; nx != nilNode {
		t.nodes[nx].prev = inner
		if t.nodes[nx].weight == 1 {
			in.head = t.nodes[nx].head
		} else {
			in.head = t.newHead()
			t.heads[in.head] = inner
		}
	} else {
		in.head = t.newHead()
		t.heads[in.head] = inner
	}
	t.nodes[lh].next = inner
	in.prev = lh

	lf := &t.nodes[leaf]
	lf.symbol = int(sym)
	lf.weight = 1
	lf.next = t.nodes[lh].next
	if nx := t.nodes[lh].next; nx != nilNode {
		t.nodes[nx].prev = leaf
		if t.nodes[nx].weight == 1 {
			lf.head = t.nodes[nx].head
		} else {
			lf.head = t.newHead()
			t.heads[lf.head] = inner
		}
	} else {
		lf.head = t.newHead()
		t.heads[lf.head] = leaf
	}
	t.nodes[lh].next = leaf
	lf.prev = lh

	if p := t.nodes[lh].parent; p != nilNode {
		if t.nodes[p].left == lh {
			t.nodes[p].left = inner
		} else {
			t.nodes[p].right = inner
		}
	} else {
		t.root = inner
	}

	in.right = leaf
	in.left = lh
	in.parent = t.nodes[lh].parent
	t.nodes[lh].parent = inner
	lf.parent = inner

	t.loc[sym] = leaf

	t.increment(in.parent)
}

// send writes the path from the root to n
func (t *Tree) send(w BitWriter, n int) {
	var path [maxSymbols + 2]uint32
	depth := 0
	for child := n; t.nodes[child].parent != nilNode; {
		parent := t.nodes[child].parent
		if t.nodes[parent].right == child {
			path[depth] = 1
		} else {
			path[depth] = 0
		}
		depth++
		child = parent
	}

	for i := depth - 1; i >= 0; i-- {
		w.WriteBit(path[i])
	}
}

// Transmit writes the code of sym without updating the tree.
// Unknown symbols are sent as the NYT code followed by 8 literal bits.
func (t *Tree) Transmit(w BitWriter, sym byte) {
	if t.loc[sym] == nilNode {
		t.send(w, t.loc[NYT])
		for i := 7; i >= 0; i-- {
			w.WriteBit(uint32(sym>>uint(i)) & 1)
		}
		return
	}

	t.send(w, t.loc[sym])
}

// Receive walks the tree from the root and returns the symbol of the
// leaf it reaches, which may be NYT. The tree is not updated.
func (t *Tree) Receive(r BitReader) (int, error) {
	n := t.root
	for n != nilNode && t.nodes[n].symbol == internalNode {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, err
		}

		if bit != 0 {
			n = t.nodes[n].right
		} else {
			n = t.nodes[n].left
		}
	}

	if n == nilNode {
		return 0, ErrCorrupt
	}

	return t.nodes[n].symbol, nil
}

// Encode transmits sym and adds it to the tree
func (t *Tree) Encode(w BitWriter, sym byte) {
	t.Transmit(w, sym)
	t.AddRef(sym)
}

// Decode receives one symbol, resolving NYT literals,
// and adds it to the tree
func (t *Tree) Decode(r BitReader) (byte, error) {
	sym, err := t.Receive(r)
	if err != nil {
		return 0, err
	}

	if sym == NYT {
		sym = 0
		for i := 0; i < 8; i++ {
			bit, err := r.ReadBit()
			if err != nil {
				return 0, err
			}
			sym = sym<<1 | int(bit)
		}
	}

	t.AddRef(byte(sym))
	return byte(sym), nil
}
