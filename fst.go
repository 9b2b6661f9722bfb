package wiidisc

import (
	"encoding/binary"
	"path"
	"strings"
)

// FstNode is one entry of the parsed filesystem table tree: a file with an
// offset and length, or a directory holding children in on-disk order.
type FstNode struct {
	Name     string
	IsDir    bool
	Offset   uint64 // file data offset, meaningless for directories
	Length   uint64 // file length, meaningless for directories
	Children []*FstNode
}

const fstEntrySize = 12

// fstRawEntry mirrors one 12-byte flat FST record: a type byte packed with
// a 24-bit name-table offset, followed by two big-endian uint32s whose
// meaning depends on the type (file offset/length, or directory
// parent/next-sibling index).
type fstRawEntry struct {
	typeAndNameOff uint32
	param1         uint32
	param2         uint32
}

func (e fstRawEntry) isDir() bool    { return e.typeAndNameOff>>24 != 0 }
func (e fstRawEntry) nameOff() uint32 { return e.typeAndNameOff & 0x00FFFFFF }

// ParseFST decodes a raw FST blob into a tree rooted at the disc's root
// directory. Entry 0 is always the root; every other entry is read in
// on-disk (preorder) sequence, directories carrying the index of their
// first entry past their own subtree in param2 ("next").
func ParseFST(raw []byte) (*FstNode, error) {
	if len(raw) < fstEntrySize {
		return nil, newMalformedError("FST too small")
	}
	root := readFstRawEntry(raw, 0)
	if !root.isDir() {
		return nil, newMalformedError("FST root is not a directory")
	}
	count := int(root.param2)
	if count*fstEntrySize > len(raw) {
		return nil, newMalformedErrorf("FST declares %d entries beyond buffer", count)
	}
	stringTableOff := count * fstEntrySize

	entries := make([]fstRawEntry, count)
	for i := 0; i < count; i++ {
		entries[i] = readFstRawEntry(raw, i)
	}

	readName := func(off uint32) (string, error) {
		pos := stringTableOff + int(off)
		if pos >= len(raw) {
			return "", newMalformedError("FST name offset out of range")
		}
		end := pos
		for end < len(raw) && raw[end] != 0 {
			end++
		}
		return string(raw[pos:end]), nil
	}

	rootNode := &FstNode{Name: "", IsDir: true}

	// A stack of (node, index one past this directory's last entry) mirrors
	// the preorder layout: each directory's subtree ends at its "next" index.
	type frame struct {
		node *FstNode
		next int
	}
	stack := []frame{{rootNode, count}}

	for i := 1; i < count; i++ {
		for len(stack) > 1 && i >= stack[len(stack)-1].next {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].node

		e := entries[i]
		name, err := readName(e.nameOff())
		if err != nil {
			return nil, err
		}

		if e.isDir() {
			dir := &FstNode{Name: name, IsDir: true}
			parent.Children = append(parent.Children, dir)
			stack = append(stack, frame{dir, int(e.param2)})
		} else {
			parent.Children = append(parent.Children, &FstNode{
				Name:   name,
				Offset: uint64(e.param1) << 2,
				Length: uint64(e.param2),
			})
		}
	}

	return rootNode, nil
}

func readFstRawEntry(raw []byte, i int) fstRawEntry {
	off := i * fstEntrySize
	return fstRawEntry{
		typeAndNameOff: binary.BigEndian.Uint32(raw[off:]),
		param1:         binary.BigEndian.Uint32(raw[off+4:]),
		param2:         binary.BigEndian.Uint32(raw[off+8:]),
	}
}

// FindNode walks the tree along a "/"-separated path (no leading slash
// required) and returns the node at that path, or nil if not found.
func (n *FstNode) FindNode(p string) *FstNode {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return n
	}
	cur := n
	for _, part := range strings.Split(p, "/") {
		var next *FstNode
		for _, c := range cur.Children {
			if c.Name == part {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// Walk calls fn for every node in the tree in preorder, passing each
// node's full "/"-separated path relative to the root. fn may be called
// with an empty path for the root itself.
func (n *FstNode) Walk(fn func(p string, node *FstNode)) {
	var walk func(prefix string, node *FstNode)
	walk = func(prefix string, node *FstNode) {
		fn(prefix, node)
		for _, c := range node.Children {
			p := c.Name
			if prefix != "" {
				p = prefix + "/" + c.Name
			}
			walk(p, c)
		}
	}
	walk("", n)
}

// Prune removes the first direct child whose name matches, together with
// its whole subtree, reporting whether anything was removed.
// CopyPartitionBuilder does its own path-based filtering and does not call
// it.
func (n *FstNode) Prune(name string) bool {
	for i, c := range n.Children {
		if c.Name == name {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
	}
	return false
}

// fstBuilder accumulates nodes into on-disk FST bytes: a flat preorder
// entry array followed by a name string table, mirroring ParseFST's layout
// exactly so a built FST round-trips through it.
type fstBuilder struct {
	entries []fstRawEntry
	names   []byte
}

// SerializeFST encodes a tree back into raw FST bytes. File offsets and
// lengths are taken as-is from each node; callers are responsible for
// having set them to their final on-disk values before calling this.
func SerializeFST(root *FstNode) []byte {
	b := &fstBuilder{}
	b.entries = append(b.entries, fstRawEntry{}) // root placeholder, patched below
	b.addChildren(root)
	b.entries[0] = fstRawEntry{typeAndNameOff: 1 << 24, param1: 0, param2: uint32(len(b.entries))}

	out := make([]byte, len(b.entries)*fstEntrySize+len(b.names))
	for i, e := range b.entries {
		off := i * fstEntrySize
		binary.BigEndian.PutUint32(out[off:], e.typeAndNameOff)
		binary.BigEndian.PutUint32(out[off+4:], e.param1)
		binary.BigEndian.PutUint32(out[off+8:], e.param2)
	}
	copy(out[len(b.entries)*fstEntrySize:], b.names)
	return out
}

func (b *fstBuilder) addChildren(node *FstNode) {
	for _, c := range node.Children {
		nameOff := uint32(len(b.names))
		b.names = append(b.names, []byte(c.Name)...)
		b.names = append(b.names, 0)

		if c.IsDir {
			idx := len(b.entries)
			b.entries = append(b.entries, fstRawEntry{typeAndNameOff: 1<<24 | nameOff})
			b.addChildren(c)
			b.entries[idx].param1 = uint32(0) // parent index is unused by ParseFST, left zero
			b.entries[idx].param2 = uint32(len(b.entries))
		} else {
			b.entries = append(b.entries, fstRawEntry{
				typeAndNameOff: nameOff,
				param1:         uint32(c.Offset >> 2),
				param2:         uint32(c.Length),
			})
		}
	}
}
