// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package atlas

// lruNode is a resident page in the recency list. It stores the page key
// for O(1) removal from the atlas map and the slot the page occupies.
type lruNode struct {
	key  Key
	slot Slot
	prev *lruNode
	next *lruNode
}

// lruList orders resident pages by use. The head is the most recently used
// page, the tail is the next eviction victim. Not thread-safe.
type lruList struct {
	head *lruNode
	tail *lruNode
	len  int
}

// Len returns the number of resident pages.
func (l *lruList) Len() int {
	return l.len
}

// PushFront inserts a page as most recently used.
func (l *lruList) PushFront(key Key, slot Slot) *lruNode {
	node := &lruNode{key: key, slot: slot}
	l.link(node)
	return node
}

// MoveToFront marks a page as most recently used.
func (l *lruList) MoveToFront(node *lruNode) {
	if node == nil || node == l.head {
		return
	}
	l.unlink(node)
	l.link(node)
}

// Remove removes a page from the list.
func (l *lruList) Remove(node *lruNode) {
	if node == nil {
		return
	}
	l.unlink(node)
}

// RemoveOldest removes and returns the least recently used page.
// Returns nil if the list is empty.
func (l *lruList) RemoveOldest() *lruNode {
	node := l.tail
	if node != nil {
		l.unlink(node)
	}
	return node
}

// Clear removes all pages.
func (l *lruList) Clear() {
	l.head = nil
	l.tail = nil
	l.len = 0
}

func (l *lruList) link(node *lruNode) {
	node.prev = nil
	node.next = l.head
	if l.head != nil {
		l.head.prev = node
	}
	l.head = node
	if l.tail == nil {
		l.tail = node
	}
	l.len++
}

func (l *lruList) unlink(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	l.len--
}
