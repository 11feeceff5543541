// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package page

import "fmt"

// MaxLevels is the number of quadtree levels a page index can address.
// Level 0 is the coarsest level and holds a single page; level L holds
// 2^L x 2^L pages.
const MaxLevels = 16

// Index is the absolute address of a page inside a virtual texture's page
// quadtree. Pages are numbered level by level, row-major inside a level:
//
//	index = (4^level - 1) / 3 + y*2^level + x
type Index uint32

// levelBase returns the absolute index of the first page of level.
func levelBase(level int) uint32 {
	return (uint32(1)<<(2*uint(level)) - 1) / 3
}

// IndexOf returns the absolute index of page (x, y) at the given level.
// It returns false if the level or coordinates are out of range.
func IndexOf(level, x, y int) (Index, bool) {
	if level < 0 || level >= MaxLevels {
		return 0, false
	}
	side := 1 << uint(level)
	if x < 0 || y < 0 || x >= side || y >= side {
		return 0, false
	}
	return Index(levelBase(level) + uint32(y*side+x)), true //nolint:gosec // bounded by MaxLevels
}

// Level returns the quadtree level of the page.
func (i Index) Level() int {
	for level := 1; level < MaxLevels; level++ {
		if uint32(i) < levelBase(level) {
			return level - 1
		}
	}
	return MaxLevels - 1
}

// XY returns the page coordinates inside its level.
func (i Index) XY() (x, y int) {
	level := i.Level()
	rel := int(uint32(i) - levelBase(level))
	side := 1 << uint(level)
	return rel % side, rel / side
}

// Parent returns the index of the page one level coarser that covers this
// page. The root page has no parent.
func (i Index) Parent() (Index, bool) {
	level := i.Level()
	if level == 0 {
		return 0, false
	}
	x, y := i.XY()
	return IndexOf(level-1, x>>1, y>>1)
}

// Valid reports whether the index addresses a page within the first
// levels quadtree levels.
func (i Index) Valid(levels int) bool {
	if levels <= 0 {
		return false
	}
	if levels > MaxLevels {
		levels = MaxLevels
	}
	if levels == MaxLevels {
		return uint32(i) < levelBase(MaxLevels-1)+(uint32(1)<<(2*(MaxLevels-1)))
	}
	return uint32(i) < levelBase(levels)
}

// Count returns the number of pages in a quadtree of levels levels.
func Count(levels int) int {
	if levels <= 0 {
		return 0
	}
	if levels > MaxLevels {
		levels = MaxLevels
	}
	return int(levelBase(levels))
}

// String implements fmt.Stringer.
func (i Index) String() string {
	x, y := i.XY()
	return fmt.Sprintf("L%d(%d,%d)", i.Level(), x, y)
}
