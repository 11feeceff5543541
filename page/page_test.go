// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package page

import (
	"context"
	"testing"
)

func TestIndexOf(t *testing.T) {
	tests := []struct {
		level, x, y int
		want        Index
		ok          bool
	}{
		{0, 0, 0, 0, true},
		{1, 0, 0, 1, true},
		{1, 1, 1, 4, true},
		{2, 0, 0, 5, true},
		{2, 3, 3, 20, true},
		{3, 0, 0, 21, true},
		{1, 2, 0, 0, false},
		{-1, 0, 0, 0, false},
		{MaxLevels, 0, 0, 0, false},
		{2, -1, 0, 0, false},
	}
	for _, tt := range tests {
		got, ok := IndexOf(tt.level, tt.x, tt.y)
		if ok != tt.ok {
			t.Errorf("IndexOf(%d,%d,%d) ok = %v, want %v", tt.level, tt.x, tt.y, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("IndexOf(%d,%d,%d) = %d, want %d", tt.level, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestIndexRoundTrip(t *testing.T) {
	for level := 0; level < 8; level++ {
		side := 1 << level
		for y := 0; y < side; y += max(1, side/7) {
			for x := 0; x < side; x += max(1, side/5) {
				idx, ok := IndexOf(level, x, y)
				if !ok {
					t.Fatalf("IndexOf(%d,%d,%d) failed", level, x, y)
				}
				if got := idx.Level(); got != level {
					t.Errorf("%d.Level() = %d, want %d", idx, got, level)
				}
				gx, gy := idx.XY()
				if gx != x || gy != y {
					t.Errorf("%d.XY() = (%d,%d), want (%d,%d)", idx, gx, gy, x, y)
				}
			}
		}
	}
}

func TestIndexFinestLevel(t *testing.T) {
	idx, ok := IndexOf(MaxLevels-1, 1023, 1023)
	if !ok {
		t.Fatal("IndexOf at finest level failed")
	}
	if idx.Level() != MaxLevels-1 {
		t.Errorf("Level() = %d, want %d", idx.Level(), MaxLevels-1)
	}
	if !idx.Valid(MaxLevels) {
		t.Error("finest level page should be valid with MaxLevels levels")
	}
	if idx.Valid(MaxLevels - 1) {
		t.Error("finest level page should be invalid with MaxLevels-1 levels")
	}
}

func TestIndexParent(t *testing.T) {
	idx, _ := IndexOf(3, 5, 6)
	parent, ok := idx.Parent()
	if !ok {
		t.Fatal("Parent() of level 3 page returned false")
	}
	want, _ := IndexOf(2, 2, 3)
	if parent != want {
		t.Errorf("Parent() = %v, want %v", parent, want)
	}

	if _, ok := Index(0).Parent(); ok {
		t.Error("root page should have no parent")
	}
}

func TestIndexValid(t *testing.T) {
	last, _ := IndexOf(2, 3, 3)
	first, _ := IndexOf(3, 0, 0)
	if !last.Valid(3) {
		t.Errorf("%v should be valid for 3 levels", last)
	}
	if first.Valid(3) {
		t.Errorf("%v should be invalid for 3 levels", first)
	}
	if Index(0).Valid(0) {
		t.Error("no page is valid for 0 levels")
	}
}

func TestCount(t *testing.T) {
	tests := []struct {
		levels int
		want   int
	}{
		{0, 0},
		{1, 1},
		{2, 5},
		{3, 21},
		{5, 341},
	}
	for _, tt := range tests {
		if got := Count(tt.levels); got != tt.want {
			t.Errorf("Count(%d) = %d, want %d", tt.levels, got, tt.want)
		}
	}
	last, _ := IndexOf(4, 15, 15)
	if int(last) != Count(5)-1 {
		t.Errorf("last page of 5 levels = %d, want %d", last, Count(5)-1)
	}
}

type stubTexture struct{ id uint32 }

func (s stubTexture) ID() uint32           { return s.id }
func (s stubTexture) NumLevels() int       { return 4 }
func (s stubTexture) Log2Size() int        { return 10 }
func (s stubTexture) ValidPage(Index) bool { return true }
func (s stubTexture) LoadPage(context.Context, StreamedMemory, Index) ([]byte, error) {
	return nil, nil
}
func (s stubTexture) UploadPage(StreamedMemory, Index, []byte) error { return nil }

func TestNewDescriptor(t *testing.T) {
	d := NewDescriptor(stubTexture{id: 7}, 5)
	if d.RefCount != 1 {
		t.Errorf("RefCount = %d, want 1", d.RefCount)
	}
	if d.Key != (Key{Texture: 7, Index: 5}) {
		t.Errorf("Key = %v, want tex7/5", d.Key)
	}
	if d.Hash != d.Key.Hash() {
		t.Error("Hash does not match Key.Hash()")
	}
}

func TestKeyHashDistinguishesTextures(t *testing.T) {
	a := Key{Texture: 1, Index: 9}
	b := Key{Texture: 2, Index: 9}
	if a.Hash() == b.Hash() {
		t.Errorf("hash of %v and %v should differ", a, b)
	}
}
