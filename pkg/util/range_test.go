package util

import (
	"reflect"
	"testing"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		spec    string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"1-5", []int{1, 2, 3, 4, 5}, false},
		{"1,3,5", []int{1, 3, 5}, false},
		{"1-3, 5, 7-9", []int{1, 2, 3, 5, 7, 8, 9}, false},
		{"3,1,3", []int{1, 3}, false},
		{"5-1", nil, true},
		{"a", nil, true},
		{"1-x", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ExpandRange(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandRange(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandRange(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestExpandVLANRange(t *testing.T) {
	if _, err := ExpandVLANRange("10,4095"); err == nil {
		t.Error("ExpandVLANRange accepted 4095")
	}
	got, err := ExpandVLANRange("10,20-21")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int{10, 20, 21}) {
		t.Errorf("got %v", got)
	}
}

func TestCompactRange(t *testing.T) {
	tests := []struct {
		in   []int
		want string
	}{
		{nil, ""},
		{[]int{1}, "1"},
		{[]int{9, 1, 2, 3, 5, 7, 8}, "1-3,5,7-9"},
		{[]int{4, 4, 5}, "4-5"},
	}
	for _, tt := range tests {
		if got := CompactRange(tt.in); got != tt.want {
			t.Errorf("CompactRange(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunk(t *testing.T) {
	vals := make([]int, 300)
	chunks := Chunk(vals, 149)
	if len(chunks) != 3 {
		t.Fatalf("len = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 149 || len(chunks[1]) != 149 || len(chunks[2]) != 2 {
		t.Errorf("sizes = %d,%d,%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if Chunk([]int{}, 10) != nil {
		t.Error("empty input should produce nil")
	}
}
