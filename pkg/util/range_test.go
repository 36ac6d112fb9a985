package util

import (
	"reflect"
	"testing"
)

func TestExpandVLANList(t *testing.T) {
	tests := []struct {
		name    string
		list    string
		want    []int
		wantErr bool
	}{
		{name: "single value", list: "100", want: []int{100}},
		{name: "simple range", list: "100-103", want: []int{100, 101, 102, 103}},
		{name: "mixed", list: "10,20-22,30", want: []int{10, 20, 21, 22, 30}},
		{name: "with spaces", list: "1 - 3, 5", want: []int{1, 2, 3, 5}},
		{name: "duplicates removed", list: "1-3,2-4", want: []int{1, 2, 3, 4}},
		{name: "empty string", list: "", want: nil},
		{name: "empty parts", list: "7,,8", want: []int{7, 8}},
		{name: "invalid - start > end", list: "5-1", wantErr: true},
		{name: "invalid - not a number", list: "abc", wantErr: true},
		{name: "invalid - bad end", list: "1-x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandVLANList(tt.list)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandVLANList(%q) error = %v, wantErr %v", tt.list, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandVLANList(%q) = %v, want %v", tt.list, got, tt.want)
			}
		})
	}
}

func TestCompactRange(t *testing.T) {
	tests := []struct {
		values []int
		want   string
	}{
		{nil, ""},
		{[]int{5}, "5"},
		{[]int{1, 2, 3, 5, 7, 8, 9}, "1-3,5,7-9"},
		{[]int{9, 8, 7, 7}, "7-9"},
	}

	for _, tt := range tests {
		if got := CompactRange(tt.values); got != tt.want {
			t.Errorf("CompactRange(%v) = %q, want %q", tt.values, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	list := "100-104,200,300-301"
	vlans, err := ExpandVLANList(list)
	if err != nil {
		t.Fatal(err)
	}
	if got := CompactRange(vlans); got != list {
		t.Errorf("round trip = %q, want %q", got, list)
	}
}

func TestValidateVLANID(t *testing.T) {
	for _, id := range []int{1, 100, 4094} {
		if err := ValidateVLANID(id); err != nil {
			t.Errorf("ValidateVLANID(%d) = %v, want nil", id, err)
		}
	}
	for _, id := range []int{0, -1, 4095, 5000} {
		if err := ValidateVLANID(id); err == nil {
			t.Errorf("ValidateVLANID(%d) = nil, want error", id)
		}
	}
}
