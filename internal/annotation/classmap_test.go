package annotation

import (
	"errors"
	"reflect"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestClassMap_Map(t *testing.T) {
	entries := []ClassEntry{
		{Name: "aircraft_carrier", SourceID: intPtr(2), ID: 0},
		{SourceID: intPtr(5), ID: 0},
		{Name: "warcraft", SourceID: intPtr(3), ID: 1},
		{SourceID: intPtr(7), ID: 1},
	}

	tests := []struct {
		name    string
		opts    ClassMapOptions
		tok     Token
		want    int
		wantErr bool
	}{
		{"name", ClassMapOptions{}, NameToken("warcraft"), 1, false},
		{"unknown name", ClassMapOptions{}, NameToken("tanker"), 0, true},
		{"source id", ClassMapOptions{}, IDToken(5), 0, false},
		{"unknown id", ClassMapOptions{}, IDToken(21), 0, true},
		{"offset fallback", ClassMapOptions{FallbackIDOffset: 14}, IDToken(21), 1, false},
		{"offset fallback misses", ClassMapOptions{FallbackIDOffset: 14}, IDToken(40), 0, true},
		{"passthrough", ClassMapOptions{PassthroughIDs: true}, IDToken(9), 9, false},
		{"passthrough negative", ClassMapOptions{PassthroughIDs: true}, IDToken(-1), 0, true},
		{"table wins over passthrough", ClassMapOptions{PassthroughIDs: true}, IDToken(7), 1, false},
		{"passthrough does not cover names", ClassMapOptions{PassthroughIDs: true}, NameToken("9"), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewClassMap(entries, tt.opts)
			if err != nil {
				t.Fatalf("NewClassMap failed: %v", err)
			}
			got, err := m.Map(tt.tok)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownClass) {
					t.Fatalf("got %v, want ErrUnknownClass", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Map failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewClassMap_Errors(t *testing.T) {
	tests := []struct {
		name    string
		entries []ClassEntry
	}{
		{"empty entry", []ClassEntry{{ID: 1}}},
		{"negative id", []ClassEntry{{Name: "a", ID: -1}}},
		{"conflicting name", []ClassEntry{{Name: "a", ID: 0}, {Name: "a", ID: 1}}},
		{"conflicting source id", []ClassEntry{{SourceID: intPtr(1), ID: 0}, {SourceID: intPtr(1), ID: 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClassMap(tt.entries, ClassMapOptions{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClassMap_Names(t *testing.T) {
	m, err := NewClassMap([]ClassEntry{
		{Name: "plane", ID: 0},
		{Name: "aeroplane", ID: 0},
		{Name: "ship", ID: 1},
		{SourceID: intPtr(4), ID: 2},
	}, ClassMapOptions{})
	if err != nil {
		t.Fatalf("NewClassMap failed: %v", err)
	}

	if want := map[int]string{0: "plane", 1: "ship"}; !reflect.DeepEqual(m.Names(), want) {
		t.Errorf("Names: got %v, want %v", m.Names(), want)
	}
	if want := []int{0, 1, 2}; !reflect.DeepEqual(m.TargetIDs(), want) {
		t.Errorf("TargetIDs: got %v, want %v", m.TargetIDs(), want)
	}
}
