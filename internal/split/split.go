// Package split partitions a corpus into disjoint train, val and test subsets.
package split

import (
	"fmt"
	"math"
	"math/rand"
)

// Split names one subset of the corpus.
type Split string

const (
	Train Split = "train"
	Val   Split = "val"
	Test  Split = "test"
)

// All lists the subsets in output order.
var All = []Split{Train, Val, Test}

// Ratios are the target fractions of the corpus per subset. They need not sum to 1;
// the test subset always receives the remainder. Test is informational only.
type Ratios struct {
	Train float64 `mapstructure:"train" json:"train"`
	Val   float64 `mapstructure:"val" json:"val"`
	Test  float64 `mapstructure:"test" json:"test"`
}

// Validate rejects negative or non-finite ratios.
func (r Ratios) Validate() error {
	for _, v := range []struct {
		name  string
		value float64
	}{{"train", r.Train}, {"val", r.Val}, {"test", r.Test}} {
		if v.value < 0 || math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("%s ratio must be a non-negative number, got %g", v.name, v.value)
		}
	}
	return nil
}

// Assignment holds the items of each subset. Every input item appears in exactly one
// of the three slices.
type Assignment[T any] struct {
	Train []T
	Val   []T
	Test  []T
}

// Get returns the items of subset s.
func (a Assignment[T]) Get(s Split) []T {
	switch s {
	case Train:
		return a.Train
	case Val:
		return a.Val
	case Test:
		return a.Test
	default:
		return nil
	}
}

// Len returns the total number of assigned items.
func (a Assignment[T]) Len() int {
	return len(a.Train) + len(a.Val) + len(a.Test)
}

// Partition splits items by ratio.
//
// With a nil seed the input order is kept. Otherwise the items are permuted with a
// pseudo-random source seeded by *seed, so the same seed reproduces the same split.
// The boundaries are
//
//	trainEnd = floor(n*train)
//	valEnd   = trainEnd + floor(n*val)
//
// both capped at n, and the test subset takes everything from valEnd on. The input
// slice is not modified.
func Partition[T any](items []T, r Ratios, seed *int64) (Assignment[T], error) {
	if err := r.Validate(); err != nil {
		return Assignment[T]{}, err
	}

	n := len(items)
	ordered := make([]T, n)
	copy(ordered, items)
	if seed != nil {
		rng := rand.New(rand.NewSource(*seed))
		rng.Shuffle(n, func(i, j int) {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		})
	}

	trainEnd := min(int(math.Floor(float64(n)*r.Train)), n)
	valEnd := min(trainEnd+int(math.Floor(float64(n)*r.Val)), n)

	return Assignment[T]{
		Train: ordered[:trainEnd:trainEnd],
		Val:   ordered[trainEnd:valEnd:valEnd],
		Test:  ordered[valEnd:],
	}, nil
}

// ByList assigns items to subsets by key using predefined id lists, as shipped with
// VOC style ImageSets. An item whose key appears in more than one list goes to the
// first of train, val, test. Items in no list are returned separately, in input order.
func ByList[T any](items []T, key func(T) string, lists map[Split][]string) (Assignment[T], []T) {
	member := make(map[string]Split)
	for i := len(All) - 1; i >= 0; i-- {
		s := All[i]
		for _, id := range lists[s] {
			member[id] = s
		}
	}

	var a Assignment[T]
	var unlisted []T
	for _, item := range items {
		s, ok := member[key(item)]
		if !ok {
			unlisted = append(unlisted, item)
			continue
		}
		switch s {
		case Train:
			a.Train = append(a.Train, item)
		case Val:
			a.Val = append(a.Val, item)
		case Test:
			a.Test = append(a.Test, item)
		}
	}
	return a, unlisted
}
