/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tsdb

import "testing"

func points(vals ...float64) []Point {
	out := make([]Point, len(vals))
	for i, v := range vals {
		out[i] = newPointView(point{M: "x", V: v, T: int64(i)})
	}
	return out
}

func apply(t *testing.T, key string, vals ...float64) any {
	t.Helper()
	agg, err := ParseAggregation(key)
	if err != nil {
		t.Fatalf("ParseAggregation(%q) failed: %v", key, err)
	}
	return agg.Apply(points(vals...))
}

func TestAggregateBasics(t *testing.T) {
	if got := apply(t, "sum", 40, 20, 60); got != 120.0 {
		t.Fatalf("sum: got %v", got)
	}
	if got := apply(t, "min", 40, 20, 60); got != 20.0 {
		t.Fatalf("min: got %v", got)
	}
	if got := apply(t, "max", 40, 20, 60); got != 60.0 {
		t.Fatalf("max: got %v", got)
	}
	if got := apply(t, "average", 10, 20); got != 15.0 {
		t.Fatalf("average: got %v", got)
	}
	if got := apply(t, "count", 1, 2, 3); got != 3 {
		t.Fatalf("count: got %v", got)
	}
}

func TestAggregateMedianEvenAndOdd(t *testing.T) {
	if got := apply(t, "median", 1, 2, 3); got != 2.0 {
		t.Fatalf("median odd: got %v", got)
	}
	if got := apply(t, "median", 1, 2, 3, 4); got != 2.5 {
		t.Fatalf("median even: got %v", got)
	}
}

func TestAggregateUndefinedOnEmpty(t *testing.T) {
	agg, _ := ParseAggregation("average")
	if got := agg.Apply(nil); got != Undefined {
		t.Fatalf("expected Undefined on empty input, got %v", got)
	}
}

func TestAggregateRawReturnsEmptyListNotUndefined(t *testing.T) {
	agg, _ := ParseAggregation("raw")
	got := agg.Apply(nil)
	pts, ok := got.([]Point)
	if !ok || len(pts) != 0 {
		t.Fatalf("raw on empty input must be an empty list, got %v (%T)", got, got)
	}
}

func TestAggregateStddevUndefinedBelowTwoPoints(t *testing.T) {
	if got := apply(t, "stddev", 5); got != Undefined {
		t.Fatalf("stddev with n=1 must be Undefined, got %v", got)
	}
}

func TestAggregateTrend(t *testing.T) {
	if got := apply(t, "trend", 1, 5); got != "up" {
		t.Fatalf("trend up: got %v", got)
	}
	if got := apply(t, "trend", 5, 1); got != "down" {
		t.Fatalf("trend down: got %v", got)
	}
	if got := apply(t, "trend", 3, 3); got != "steady" {
		t.Fatalf("trend steady: got %v", got)
	}
	if got := apply(t, "trend", 3); got != "steady" {
		t.Fatalf("trend n<=1 must be steady, got %v", got)
	}
}

func TestAggregatePercentileEndpoints(t *testing.T) {
	if got := apply(t, "percentile_0", 10, 20, 30); got != 10.0 {
		t.Fatalf("p0: got %v", got)
	}
	if got := apply(t, "percentile_100", 10, 20, 30); got != 30.0 {
		t.Fatalf("p100: got %v", got)
	}
	if got := apply(t, "percentile_50", 10, 20, 30); got != 20.0 {
		t.Fatalf("p50: got %v", got)
	}
}

func TestAggregateModeSingletonUnwrapped(t *testing.T) {
	got := apply(t, "mode", 1, 1, 2)
	v, ok := got.(float64)
	if !ok || v != 1 {
		t.Fatalf("expected unwrapped singleton mode, got %v (%T)", got, got)
	}
}

func TestAggregateModeTieReturnsList(t *testing.T) {
	got := apply(t, "mode", 1, 2)
	list, ok := got.([]float64)
	if !ok || len(list) != 2 {
		t.Fatalf("expected a tied mode list, got %v (%T)", got, got)
	}
}

func TestAggregateUnsupportedKey(t *testing.T) {
	_, err := ParseAggregation("not_a_real_aggregation")
	e, ok := err.(*Error)
	if !ok || e.Kind != KindUnsupportedAggregation {
		t.Fatalf("expected UnsupportedAggregation, got %v", err)
	}
}

func TestAggregateCustomReducer(t *testing.T) {
	agg, err := ParseAggregation("custom")
	if err != nil {
		t.Fatalf("ParseAggregation failed: %v", err)
	}
	agg.Custom = func(pts []Point) any { return len(pts) }
	if got := agg.Apply(points(1, 2, 3)); got != 3 {
		t.Fatalf("custom reducer: got %v", got)
	}
}

func TestAggregateRateOfChangeZeroGuard(t *testing.T) {
	got := apply(t, "rate_of_change", 0, 10)
	seq, ok := got.([]float64)
	if !ok || len(seq) != 1 || seq[0] != 0 {
		t.Fatalf("rate_of_change with a zero previous value must guard, got %v", got)
	}
}
