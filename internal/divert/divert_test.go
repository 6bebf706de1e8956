// Copyright 2025 The posh Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package divert

import "testing"

func TestDecrementedConsumesAtOne(t *testing.T) {
	for _, k := range []Kind{Break, Continue} {
		d := Divert{Kind: k, N: 1}
		consumed, next := d.Decremented()
		if !consumed {
			t.Fatalf("%v: want consumed at N=1", k)
		}
		if !next.IsNone() {
			t.Fatalf("%v: want NoDivert after consuming, got %+v", k, next)
		}
	}
}

func TestDecrementedPropagatesAboveOne(t *testing.T) {
	d := NewBreak(3)
	consumed, next := d.Decremented()
	if consumed {
		t.Fatalf("want not consumed at N=3")
	}
	if next.Kind != Break || next.N != 2 {
		t.Fatalf("want Break(2), got %+v", next)
	}
}

func TestDecrementedIgnoresOtherKinds(t *testing.T) {
	for _, d := range []Divert{NoDivert, NewReturn(nil), NewExit(nil), NewInterrupt()} {
		consumed, next := d.Decremented()
		if consumed {
			t.Fatalf("%v: should never be consumed by a loop", d.Kind)
		}
		if next != d {
			t.Fatalf("%v: should pass through unchanged, got %+v", d.Kind, next)
		}
	}
}

func TestNewReturnExitCarryStatus(t *testing.T) {
	n := 7
	if d := NewReturn(&n); d.Kind != Return || *d.Status != 7 {
		t.Fatalf("NewReturn: got %+v", d)
	}
	if d := NewExit(&n); d.Kind != Exit || *d.Status != 7 {
		t.Fatalf("NewExit: got %+v", d)
	}
}
