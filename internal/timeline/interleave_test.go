package timeline

import "testing"

func TestInterleaveBreaksStartTiesByEnd(t *testing.T) {
	keep := Segment{StartTime: 10, EndTime: 10, Action: ActionKeep}
	remove := Segment{StartTime: 10, EndTime: 20, Action: ActionRemove}
	first := interleave([]Segment{keep}, []Segment{remove})
	second := interleave(nil, []Segment{remove, keep})
	for _, got := range [][]Segment{first, second} {
		if len(got) != 2 || got[0].Action != ActionKeep || got[1].Action != ActionRemove {
			t.Fatalf("expected zero-length keep before remove, got %v", got)
		}
	}

	sameSpan := interleave([]Segment{{StartTime: 5, EndTime: 8, Action: ActionKeep}}, []Segment{{StartTime: 5, EndTime: 8, Action: ActionRemove}})
	reversed := interleave([]Segment{{StartTime: 5, EndTime: 8, Action: ActionRemove}}, []Segment{{StartTime: 5, EndTime: 8, Action: ActionKeep}})
	if sameSpan[0].Action != reversed[0].Action {
		t.Fatalf("order depends on input: %v vs %v", sameSpan, reversed)
	}
}
