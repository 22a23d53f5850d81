package model

import (
	"encoding/json"
	"testing"
)

func TestNeedsFlipStable(t *testing.T) {
	for id := int64(1); id <= 50; id++ {
		first := NeedsFlip(id)
		for i := 0; i < 3; i++ {
			if NeedsFlip(id) != first {
				t.Fatalf("NeedsFlip(%d) changed between calls", id)
			}
		}
	}
}

func TestNeedsFlipBothWays(t *testing.T) {
	var flipped, kept int
	for id := int64(1); id <= 100; id++ {
		if NeedsFlip(id) {
			flipped++
		} else {
			kept++
		}
	}
	if flipped == 0 || kept == 0 {
		t.Errorf("expected both outcomes over 100 ids, got flipped=%d kept=%d", flipped, kept)
	}
}

func TestTranslateInvolution(t *testing.T) {
	for _, flip := range []bool{false, true} {
		for _, a := range []int{0, 1} {
			if got := Translate(flip, Translate(flip, a)); got != a {
				t.Errorf("Translate(%v, Translate(%v, %d)) = %d", flip, flip, a, got)
			}
		}
	}
	if Translate(true, 0) != 1 || Translate(true, 1) != 0 {
		t.Error("flip should swap 0 and 1")
	}
	if Translate(false, 1) != 1 {
		t.Error("no flip should keep the answer")
	}
}

func TestDisplayImagesAndRealAnswer(t *testing.T) {
	for id := int64(1); id <= 10; id++ {
		q := Question{ID: id, Kind: KindSelection, LeftImage: "l", RightImage: "r"}
		left, right := q.DisplayImages()
		// Picking the image displayed on the left must record the stored side it came from.
		wantLeft := 0
		if left == "r" {
			wantLeft = 1
		}
		if got := q.RealAnswer(0); got != wantLeft {
			t.Errorf("id %d: RealAnswer(0) = %d, want %d (left=%s right=%s)", id, got, wantLeft, left, right)
		}
		if left == right {
			t.Errorf("id %d: left and right images are the same", id)
		}
	}
}

func TestClassificationAnswerIdentity(t *testing.T) {
	q := Question{ID: 2, Kind: KindClassification, Answers: `["a","b","c"]`}
	for a := 0; a < 3; a++ {
		if q.RealAnswer(a) != a {
			t.Errorf("RealAnswer(%d) = %d", a, q.RealAnswer(a))
		}
	}
	if q.AnswerCount() != 3 {
		t.Errorf("AnswerCount = %d, want 3", q.AnswerCount())
	}
}

func TestEvaluationExportJSON(t *testing.T) {
	data, err := json.Marshal(EvaluationExport{0: {1}, 1: {0}, 2: nil})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"0":[1],"1":[0],"2":[]}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
