package model

import (
	"crypto/sha1"
	"strconv"
)

// NeedsFlip decides whether a selection question shows its stored images swapped.
// It depends only on the question id, so every view of a question flips the same way.
// The SHA-1 digest of the decimal id is read as a big-endian integer; even means flip.
func NeedsFlip(questionID int64) bool {
	sum := sha1.Sum([]byte(strconv.FormatInt(questionID, 10)))
	return sum[len(sum)-1]%2 == 0
}

// Translate maps a displayed selection answer to the stored side and back.
// It is an involution: Translate(f, Translate(f, a)) == a.
func Translate(flip bool, answer int) int {
	if flip {
		return 1 - answer
	}
	return answer
}

// RealAnswer converts the code a participant submitted into the canonical code.
func (q Question) RealAnswer(displayed int) int {
	if q.Kind != KindSelection {
		return displayed
	}
	return Translate(NeedsFlip(q.ID), displayed)
}

// DisplayImages returns the blob keys shown on the left and right for a selection question.
func (q Question) DisplayImages() (left, right string) {
	if NeedsFlip(q.ID) {
		return q.RightImage, q.LeftImage
	}
	return q.LeftImage, q.RightImage
}
