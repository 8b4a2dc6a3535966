// Package ngram implements the repetition-blocking step used during beam
// search: any vocabulary token that would complete an n-gram already present
// in a beam's history has its log-probability forced to -Inf before the next
// token is selected. The op is forward-only; no gradient flows through it.
package ngram

import (
	"fmt"
	"math"
)

// BlockRepeats masks lprobs in place. tokens is a row-major
// [bsz*beamSize, seqLen] matrix of token IDs with seqLen inferred from the
// slice length; positions 0..step hold the tokens generated so far. lprobs
// is a row-major [bsz*beamSize, vocab] matrix of next-token log
// probabilities, one row per beam.
//
// For each beam, every window of ngramSize-1 consecutive history tokens that
// matches the most recent ngramSize-1 tokens identifies a banned follow-up:
// the token that completed that n-gram the first time around. The call is a
// no-op while fewer than ngramSize tokens have been generated.
func BlockRepeats(tokens []int64, lprobs []float32, bsz, step, beamSize, ngramSize int) error {
	if bsz <= 0 {
		return fmt.Errorf("ngram: bsz must be positive, got %d", bsz)
	}
	if step < 0 {
		return fmt.Errorf("ngram: step must be non-negative, got %d", step)
	}
	if beamSize <= 0 {
		return fmt.Errorf("ngram: beam size must be positive, got %d", beamSize)
	}
	if ngramSize <= 0 {
		return fmt.Errorf("ngram: ngram size must be positive, got %d", ngramSize)
	}

	beams := bsz * beamSize
	if len(tokens)%beams != 0 {
		return fmt.Errorf("ngram: %d tokens do not divide into %d beams", len(tokens), beams)
	}
	seqLen := len(tokens) / beams
	if step >= seqLen {
		return fmt.Errorf("ngram: step %d out of range for sequence length %d", step, seqLen)
	}
	if len(lprobs)%beams != 0 {
		return fmt.Errorf("ngram: %d lprobs do not divide into %d beams", len(lprobs), beams)
	}
	vocab := len(lprobs) / beams

	if step+1 < ngramSize {
		return nil
	}

	negInf := float32(math.Inf(-1))
	suffixStart := step - ngramSize + 2 // first token of the trailing (n-1)-gram
	for b := 0; b < beams; b++ {
		row := tokens[b*seqLen : b*seqLen+step+1]
		probs := lprobs[b*vocab : (b+1)*vocab]
		for k := 0; k+ngramSize-1 <= step; k++ {
			if !windowMatches(row, k, suffixStart, ngramSize-1) {
				continue
			}
			banned := row[k+ngramSize-1]
			if banned >= 0 && int(banned) < vocab {
				probs[banned] = negInf
			}
		}
	}
	return nil
}

func windowMatches(row []int64, k, suffixStart, n int) bool {
	for i := 0; i < n; i++ {
		if row[k+i] != row[suffixStart+i] {
			return false
		}
	}
	return true
}
