package ngram

import (
	"math"
	"testing"
)

func freshProbs(beams, vocab int) []float32 {
	p := make([]float32, beams*vocab)
	for i := range p {
		p[i] = float32(-1)
	}
	return p
}

func bannedTokens(probs []float32) []int {
	var out []int
	for i, v := range probs {
		if math.IsInf(float64(v), -1) {
			out = append(out, i)
		}
	}
	return out
}

func TestBlockRepeats(t *testing.T) {
	const vocab = 8

	tests := []struct {
		name      string
		tokens    []int64 // one beam
		step      int
		ngramSize int
		want      []int
	}{
		{
			// history 1 2 3 1 2, trailing bigram (1 2) seen at position 0,
			// followed there by 3.
			name:      "trigram repeat",
			tokens:    []int64{1, 2, 3, 1, 2, 0},
			step:      4,
			ngramSize: 3,
			want:      []int{3},
		},
		{
			// two earlier occurrences ban two different continuations.
			name:      "bigram two continuations",
			tokens:    []int64{5, 1, 5, 2, 5, 0},
			step:      4,
			ngramSize: 2,
			want:      []int{1, 2},
		},
		{
			name:      "too early",
			tokens:    []int64{1, 2, 0, 0, 0, 0},
			step:      1,
			ngramSize: 3,
			want:      nil,
		},
		{
			// unigram blocking bans every token seen so far.
			name:      "unigram",
			tokens:    []int64{4, 7, 4, 0, 0, 0},
			step:      2,
			ngramSize: 1,
			want:      []int{4, 7},
		},
		{
			name:      "no repeat",
			tokens:    []int64{1, 2, 3, 4, 5, 0},
			step:      4,
			ngramSize: 2,
			want:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probs := freshProbs(1, vocab)
			if err := BlockRepeats(tt.tokens, probs, 1, tt.step, 1, tt.ngramSize); err != nil {
				t.Fatal(err)
			}
			got := bannedTokens(probs)
			if len(got) != len(tt.want) {
				t.Fatalf("banned %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("banned %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestBlockRepeatsPerBeam(t *testing.T) {
	// Two beams: the first repeats a bigram, the second does not. Masking
	// must stay within each beam's own row.
	const vocab = 6
	tokens := []int64{
		2, 3, 2, 0, // beam 0: bigram suffix (2) seen before 3
		1, 4, 5, 0, // beam 1: clean
	}
	probs := freshProbs(2, vocab)
	if err := BlockRepeats(tokens, probs, 1, 2, 2, 2); err != nil {
		t.Fatal(err)
	}
	if got := bannedTokens(probs[:vocab]); len(got) != 1 || got[0] != 3 {
		t.Fatalf("beam 0 banned %v, want [3]", got)
	}
	if got := bannedTokens(probs[vocab:]); got != nil {
		t.Fatalf("beam 1 banned %v, want none", got)
	}
}

func TestBlockRepeatsValidation(t *testing.T) {
	tokens := make([]int64, 8)
	probs := make([]float32, 12)

	tests := []struct {
		name                            string
		bsz, step, beamSize, ngramSize int
	}{
		{"zero bsz", 0, 0, 1, 2},
		{"negative step", 1, -1, 1, 2},
		{"zero beam", 1, 0, 0, 2},
		{"zero ngram", 1, 0, 1, 0},
		{"step past sequence", 2, 4, 1, 2}, // seqLen = 8/2 = 4
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := BlockRepeats(tokens, probs, tt.bsz, tt.step, tt.beamSize, tt.ngramSize); err == nil {
				t.Fatal("invalid arguments accepted")
			}
		})
	}

	// Token count that does not divide into beams.
	if err := BlockRepeats(make([]int64, 7), probs, 1, 0, 2, 2); err == nil {
		t.Fatal("indivisible token layout accepted")
	}
}
