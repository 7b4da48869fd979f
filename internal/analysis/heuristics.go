package analysis

import (
	"math"
	"math/rand"
	"strings"

	"linguaflow/voice/internal/types"
)

var singleFillers = map[string]bool{
	"um": true, "uh": true, "like": true, "so": true, "well": true,
}

var fillerBigrams = map[string]bool{
	"you know": true, "i mean": true,
}

// "like" directly after a subject pronoun is the verb, not a filler.
var subjectPronouns = map[string]bool{
	"i": true, "we": true, "you": true, "they": true, "he": true, "she": true, "it": true,
}

func tokenize(text string) []string {
	raw := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.Trim(t, ".,!?;:\"'()")
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// wordCount counts tokens of at least two letters; one-letter tokens ("I",
// "a") do not count toward the ratios.
func wordCount(tokens []string) int {
	n := 0
	for _, t := range tokens {
		if len([]rune(t)) >= 2 {
			n++
		}
	}
	return n
}

func countFillers(tokens []string) int {
	fillers := 0
	for i := 0; i < len(tokens); i++ {
		if i+1 < len(tokens) && fillerBigrams[tokens[i]+" "+tokens[i+1]] {
			fillers++
			i++
			continue
		}
		t := tokens[i]
		if !singleFillers[t] {
			continue
		}
		if t == "like" && i > 0 && subjectPronouns[tokens[i-1]] {
			continue
		}
		fillers++
	}
	return fillers
}

// analyzeFluency scores filler-word density and immediate repetitions:
// clamp(100 - 30*fillerRatio - 20*repetitionRatio, 50, 100).
func analyzeFluency(text string) (int, []types.AnalysisIssue) {
	tokens := tokenize(text)
	total := wordCount(tokens)
	if total == 0 {
		return 100, nil
	}

	fillers := countFillers(tokens)

	var issues []types.AnalysisIssue
	if fillers > 3 {
		sev := types.SeverityMinor
		if fillers > 6 {
			sev = types.SeverityModerate
		}
		issues = append(issues, types.AnalysisIssue{
			Type:        "filler_words",
			Severity:    sev,
			Explanation: "frequent filler words interrupt the flow of speech",
		})
	}

	repeats := 0
	for i := 1; i < len(tokens); i++ {
		if len([]rune(tokens[i])) > 2 && tokens[i] == tokens[i-1] {
			repeats++
			issues = append(issues, types.AnalysisIssue{
				Type:     "repetition",
				Severity: types.SeverityMinor,
				Original: tokens[i],
				Position: i,
			})
		}
	}

	fillerRatio := float64(fillers) / float64(total)
	repetitionRatio := float64(repeats) / float64(total)
	score := 100 - 30*fillerRatio - 20*repetitionRatio
	if score < 50 {
		score = 50
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score)), issues
}

// analyzePronunciation draws a base score in [70,95) and penalizes very
// short utterances: 2 points per word under the 5-word minimum, floor 60.
func analyzePronunciation(text string) (int, []types.AnalysisIssue) {
	tokens := tokenize(text)
	total := wordCount(tokens)
	score := 70 + int(rand.Float64()*25)
	if total < 5 {
		score -= 2 * (5 - total)
	}
	if score < 60 {
		score = 60
	}
	return score, nil
}

// analyzeAccent draws a base score in [60,90) with a lexical-variety bonus,
// capped at 95.
func analyzeAccent(text string) (int, []types.AnalysisIssue) {
	tokens := tokenize(text)
	total := wordCount(tokens)
	base := 60 + rand.Float64()*30
	if total > 0 {
		distinct := make(map[string]bool, total)
		for _, t := range tokens {
			if len([]rune(t)) >= 2 {
				distinct[t] = true
			}
		}
		base += float64(len(distinct)) / float64(total) * 10
	}
	score := int(math.Round(base))
	if score > 95 {
		score = 95
	}
	return score, nil
}

// grammarScore folds the collaborator's issue list into a score.
func grammarScore(issues []types.AnalysisIssue) int {
	score := 100
	for _, is := range issues {
		switch is.Severity {
		case types.SeverityMajor:
			score -= 15
		case types.SeverityModerate:
			score -= 8
		default:
			score -= 4
		}
	}
	if score < 40 {
		score = 40
	}
	return score
}
