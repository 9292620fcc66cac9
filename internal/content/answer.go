package content

import (
	"fmt"
	"strconv"
	"strings"
)

// CheckAnswer compares a learner's answer with the item's answer.
//
// Whitespace is trimmed and comparison is case-insensitive. Integers ignore
// leading zeros, decimals ignore trailing zeros and fractions are compared
// in lowest terms. Multiple choice items accept the choice text or its
// 1-based index.
func CheckAnswer(answer string, item Item) bool {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false
	}
	if len(item.Choices) > 0 {
		return checkChoice(answer, item)
	}
	got, err := normalize(answer, item.AnswerType)
	if err != nil {
		return false
	}
	want, err := normalize(item.Answer, item.AnswerType)
	if err != nil {
		return false
	}
	return got == want
}

func checkChoice(answer string, item Item) bool {
	if idx, err := strconv.Atoi(answer); err == nil && idx >= 1 && idx <= len(item.Choices) {
		answer = item.Choices[idx-1]
	}
	return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(item.Answer))
}

func normalize(s string, typ AnswerType) (string, error) {
	s = strings.TrimSpace(s)
	switch typ {
	case AnswerInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid integer: %w", err)
		}
		return strconv.FormatInt(n, 10), nil
	case AnswerDecimal:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return "", fmt.Errorf("invalid decimal: %w", err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case AnswerFraction:
		return normalizeFraction(s)
	}
	return strings.ToLower(strings.Join(strings.Fields(s), " ")), nil
}

func normalizeFraction(s string) (string, error) {
	numStr, denStr, ok := strings.Cut(s, "/")
	if !ok {
		// A whole number is a fraction over 1.
		denStr = "1"
	}
	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid numerator: %w", err)
	}
	den, err := strconv.ParseInt(strings.TrimSpace(denStr), 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid denominator: %w", err)
	}
	if den == 0 {
		return "", fmt.Errorf("zero denominator")
	}
	if den < 0 {
		num, den = -num, -den
	}
	g := gcd(abs(num), den)
	return fmt.Sprintf("%d/%d", num/g, den/g), nil
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Score grades answers keyed by item id. Missing answers count as wrong.
// It returns the fraction correct and the per-item verdicts.
func Score(p *Payload, answers map[string]string) (float64, map[string]bool) {
	verdicts := make(map[string]bool, len(p.Items))
	if len(p.Items) == 0 {
		return 0, verdicts
	}
	correct := 0
	for _, it := range p.Items {
		ok := CheckAnswer(answers[it.ID], it)
		verdicts[it.ID] = ok
		if ok {
			correct++
		}
	}
	return float64(correct) / float64(len(p.Items)), verdicts
}
