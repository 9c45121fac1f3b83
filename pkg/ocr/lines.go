package ocr

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// GroupWordsIntoLines clusters words whose boxes overlap vertically into lines,
// ordered top to bottom and left to right within a line. Engines that only
// report words use it to fill Result.Lines.
func GroupWordsIntoLines(words []Word) []Line {
	if len(words) == 0 {
		return nil
	}

	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		if abs(sorted[i].BBox.Y0-sorted[j].BBox.Y0) < sorted[i].BBox.Height()/2 {
			return sorted[i].BBox.X0 < sorted[j].BBox.X0
		}
		return sorted[i].BBox.Y0 < sorted[j].BBox.Y0
	})

	var lines []Line
	var current []Word

	for _, word := range sorted {
		if len(current) == 0 || onSameLine(current, word) {
			current = append(current, word)
			continue
		}
		lines = append(lines, lineFromWords(current))
		current = []Word{word}
	}
	if len(current) > 0 {
		lines = append(lines, lineFromWords(current))
	}

	return lines
}

func onSameLine(line []Word, word Word) bool {
	avgHeight := 0
	minY, maxY := line[0].BBox.Y0, line[0].BBox.Y1
	for _, w := range line {
		avgHeight += w.BBox.Height()
		if w.BBox.Y0 < minY {
			minY = w.BBox.Y0
		}
		if w.BBox.Y1 > maxY {
			maxY = w.BBox.Y1
		}
	}
	avgHeight /= len(line)

	tolerance := avgHeight / 3
	return word.BBox.Y1 >= minY-tolerance && word.BBox.Y0 <= maxY+tolerance
}

func lineFromWords(words []Word) Line {
	sort.SliceStable(words, func(i, j int) bool {
		return words[i].BBox.X0 < words[j].BBox.X0
	})

	box := words[0].BBox
	texts := make([]string, 0, len(words))
	for _, w := range words {
		box.X0 = min(box.X0, w.BBox.X0)
		box.Y0 = min(box.Y0, w.BBox.Y0)
		box.X1 = max(box.X1, w.BBox.X1)
		box.Y1 = max(box.Y1, w.BBox.Y1)
		texts = append(texts, w.Text)
	}

	return Line{
		Text:       joinWords(texts),
		Confidence: AverageConfidence(words),
		BBox:       box,
	}
}

// joinWords separates Latin tokens with a space and runs CJK tokens together,
// the way the text is printed on the card.
func joinWords(texts []string) string {
	var b strings.Builder
	for i, t := range texts {
		if i > 0 && !isCJKBoundary(texts[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(t)
	}
	return b.String()
}

func isCJKBoundary(prev, next string) bool {
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(next)
	return unicode.Is(unicode.Han, last) && unicode.Is(unicode.Han, first)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
