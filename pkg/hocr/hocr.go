// Package hocr renders OCR results as hOCR documents so word and line boxes
// can be inspected in any hOCR viewer.
package hocr

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/ionex/idverify/pkg/ocr"
)

// FromResult converts an OCR result to an hOCR document. Words are nested
// under the line whose box contains their center. Results without lines get
// one line per word.
func FromResult(result ocr.Result, engine string) string {
	var b strings.Builder

	lines := groupWords(result)
	wordIndex := 0
	for i, l := range lines {
		fmt.Fprintf(&b, "<span class='ocr_line' id='line_%d' title='%s'>", i+1, title(l.line.BBox, -1))
		for _, w := range l.words {
			wordIndex++
			fmt.Fprintf(&b, "<span class='ocrx_word' id='word_%d' title='%s'>%s</span>",
				wordIndex, title(w.BBox, w.Confidence), escapeText(w.Text))
		}
		b.WriteString("</span>\n")
	}

	return WrapInHOCRDocument(pageBox(result), engine, strings.TrimSuffix(b.String(), "\n"))
}

// WrapInHOCRDocument wraps content in a complete hOCR HTML document.
func WrapInHOCRDocument(page ocr.BBox, engine, content string) string {
	return fmt.Sprintf(`<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml" xml:lang="zh-TW" lang="zh-TW">
<head>
<title></title>
<meta http-equiv="Content-Type" content="text/html;charset=utf-8" />
<meta name='ocr-system' content='idverify %s' />
<meta name='ocr-capabilities' content='ocr_page ocr_line ocrx_word' />
</head>
<body>
<div class='ocr_page' id='page_1' title='%s'>
%s
</div>
</body>
</html>`, escapeText(engine), title(page, -1), content)
}

type lineGroup struct {
	line  ocr.Line
	words []ocr.Word
}

func groupWords(result ocr.Result) []lineGroup {
	if len(result.Lines) == 0 {
		groups := make([]lineGroup, 0, len(result.Words))
		for _, w := range result.Words {
			groups = append(groups, lineGroup{line: w, words: []ocr.Word{w}})
		}
		return groups
	}

	groups := make([]lineGroup, len(result.Lines))
	for i, l := range result.Lines {
		groups[i].line = l
	}
	for _, w := range result.Words {
		if i := containingLine(result.Lines, w.BBox); i >= 0 {
			groups[i].words = append(groups[i].words, w)
		}
	}
	for i := range groups {
		if len(groups[i].words) == 0 {
			groups[i].words = []ocr.Word{groups[i].line}
			continue
		}
		sort.SliceStable(groups[i].words, func(a, b int) bool {
			return groups[i].words[a].BBox.X0 < groups[i].words[b].BBox.X0
		})
	}
	return groups
}

func containingLine(lines []ocr.Line, box ocr.BBox) int {
	cx := (box.X0 + box.X1) / 2
	cy := (box.Y0 + box.Y1) / 2
	for i, l := range lines {
		if cx >= l.BBox.X0 && cx <= l.BBox.X1 && cy >= l.BBox.Y0 && cy <= l.BBox.Y1 {
			return i
		}
	}
	return -1
}

// pageBox is the union of every box, anchored at the origin.
func pageBox(result ocr.Result) ocr.BBox {
	var page ocr.BBox
	grow := func(b ocr.BBox) {
		page.X1 = max(page.X1, b.X1)
		page.Y1 = max(page.Y1, b.Y1)
	}
	for _, w := range result.Words {
		grow(w.BBox)
	}
	for _, l := range result.Lines {
		grow(l.BBox)
	}
	return page
}

// title formats the hOCR title property. Negative confidence omits x_wconf.
func title(b ocr.BBox, confidence float64) string {
	t := fmt.Sprintf("bbox %d %d %d %d", b.X0, b.Y0, b.X1, b.Y1)
	if confidence >= 0 {
		t += fmt.Sprintf("; x_wconf %d", int(confidence+0.5))
	}
	return t
}

func escapeText(s string) string {
	return html.EscapeString(s)
}
