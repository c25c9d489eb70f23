package persona

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// contractions applied when a persona speaks casually. "will not" precedes "I will"
// so that "I will not" becomes "I won't".
var contractions = []Substitution{
	{Word: "will not", Replacement: "won't"},
	{Word: "cannot", Replacement: "can't"},
	{Word: "can not", Replacement: "can't"},
	{Word: "do not", Replacement: "don't"},
	{Word: "does not", Replacement: "doesn't"},
	{Word: "did not", Replacement: "didn't"},
	{Word: "is not", Replacement: "isn't"},
	{Word: "are not", Replacement: "aren't"},
	{Word: "was not", Replacement: "wasn't"},
	{Word: "I am", Replacement: "I'm"},
	{Word: "I will", Replacement: "I'll"},
	{Word: "I have", Replacement: "I've"},
	{Word: "you are", Replacement: "you're"},
	{Word: "we are", Replacement: "we're"},
	{Word: "they are", Replacement: "they're"},
	{Word: "it is", Replacement: "it's"},
	{Word: "that is", Replacement: "that's"},
}

// Humanize reshapes a raw model reply to the persona's speech constraints.
// Markdown formatting is flattened to plain text while link targets, list
// numbers and code are kept. Code blocks pass through untouched. Applying
// Humanize to its own output changes nothing as long as no substitution
// reintroduces an avoided word.
// Humanize 将模型原始回复按角色说话风格做表层变换，纯函数且幂等。
func Humanize(p *Profile, raw string) string {
	segs := plainSegments(stripMarkdown(raw))
	parts := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg.code {
			parts = append(parts, seg.text)
			continue
		}
		if prose := humanizeProse(p, seg.text); prose != "" {
			parts = append(parts, prose)
		}
	}
	if len(parts) == 0 {
		return normalizeWhitespace(raw)
	}
	return strings.Join(parts, "\n")
}

func humanizeProse(p *Profile, s string) string {
	out := normalizeWhitespace(s)
	for _, sub := range p.Vocabulary.Substitutions {
		out = replaceWord(out, sub)
	}
	if p.Speech.Contractions {
		for _, c := range contractions {
			out = replaceWord(out, c)
		}
	}
	if p.Speech.Style == StyleShort && p.Speech.MaxSentenceWords > 0 {
		out = shapeSentences(out, p.Speech.MaxSentenceWords)
	}
	return normalizeWhitespace(out)
}

// segment is a run of prose lines or one fenced code block.
type segment struct {
	text string
	code bool
}

func joinSegments(segs []segment) string {
	parts := make([]string, len(segs))
	for i, seg := range segs {
		parts[i] = seg.text
	}
	return strings.Join(parts, "\n")
}

const maxStripPasses = 4

// stripMarkdown flattens s until another pass leaves it unchanged. Prose is
// whitespace-normalized on every pass so that de-indented lines are parsed
// the way they will finally be read.
func stripMarkdown(s string) string {
	for i := 0; i < maxStripPasses; i++ {
		segs := plainSegments(s)
		for j := range segs {
			if !segs[j].code {
				segs[j].text = normalizeWhitespace(segs[j].text)
			}
		}
		next := joinSegments(segs)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// plainSegments renders formatted Markdown as plain prose plus fenced code
// blocks. Input without any formatting node is returned as a single prose segment.
func plainSegments(s string) []segment {
	src := []byte(s)
	doc := markdown.Parser().Parse(text.NewReader(src))
	if !hasFormatting(doc) {
		return []segment{{text: s}}
	}

	var segs []segment
	var lines []string
	var cur strings.Builder
	flush := func() {
		if line := strings.TrimSpace(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	closeProse := func() {
		flush()
		if len(lines) > 0 {
			segs = append(segs, segment{text: strings.Join(lines, "\n")})
			lines = nil
		}
	}
	labelStart := 0

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(src))
				if node.HardLineBreak() || node.SoftLineBreak() {
					flush()
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.CodeSpan:
			if entering {
				cur.WriteString(codeSpan(node, src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Emphasis:
			if delim, ok := intrawordDelimiter(node, src); ok {
				cur.WriteString(delim)
			}
		case *ast.Link:
			writeTarget(&cur, entering, &labelStart, string(node.Destination))
		case *ast.Image:
			writeTarget(&cur, entering, &labelStart, string(node.Destination))
		case *ast.AutoLink:
			if entering {
				cur.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			if entering {
				for i := 0; i < node.Segments.Len(); i++ {
					seg := node.Segments.At(i)
					cur.Write(seg.Value(src))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock:
			if entering {
				flush()
				appendLines(&lines, node.Lines(), src)
				if node.HasClosure() {
					lines = append(lines, strings.TrimSpace(string(node.ClosureLine.Value(src))))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				closeProse()
				segs = append(segs, segment{text: fencedCode(n, src), code: true})
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				flush()
				if list, ok := node.Parent().(*ast.List); ok && list.IsOrdered() {
					fmt.Fprintf(&cur, "%d%c ", itemNumber(node, list), list.Marker)
				}
			} else {
				flush()
			}
		default:
			if !entering && n.Type() == ast.TypeBlock {
				flush()
			}
		}
		return ast.WalkContinue, nil
	})
	closeProse()

	return segs
}

func hasFormatting(doc ast.Node) bool {
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindEmphasis, ast.KindHeading, ast.KindCodeSpan, ast.KindCodeBlock,
			ast.KindFencedCodeBlock, ast.KindLink, ast.KindAutoLink, ast.KindImage,
			ast.KindList, ast.KindBlockquote, ast.KindThematicBreak:
			found = true
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return found
}

// writeTarget renders a link or image as "label (destination)". The
// destination is omitted when it repeats the label.
func writeTarget(cur *strings.Builder, entering bool, labelStart *int, dest string) {
	if entering {
		*labelStart = cur.Len()
		return
	}
	label := strings.TrimSpace(cur.String()[*labelStart:])
	switch {
	case dest == "" || dest == label:
	case label == "":
		cur.WriteString(dest)
	default:
		fmt.Fprintf(cur, " (%s)", dest)
	}
}

func appendLines(lines *[]string, segs *text.Segments, src []byte) {
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		if line := strings.TrimSpace(string(seg.Value(src))); line != "" {
			*lines = append(*lines, line)
		}
	}
}

func itemNumber(item ast.Node, list *ast.List) int {
	n := list.Start
	for c := list.FirstChild(); c != nil && c != item; c = c.NextSibling() {
		n++
	}
	return n
}

// fencedCode re-emits an indented or fenced code block as a backtick fence
// around its verbatim content.
func fencedCode(n ast.Node, src []byte) string {
	var body strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		body.Write(seg.Value(src))
	}
	content := strings.TrimRight(body.String(), "\n")
	fence := strings.Repeat("`", max(3, longestRun(content, '`')+1))

	info := ""
	if fc, ok := n.(*ast.FencedCodeBlock); ok && fc.Info != nil {
		info = strings.TrimSpace(string(fc.Info.Segment.Value(src)))
		if strings.Contains(info, "`") {
			info = ""
		}
	}
	if content == "" {
		return fence + info + "\n" + fence
	}
	return fence + info + "\n" + content + "\n" + fence
}

// codeSpan re-emits an inline code span with a fence its content cannot close.
func codeSpan(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
	}
	content := strings.ReplaceAll(b.String(), "\n", " ")
	fence := strings.Repeat("`", longestRun(content, '`')+1)
	padded := strings.HasPrefix(content, " ") && strings.HasSuffix(content, " ") && strings.TrimSpace(content) != ""
	if padded || strings.HasPrefix(content, "`") || strings.HasSuffix(content, "`") {
		content = " " + content + " "
	}
	return fence + content + fence
}

func longestRun(s string, c byte) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] != c {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return longest
}

// intrawordDelimiter returns the delimiter run of an emphasis whose opening
// or closing delimiter touches a letter or digit, as in 2*3*4. Such emphasis
// is kept as literal text.
func intrawordDelimiter(n *ast.Emphasis, src []byte) (string, bool) {
	start, ok := delimiterStart(n)
	if !ok {
		return "", false
	}
	stop, ok := delimiterStop(n)
	if !ok || start < 0 || stop > len(src) || start+n.Level > stop {
		return "", false
	}
	c := src[start]
	if (c != '*' && c != '_') || src[stop-1] != c {
		return "", false
	}

	before, _ := utf8.DecodeLastRune(src[:start])
	after, _ := utf8.DecodeRune(src[stop:])
	if (start > 0 && isWordRune(before)) || (stop < len(src) && isWordRune(after)) {
		return strings.Repeat(string(c), n.Level), true
	}
	return "", false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// delimiterStart is the offset of the first opening delimiter of n.
func delimiterStart(n ast.Node) (int, bool) {
	switch node := n.(type) {
	case *ast.Text:
		return node.Segment.Start, true
	case *ast.Emphasis:
		if node.FirstChild() == nil {
			return 0, false
		}
		inner, ok := delimiterStart(node.FirstChild())
		return inner - node.Level, ok
	}
	return 0, false
}

// delimiterStop is the offset just past the last closing delimiter of n.
func delimiterStop(n ast.Node) (int, bool) {
	switch node := n.(type) {
	case *ast.Text:
		return node.Segment.Stop, true
	case *ast.Emphasis:
		if node.LastChild() == nil {
			return 0, false
		}
		inner, ok := delimiterStop(node.LastChild())
		return inner + node.Level, ok
	}
	return 0, false
}

var wordPatterns sync.Map // word -> *regexp.Regexp

func wordPattern(word string) *regexp.Regexp {
	if re, ok := wordPatterns.Load(word); ok {
		return re.(*regexp.Regexp)
	}
	fields := strings.Fields(word)
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	re := regexp.MustCompile(`(?i)\b` + strings.Join(fields, `\s+`) + `\b`)
	wordPatterns.Store(word, re)
	return re
}

// replaceWord replaces whole-word, case-insensitive occurrences and carries the
// match's capitalization over to the replacement.
func replaceWord(s string, sub Substitution) string {
	if sub.Word == "" || strings.EqualFold(sub.Word, sub.Replacement) {
		return s
	}
	return wordPattern(sub.Word).ReplaceAllStringFunc(s, func(match string) string {
		return matchCase(match, sub.Replacement)
	})
}

func matchCase(match, repl string) string {
	if repl == "" {
		return repl
	}
	if utf8.RuneCountInString(match) > 1 && isUpper(match) {
		return strings.ToUpper(repl)
	}
	first, _ := utf8.DecodeRuneInString(match)
	if unicode.IsUpper(first) {
		return capitalize(repl)
	}
	return repl
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// shapeSentences splits sentences longer than maxWords at the comma nearest their
// middle, repeating until every sentence is short enough or has no comma left.
func shapeSentences(s string, maxWords int) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		var shaped []string
		for _, sentence := range splitSentences(line) {
			shaped = append(shaped, shapeSentence(sentence, maxWords)...)
		}
		lines[i] = strings.Join(shaped, " ")
	}
	return strings.Join(lines, "\n")
}

func shapeSentence(s string, maxWords int) []string {
	if len(strings.Fields(s)) <= maxWords {
		return []string{s}
	}
	cut := nearestComma(s)
	if cut < 0 {
		return []string{s}
	}

	left := strings.TrimSpace(s[:cut])
	right := strings.TrimSpace(s[cut+1:])
	if left == "" || right == "" {
		return []string{s}
	}
	if !endsSentence(left) {
		left += "."
	}
	right = capitalize(right)

	return append(shapeSentence(left, maxWords), shapeSentence(right, maxWords)...)
}

// nearestComma returns the index of the ", " closest to the middle of s, or -1.
func nearestComma(s string) int {
	mid := len(s) / 2
	best, bestDist := -1, len(s)+1
	for i := 0; i+1 < len(s); i++ {
		if s[i] != ',' || s[i+1] != ' ' {
			continue
		}
		d := i - mid
		if d < 0 {
			d = -d
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func endsSentence(s string) bool {
	switch s[len(s)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// splitSentences splits a line after runs of terminal punctuation followed by a space.
func splitSentences(line string) []string {
	var out []string
	start := 0
	for i := 0; i < len(line); i++ {
		if !isTerminal(line[i]) {
			continue
		}
		j := i
		for j+1 < len(line) && isTerminal(line[j+1]) {
			j++
		}
		if j+1 < len(line) && line[j+1] == ' ' {
			if part := strings.TrimSpace(line[start : j+1]); part != "" {
				out = append(out, part)
			}
			start = j + 1
		}
		i = j
	}
	if part := strings.TrimSpace(line[start:]); part != "" {
		out = append(out, part)
	}
	return out
}

func isTerminal(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// normalizeWhitespace collapses runs of spaces, trims every line and keeps at
// most one blank line between paragraphs. A continuation line that would open
// a new block once its indentation is gone (# of items, - maybe, > quote) is
// joined to the line before it, which is how Markdown read it.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		} else if len(out) > 0 && opensBlock(l) {
			out[len(out)-1] += " " + l
			continue
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

// opensBlock reports whether a trimmed line read on its own is rendered
// differently, or would turn the line above it into a setext heading.
func opensBlock(line string) bool {
	first, _ := utf8.DecodeRuneInString(line)
	if unicode.IsLetter(first) {
		return false
	}
	if strings.Trim(line, "=") == "" {
		return true
	}
	return joinSegments(plainSegments(line)) != line
}
