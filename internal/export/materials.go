// Package export renders lesson study notes as a downloadable plain-text file.
package export

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-study/internal/curriculum"
)

// ContentType is the MIME type of exported materials.
const ContentType = "text/plain; charset=utf-8"

// File is an exported materials document.
type File struct {
	Name string
	Body []byte
}

// Materials renders the lesson's sections. The output depends only on the
// lesson, so repeated calls are byte-identical.
func Materials(l curriculum.Lesson) File {
	return File{
		Name: FileName(l),
		Body: Render(l),
	}
}

// FileName returns Grade{grade}_{subject}_{title}.txt with all whitespace
// removed from subject and title.
func FileName(l curriculum.Lesson) string {
	return fmt.Sprintf("Grade%d_%s_%s.txt", l.Grade, stripSpace(l.Subject), stripSpace(l.Title))
}

// Render writes the header and every section:
//
//	{title}
//	Grade {grade}  Subject: {subject}
//
//	{section title}
//	{dashes}
//	{section body}
func Render(l curriculum.Lesson) []byte {
	var b strings.Builder
	b.WriteString(norm.NFC.String(l.Title))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Grade %d  Subject: %s\n", l.Grade, norm.NFC.String(l.Subject))

	for _, s := range l.Sections {
		title := norm.NFC.String(s.Title)
		b.WriteString("\n")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", utf8.RuneCountInString(title)))
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(s.Body, "\n"))
		b.WriteString("\n")
	}

	return norm.NFC.Bytes([]byte(b.String()))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, norm.NFC.String(s))
}
