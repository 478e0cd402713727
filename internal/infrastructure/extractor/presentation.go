package extractor

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	// SlideLabel heads each slide's text.
	SlideLabel = "【スライド %d】"
	// maxSlides caps how many slide parts are read.
	maxSlides = 100
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// readPresentation reads ppt/slides/slide1.xml, slide2.xml, ... until the
// first missing index, stripping markup and collapsing whitespace per slide.
func readPresentation(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open presentation: %w", err)
	}

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[f.Name] = f
	}

	var b strings.Builder
	for i := 1; i <= maxSlides; i++ {
		part, ok := parts[fmt.Sprintf("ppt/slides/slide%d.xml", i)]
		if !ok {
			break
		}
		text, err := slideText(part)
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", i, err)
		}

		b.WriteString(fmt.Sprintf(SlideLabel, i))
		b.WriteByte('\n')
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String()), nil
}

// slideText returns the character data of a slide part with all markup
// removed and whitespace runs collapsed to single spaces.
func slideText(part *zip.File) (string, error) {
	rc, err := part.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(rc, 32<<20))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(doc.Text(), " ")), nil
}
