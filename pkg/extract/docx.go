package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const documentPart = "word/document.xml"

// DOCXExtractor reads paragraph text from the main document part of an
// OOXML word file. Each paragraph is terminated by a newline.
type DOCXExtractor struct{}

func (DOCXExtractor) Extract(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("docx: open archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != documentPart {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("docx: open %s: %w", documentPart, err)
		}
		defer rc.Close()

		return parseDocumentXML(rc)
	}

	return "", fmt.Errorf("docx: %s not found", documentPart)
}

// parseDocumentXML walks the token stream so runs nested in hyperlinks,
// fields and tables are picked up as well.
func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var b strings.Builder
	inText, inTabStops := false, false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("docx: parse %s: %w", documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tabs":
				inTabStops = true
			case "tab":
				if !inTabStops {
					b.WriteByte('\t')
				}
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "tabs":
				inTabStops = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}

	return b.String(), nil
}
