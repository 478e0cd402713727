package extractor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// textNode is a generic document tree node: an element with optional text
// and ordered children.
type textNode struct {
	Text     *string
	Children []*textNode
}

// walkText appends every node's text depth-first, each followed by a newline.
func walkText(n *textNode, b *strings.Builder) {
	if n.Text != nil {
		b.WriteString(*n.Text)
		b.WriteByte('\n')
	}
	for _, c := range n.Children {
		walkText(c, b)
	}
}

// readWord extracts the text of a Word document: paragraphs, including those
// nested in tables and text boxes, one per line.
func readWord(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open word document: %w", err)
	}
	defer r.Close()

	root, err := parseWordTree(r.Editable().GetContent())
	if err != nil {
		return "", fmt.Errorf("parse word document: %w", err)
	}

	var b strings.Builder
	walkText(root, &b)
	return strings.TrimSpace(b.String()), nil
}

// wordContainers are elements that only group other elements.
var wordContainers = map[string]bool{
	"body":        true,
	"tbl":         true,
	"tr":          true,
	"tc":          true,
	"sdt":         true,
	"sdtContent":  true,
	"txbxContent": true,
}

type wordFrame struct {
	name string
	node *textNode
	text *strings.Builder // set for paragraphs
}

// parseWordTree builds a textNode tree from WordprocessingML. Paragraphs
// become text nodes; tables, cells and content controls become containers.
func parseWordTree(content string) (*textNode, error) {
	root := &textNode{}
	stack := []*wordFrame{{name: "document", node: root}}
	inText := false

	paragraph := func() *strings.Builder {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].text != nil {
				return stack[i].text
			}
		}
		return nil
	}

	dec := xml.NewDecoder(strings.NewReader(content))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			top := stack[len(stack)-1]
			switch {
			case name == "p":
				node := &textNode{}
				top.node.Children = append(top.node.Children, node)
				stack = append(stack, &wordFrame{name: name, node: node, text: &strings.Builder{}})
			case wordContainers[name]:
				node := &textNode{}
				top.node.Children = append(top.node.Children, node)
				stack = append(stack, &wordFrame{name: name, node: node})
			case name == "t":
				inText = true
			case name == "tab":
				if p := paragraph(); p != nil {
					p.WriteByte('\t')
				}
			case name == "br" || name == "cr":
				if p := paragraph(); p != nil {
					p.WriteByte('\n')
				}
			}

		case xml.CharData:
			if inText {
				if p := paragraph(); p != nil {
					p.Write(t)
				}
			}

		case xml.EndElement:
			name := t.Name.Local
			if name == "t" {
				inText = false
				continue
			}
			top := stack[len(stack)-1]
			if len(stack) > 1 && top.name == name {
				if top.text != nil && top.text.Len() > 0 {
					s := top.text.String()
					top.node.Text = &s
				}
				stack = stack[:len(stack)-1]
			}
		}
	}
	return root, nil
}
