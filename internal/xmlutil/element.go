package xmlutil

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Element is a parsed XML element. Names are local names; namespaces are
// dropped. Text is the element's own character data, trimmed.
type Element struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Element
}

// ParseElement reads one XML document from r and returns its root element.
func ParseElement(r io.Reader) (*Element, error) {
	dec := xml.NewDecoder(r)

	var (
		stack []*Element
		texts []*strings.Builder
		root  *Element
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, errors.New("parsing xml: multiple root elements")
			}
			e := &Element{Name: t.Name.Local}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				if e.Attrs == nil {
					e.Attrs = make(map[string]string)
				}
				e.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, e)
			} else {
				root = e
			}
			stack = append(stack, e)
			texts = append(texts, &strings.Builder{})
		case xml.EndElement:
			e := stack[len(stack)-1]
			e.Text = strings.TrimSpace(texts[len(texts)-1].String())
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}
		}
	}

	if root == nil {
		return nil, errors.New("parsing xml: no root element")
	}
	return root, nil
}
