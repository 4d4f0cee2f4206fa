package monitor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// node is a generic XML element. The service wraps its datasets in
// varying envelopes and namespaces, so elements are matched by local name.
type node struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
	Nodes   []node `xml:",any"`
}

func parseXML(data []byte) (*node, error) {
	var root node
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		return nil, fmt.Errorf("parse XML: %w", err)
	}
	// ASMX string endpoints return the dataset escaped inside <string>
	if len(root.Nodes) == 0 {
		if inner := strings.TrimSpace(root.Text); strings.HasPrefix(inner, "<") {
			return parseXML([]byte(inner))
		}
	}
	return &root, nil
}

// walk visits n and every descendant in document order
func (n *node) walk(fn func(*node)) {
	fn(n)
	for i := range n.Nodes {
		n.Nodes[i].walk(fn)
	}
}

// child returns the text of the first direct child named local
func (n *node) child(local string) (string, bool) {
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			return strings.TrimSpace(c.Text), true
		}
	}
	return "", false
}

// fields maps direct child names to their text
func (n *node) fields() map[string]string {
	out := make(map[string]string, len(n.Nodes))
	for _, c := range n.Nodes {
		out[c.XMLName.Local] = strings.TrimSpace(c.Text)
	}
	return out
}
