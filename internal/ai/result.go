package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileArtifact is one generated file. Artifacts are never mutated after
// creation; a later turn produces a whole new set.
type FileArtifact struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// FileList is an ordered filename-to-content mapping. JSON object key order
// is preserved on decode and re-encode, so iteration order is generation
// order.
type FileList []FileArtifact

// Get returns the content for a filename.
func (l FileList) Get(name string) (string, bool) {
	for _, artifact := range l {
		if artifact.Name == name {
			return artifact.Content, true
		}
	}
	return "", false
}

// Names returns the filenames in generation order.
func (l FileList) Names() []string {
	names := make([]string, 0, len(l))
	for _, artifact := range l {
		names = append(names, artifact.Name)
	}
	return names
}

// UnmarshalJSON decodes a JSON object into an ordered list, keeping the
// object's key order. A JSON null means no files were generated.
func (l *FileList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = nil
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))

	token, err := decoder.Token()
	if err != nil {
		return err
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("ai: files must be a JSON object, got %v", token)
	}

	var list FileList
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return err
		}
		name, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("ai: unexpected key token %v", keyToken)
		}
		var content string
		if err := decoder.Decode(&content); err != nil {
			return fmt.Errorf("ai: file %q content must be a string: %w", name, err)
		}
		list = append(list, FileArtifact{Name: name, Content: content})
	}

	if _, err := decoder.Token(); err != nil {
		return err
	}
	*l = list
	return nil
}

// MarshalJSON encodes the list back to a JSON object in generation order.
func (l FileList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for index, artifact := range l {
		if index > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(artifact.Name)
		if err != nil {
			return nil, err
		}
		content, err := json.Marshal(artifact.Content)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(content)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the canonical AI answer shape. Missing fields in a parsed
// payload default to empty, never nil-on-the-wire.
type Result struct {
	Explanation string   `json:"explanation"`
	Files       FileList `json:"files"`
	BuildSteps  []string `json:"buildSteps"`
	RunCommands []string `json:"runCommands"`
}

// HasFiles reports whether the turn produced generated artifacts.
func (r Result) HasFiles() bool {
	return len(r.Files) > 0
}

// WithDefaults fills absent fields with empty values.
func (r Result) WithDefaults() Result {
	if r.Explanation == "" {
		r.Explanation = "No explanation provided"
	}
	if r.Files == nil {
		r.Files = FileList{}
	}
	if r.BuildSteps == nil {
		r.BuildSteps = []string{}
	}
	if r.RunCommands == nil {
		r.RunCommands = []string{}
	}
	return r
}
