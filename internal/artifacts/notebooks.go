package artifacts

import (
	"bytes"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"lakedeploy/internal/tokenize"
	"lakedeploy/pkg/errors"
)

// Notebook is an .ipynb file under the notebooks directory
type Notebook struct {
	File
	// Dir is the slash-separated directory relative to the notebooks directory
	Dir string
	// DisplayName is the file name without .ipynb
	DisplayName string
}

// Notebooks lists the .ipynb files under the notebooks directory
func (s *Source) Notebooks() ([]Notebook, error) {
	files, err := s.list(s.layout.NotebooksDir, func(rel string) bool {
		return strings.EqualFold(path.Ext(rel), ".ipynb")
	})
	if err != nil {
		return nil, err
	}

	notebooks := make([]Notebook, 0, len(files))
	for _, f := range files {
		dir := path.Dir(f.RelPath)
		if dir == "." {
			dir = ""
		}
		notebooks = append(notebooks, Notebook{File: f, Dir: dir, DisplayName: f.Name()})
	}
	return notebooks, nil
}

// Binding attaches a notebook to its default lakehouse
type Binding struct {
	LakehouseID   string
	LakehouseName string
	WorkspaceID   string
	// Known lists every lakehouse the notebook may reference
	Known []string
}

// BindNotebook sets the notebook's default lakehouse and substitutes {{TOKEN}}
// placeholders in cell sources. It returns the placeholders that had no value.
func BindNotebook(content []byte, binding Binding, values map[string]string) ([]byte, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var nb map[string]interface{}
	if err := dec.Decode(&nb); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeArtifactInvalid, "notebook is not valid ipynb JSON")
	}

	metadata, _ := nb["metadata"].(map[string]interface{})
	if metadata == nil {
		metadata = map[string]interface{}{}
		nb["metadata"] = metadata
	}
	deps, _ := metadata["dependencies"].(map[string]interface{})
	if deps == nil {
		deps = map[string]interface{}{}
		metadata["dependencies"] = deps
	}

	if binding.LakehouseID != "" {
		known := []map[string]string{{"id": binding.LakehouseID}}
		for _, id := range binding.Known {
			if id != "" && id != binding.LakehouseID {
				known = append(known, map[string]string{"id": id})
			}
		}
		deps["lakehouse"] = map[string]interface{}{
			"default_lakehouse":              binding.LakehouseID,
			"default_lakehouse_name":         binding.LakehouseName,
			"default_lakehouse_workspace_id": binding.WorkspaceID,
			"known_lakehouses":               known,
		}
	}

	var unresolved []string
	cells, _ := nb["cells"].([]interface{})
	for _, c := range cells {
		cell, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		switch src := cell["source"].(type) {
		case string:
			out, missing := tokenize.ReplaceText(src, values)
			cell["source"] = out
			unresolved = appendMissing(unresolved, missing)
		case []interface{}:
			for i, line := range src {
				if s, ok := line.(string); ok {
					out, missing := tokenize.ReplaceText(s, values)
					src[i] = out
					unresolved = appendMissing(unresolved, missing)
				}
			}
		}
	}

	out, err := json.MarshalIndent(nb, "", " ")
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode notebook")
	}
	return out, unresolved, nil
}

func appendMissing(list, missing []string) []string {
	for _, m := range missing {
		seen := false
		for _, existing := range list {
			if existing == m {
				seen = true
				break
			}
		}
		if !seen {
			list = append(list, m)
		}
	}
	return list
}
