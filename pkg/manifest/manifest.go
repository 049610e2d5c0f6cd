// Package manifest loads and inspects SDL deployment manifests.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aymerick/raymond"
	"github.com/ghodss/yaml"
	yamlv2 "gopkg.in/yaml.v2"
)

// Variables are substituted into {{placeholders}} before the manifest is
// parsed.
type Variables map[string]interface{}

// VariablesFromSlice builds Variables from KEY=VAL command line arguments.
// A bare KEY becomes a boolean true.
func VariablesFromSlice(vars []string) Variables {
	tv := Variables{}
	for _, keyval := range vars {
		tokens := strings.SplitN(keyval, "=", 2)
		switch len(tokens) {
		case 2: // KEY=VAL
			tv[tokens[0]] = tokens[1]
		case 1: // KEY
			tv[tokens[0]] = true
		default:
			continue
		}
	}

	return tv
}

// Manifest is a rendered SDL file ready for submission.
type Manifest struct {
	// Path is the file handed to the marketplace CLI. When templating
	// changed the source, this points at a rendered temp file instead of
	// the original.
	Path string

	// Rendered holds the manifest bytes after template substitution.
	Rendered []byte

	documents []json.RawMessage
}

// Load reads, templates and parses an SDL manifest. Every YAML document in
// the file must survive a YAML-to-JSON round trip so that downstream
// inspection and fingerprinting operate on canonical JSON.
func Load(path string, vars Variables) (*Manifest, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open file: %s", path, err)
	}

	rendered, err := render(file, vars)
	if err != nil {
		errMsg := strings.ReplaceAll(err.Error(), "\n", ": ")
		return nil, fmt.Errorf("%s: %s", path, errMsg)
	}

	documents, err := documentsAsJSON(rendered)
	if err != nil {
		errMsg := strings.ReplaceAll(err.Error(), "\n", ": ")
		return nil, fmt.Errorf("%s: %s", path, errMsg)
	}
	if len(documents) == 0 {
		return nil, fmt.Errorf("%s: no documents in manifest", path)
	}

	m := &Manifest{
		Path:      path,
		Rendered:  rendered,
		documents: documents,
	}

	if !bytes.Equal(rendered, file) {
		if err := m.writeRendered(); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// writeRendered persists the templated manifest so the external CLI can
// read it.
func (m *Manifest) writeRendered() error {
	tmp, err := os.CreateTemp("", "sdl-*.yml")
	if err != nil {
		return fmt.Errorf("write rendered manifest: %s", err)
	}
	if _, err := tmp.Write(m.Rendered); err != nil {
		tmp.Close()
		return fmt.Errorf("write rendered manifest: %s", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write rendered manifest: %s", err)
	}
	m.Path = tmp.Name()
	return nil
}

// Fingerprint is the hex sha256 over the canonical JSON documents. Two
// manifests that differ only in YAML formatting or key order fingerprint
// identically.
func (m *Manifest) Fingerprint() string {
	sum := sha256.New()
	for _, doc := range m.documents {
		sum.Write(doc)
		sum.Write([]byte{'\n'})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// sdlProfiles mirrors the slice of the SDL schema needed for GPU
// preference extraction: profiles.compute.<name>.resources.gpu.attributes.vendor.
type sdlProfiles struct {
	Profiles struct {
		Compute map[string]sdlComputeProfile `json:"compute"`
	} `json:"profiles"`
}

type sdlComputeProfile struct {
	Resources struct {
		GPU struct {
			Units      json.Number `json:"units"`
			Attributes struct {
				Vendor map[string][]sdlGPUModel `json:"vendor"`
			} `json:"attributes"`
		} `json:"gpu"`
	} `json:"resources"`
}

type sdlGPUModel struct {
	Model string `json:"model"`
}

// GPUPreferences extracts the ordered GPU model list declared in the
// manifest's compute profiles. Order within a profile's vendor list is
// preserved; profiles and vendors are visited in name order so the result
// is stable; duplicates collapse to their first position.
func (m *Manifest) GPUPreferences() []string {
	models := make([]string, 0)
	seen := make(map[string]bool)

	for _, doc := range m.documents {
		sdl := &sdlProfiles{}
		if err := json.Unmarshal(doc, sdl); err != nil {
			continue
		}
		for _, profile := range sortedKeys(sdl.Profiles.Compute) {
			vendors := sdl.Profiles.Compute[profile].Resources.GPU.Attributes.Vendor
			for _, vendor := range sortedKeys(vendors) {
				for _, entry := range vendors[vendor] {
					if entry.Model == "" || seen[entry.Model] {
						continue
					}
					seen[entry.Model] = true
					models = append(models, entry.Model)
				}
			}
		}
	}

	return models
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func render(data []byte, vars Variables) ([]byte, error) {
	if len(vars) == 0 {
		return data, nil
	}
	template, err := raymond.Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse template: %s", err)
	}

	output, err := template.Exec(vars)
	if err != nil {
		return nil, fmt.Errorf("execute template: %s", err)
	}

	return []byte(output), nil
}

func documentsAsJSON(rendered []byte) ([]json.RawMessage, error) {
	var content interface{}
	messages := make([]json.RawMessage, 0)

	decoder := yamlv2.NewDecoder(bytes.NewReader(rendered))
	for {
		err := decoder.Decode(&content)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		rawdocument, err := yamlv2.Marshal(content)
		if err != nil {
			return nil, err
		}

		data, err := yaml.YAMLToJSON(rawdocument)
		if err != nil {
			return nil, err
		}

		messages = append(messages, data)
	}

	return messages, nil
}
