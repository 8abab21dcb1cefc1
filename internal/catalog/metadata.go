// Package catalog resolves study sources to their on-disk roots and exposes
// the study listing, merging bundled and cached studies with the remote
// release store.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MetadataFile is the optional descriptor at the root of each study folder.
const MetadataFile = "metadata.json"

// ErrMalformedMetadata marks a metadata.json that exists but cannot be
// parsed.
var ErrMalformedMetadata = errors.New("malformed metadata.json")

// Metadata describes one study. Only Source is guaranteed; every other
// field is optional and independently absent.
type Metadata struct {
	Source      string              `json:"source" jsonschema:"description=Study source name; matches the study folder name"`
	Description string              `json:"description,omitempty" jsonschema:"description=Human-readable study summary"`
	Domains     map[string][]string `json:"domains,omitempty" jsonschema:"description=Domain name to ordered dataset names"`
	NSubjects   int                 `json:"n_subjects,omitempty" jsonschema:"description=Number of subjects in the study"`
	Version     string              `json:"version,omitempty" jsonschema:"description=Release tag the study was downloaded from"`
	License     string              `json:"license,omitempty" jsonschema:"description=Data license identifier"`
	SourceURL   string              `json:"source_url,omitempty" jsonschema:"description=Upstream URL for the study"`
}

// LoadMetadata reads the study's metadata.json. A missing file is reported
// via os.IsNotExist on the returned error; a present-but-unparseable file is
// fatal.
func LoadMetadata(studyRoot string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(studyRoot, MetadataFile))
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrMalformedMetadata, studyRoot, err)
	}
	if m.Source == "" {
		m.Source = filepath.Base(studyRoot)
	}
	return &m, nil
}
