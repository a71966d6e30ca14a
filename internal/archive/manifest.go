package archive

import (
	"encoding/json"
	"fmt"
	"os"
)

// Manifest is the subset of a data archive's manifest.js the importer needs:
// who the archive belongs to and which files hold the direct messages.
type Manifest struct {
	UserInfo struct {
		AccountID string `json:"accountId"`
		UserName  string `json:"userName"`
	} `json:"userInfo"`
	DataTypes struct {
		DirectMessages      ManifestDataType `json:"directMessages"`
		DirectMessagesGroup ManifestDataType `json:"directMessagesGroup"`
	} `json:"dataTypes"`
}

type ManifestDataType struct {
	Files []ManifestFile `json:"files"`
}

type ManifestFile struct {
	FileName string `json:"fileName"`
}

// ReadManifest loads a manifest.js file. The manifest is small, so unlike the
// message files it is decoded in one shot after skipping the js prefix.
func ReadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br, err := skipPrefix(f)
	if err != nil {
		return nil, fmt.Errorf("archive: reading manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.NewDecoder(br).Decode(&m); err != nil {
		return nil, fmt.Errorf("archive: reading manifest %s: %w", path, err)
	}
	return &m, nil
}
