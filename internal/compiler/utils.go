package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aretw0/menuflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Utils is the globally available flow-utils document.
type Utils struct {
	// Middlewares are kept raw: each provider decodes its own configuration.
	Middlewares  []map[string]any     `yaml:"middlewares"`
	EmailServers []domain.EmailServer `yaml:"email_servers"`
}

// LoadUtils reads the flow-utils document. A missing file is not an error:
// it means no middlewares and no email servers are configured. The second return
// value reports whether the file was found.
func LoadUtils(path string) (*Utils, bool, error) {
	if path == "" {
		return &Utils{}, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Utils{}, false, nil
		}
		return nil, false, fmt.Errorf("failed to read flow utils: %w", err)
	}

	var utils Utils
	if err := yaml.Unmarshal(data, &utils); err != nil {
		return nil, true, fmt.Errorf("failed to parse flow utils: %w", err)
	}
	return &utils, true, nil
}

// EmailServer returns the server with the given id.
func (u *Utils) EmailServer(id string) (domain.EmailServer, bool) {
	for _, s := range u.EmailServers {
		if s.ServerID == id {
			return s, true
		}
	}
	return domain.EmailServer{}, false
}
