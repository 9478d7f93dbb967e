package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials groups API keys and tool ids by section, mirroring the
// credentials YAML file:
//
//	API_Keys:
//	  OpenAI: "sk-..."
//	  Google_Search: "..."
//	Online_Tool_ID:
//	  Google_CSE: "..."
type Credentials map[string]map[string]string

// LoadCredentials reads and parses a credentials file. Values support the
// same {{.VAR}} environment expansion as composer.yaml.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	data = ExpandEnv(data)

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return creds, nil
}

// Lookup returns the value under group/key.
func (c Credentials) Lookup(group, key string) (string, bool) {
	values, ok := c[group]
	if !ok {
		return "", false
	}
	v, ok := values[key]
	return v, ok
}
