package script

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type fileFormat struct {
	Steps []Step `toml:"step"`
}

// LoadFile reads a script definition from a TOML file of [[step]] tables:
//
//	[[step]]
//	id = "greeting"
//	title = "Greeting"
//	description = "Greet the client"
//	keywords = ["bonjour", "hello"]
//	required = true
func LoadFile(path string) (*Definition, error) {
	var f fileFormat
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("decode script file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("script file %q: unknown key %q", path, undecoded[0].String())
	}
	d, err := NewDefinition(f.Steps)
	if err != nil {
		return nil, fmt.Errorf("script file %q: %w", path, err)
	}
	return d, nil
}

// Parse decodes a script definition from TOML text.
func Parse(data string) (*Definition, error) {
	var f fileFormat
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return NewDefinition(f.Steps)
}
