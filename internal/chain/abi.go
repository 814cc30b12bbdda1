package chain

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abis/*.json
var embedded embed.FS

// loadABI parses the ABI at path, or the embedded fallback when path is
// empty or unreadable.
func loadABI(path, fallback string) (abi.ABI, error) {
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			raw = artifactABI(raw)
			parsed, err := abi.JSON(bytes.NewReader(raw))
			if err != nil {
				return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
			}
			return parsed, nil
		}
	}
	raw, err := embedded.ReadFile("abis/" + fallback)
	if err != nil {
		return abi.ABI{}, err
	}
	return abi.JSON(bytes.NewReader(raw))
}

// artifactABI unwraps build artifacts of the form {"abi": [...]}.
func artifactABI(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var art struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(trimmed, &art); err != nil || len(art.ABI) == 0 {
		return raw
	}
	return art.ABI
}
