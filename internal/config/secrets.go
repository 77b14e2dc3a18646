package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecret reads envName, preferring the file named by envName_FILE
// when that is set. Surrounding whitespace is trimmed from file contents.
// Neither being set yields "".
func ResolveSecret(envName string) (string, error) {
	fileEnv := envName + "_FILE"
	if path := os.Getenv(fileEnv); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			// The path is reported, never the contents.
			return "", fmt.Errorf("read %s=%s: %w", fileEnv, path, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return os.Getenv(envName), nil
}

// ProgramSecret returns the key every seed address is derived from. It is
// never read from the yaml file. A blank secret is refused.
func ProgramSecret() ([]byte, error) {
	s, err := ResolveSecret(SecretEnv)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%s or %s_FILE must be set", SecretEnv, SecretEnv)
	}
	return []byte(s), nil
}
