package secrets

import "os"

// EnvLoader returns a Loader over the named environment variables. It backs
// the vault that feeds agent credentials (GH_TOKEN, agent API keys) into each
// sandbox run; unset or empty variables are left out of the result so the
// child environment never carries blank entries.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, key := range keys {
			if v, ok := os.LookupEnv(key); ok && v != "" {
				vals[key] = v
			}
		}
		return vals, nil
	}
}
