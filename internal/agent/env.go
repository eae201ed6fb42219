package agent

import "strings"

// Env var names delivered to every spawned child per the host's process
// environment contract: the CA bundle trusting the interception mint, the
// preload-library path gating syscall interception (Linux only, ignored
// elsewhere), and the flags toggling interception categories.
const (
	EnvCABundle            = "SIMHOST_CA_BUNDLE"
	EnvPreloadLibrary      = "SIMHOST_PRELOAD_LIBRARY"
	EnvInterceptNetwork    = "SIMHOST_INTERCEPT_NETWORK"
	EnvInterceptFilesystem = "SIMHOST_INTERCEPT_FILESYSTEM"
	EnvInterceptProcess    = "SIMHOST_INTERCEPT_PROCESS"

	// MockAPIKeyValue is the placeholder credential handed to a child for
	// every routed service; the mock upstreams this host forwards to do
	// not check it.
	MockAPIKeyValue = "sim-mock-api-key"
)

// ServiceBaseURLEnvVar derives the per-service base-URL env var name for a
// routed domain, e.g. "api.openai.com" -> "SIMHOST_SERVICE_API_OPENAI_COM_BASE_URL".
func ServiceBaseURLEnvVar(domain string) string {
	return "SIMHOST_SERVICE_" + envSafe(domain) + "_BASE_URL"
}

// ServiceAPIKeyEnvVar derives the per-service mock API key env var name for
// a routed domain.
func ServiceAPIKeyEnvVar(domain string) string {
	return "SIMHOST_SERVICE_" + envSafe(domain) + "_API_KEY"
}

// envSafe upper-cases domain and replaces every non-alphanumeric rune with
// an underscore so it can be embedded in an env var name.
func envSafe(domain string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(domain) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
