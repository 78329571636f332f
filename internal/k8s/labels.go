package k8s

import (
	"strings"

	"github.com/Violet-Site-Systems/VEXEL-sub003/pkg/types"
)

const (
	// AgentLabel is the pod label carrying the sanitized agent ID.
	AgentLabel = "maestro.io/agent"

	// Agent metadata keys that override pod selection.
	MetadataSelector  = "k8s.selector"
	MetadataNamespace = "k8s.namespace"
)

// AgentSelector returns the namespace and label selector for an agent's
// pods. Metadata overrides win over the default agent label.
func AgentSelector(agent *types.RegisteredAgent) (namespace, selector string) {
	namespace = agent.Metadata[MetadataNamespace]
	if s := agent.Metadata[MetadataSelector]; s != "" {
		return namespace, s
	}
	return namespace, AgentLabel + "=" + sanitizeK8sLabel(agent.ID)
}

func sanitizeK8sLabel(value string) string {
	// Label values must be 63 chars or less, alphanumeric, -, _, .
	var result strings.Builder
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' {
			result.WriteRune(r)
		}
	}
	s := result.String()
	if len(s) > 63 {
		s = s[:63]
	}
	// Must start and end with an alphanumeric character
	return strings.Trim(s, "-_.")
}
