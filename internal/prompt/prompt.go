// Package prompt assembles the structured prompt used by /chat/structured.
package prompt

import "strings"

const DefaultRules = `RULES:
- Provide concise and accurate answers
- Use professional technical language
- Focus on practical information
- Keep responses under 3 sentences unless asked otherwise
- Always provide examples when relevant`

const DefaultContext = `
CONTEXT:
You are an AI assistant specialized in DevOps, MLOps, and cloud technologies.
Your expertise includes Docker, Kubernetes, monitoring systems, and API development.
You help developers understand and implement modern infrastructure solutions.`

// Build lays out rules, context and the user query. Empty rules or context fall
// back to the defaults.
func Build(query, rules, context string) string {
	if strings.TrimSpace(rules) == "" {
		rules = DefaultRules
	}
	if strings.TrimSpace(context) == "" {
		context = DefaultContext
	}

	var b strings.Builder
	b.Grow(len(rules) + len(context) + len(query) + 16)
	b.WriteString(rules)
	b.WriteString("\n\n")
	b.WriteString(context)
	b.WriteString("\n\nUSER QUERY:\n")
	b.WriteString(query)
	return b.String()
}
