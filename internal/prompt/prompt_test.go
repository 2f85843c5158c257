package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuild_Defaults(t *testing.T) {
	got := Build("What is a pod?", "", "  ")

	require.True(t, strings.HasPrefix(got, DefaultRules+"\n\n"))
	require.Contains(t, got, DefaultContext)
	require.True(t, strings.HasSuffix(got, "\n\nUSER QUERY:\nWhat is a pod?"))
}

func TestBuild_Custom(t *testing.T) {
	got := Build("q", "RULES: be brief", "CONTEXT: school")
	require.Equal(t, "RULES: be brief\n\nCONTEXT: school\n\nUSER QUERY:\nq", got)
}
