package domain_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delinoio/delidev/internal/domain"
)

func TestValidateBranchName(t *testing.T) {
	t.Parallel()

	valid := []string{
		"feature/add-readme",
		"delidev/planning/abc123",
		"fix-bug",
		"a",
	}
	for _, name := range valid {
		assert.NoErrorf(t, domain.ValidateBranchName(name), "expected %q to be valid", name)
	}

	invalid := []string{
		"",
		"-leading-dash",
		".leading-dot",
		"trailing-dot.",
		"trailing-slash/",
		"has..dots",
		"has//slashes",
		"has@{at-brace",
		"has space",
		"has~tilde",
		"has^caret",
		"has:colon",
		"has?question",
		"has*star",
		"has[bracket",
		"ends.lock",
		"@",
	}
	for _, name := range invalid {
		assert.Errorf(t, domain.ValidateBranchName(name), "expected %q to be invalid", name)
	}
}

func TestMakeUniqueBranchName(t *testing.T) {
	t.Parallel()

	suffixPattern := regexp.MustCompile(`-[0-9a-f]{8}$`)

	unique, err := domain.MakeUniqueBranchName("feature/add-readme")
	require.NoError(t, err)
	assert.Regexp(t, suffixPattern, unique)
	assert.NoError(t, domain.ValidateBranchName(unique))

	_, err = domain.MakeUniqueBranchName("")
	assert.Error(t, err)
}

func TestMakeUniqueBranchName_Distinct(t *testing.T) {
	t.Parallel()

	a, err := domain.MakeUniqueBranchName("task")
	require.NoError(t, err)
	b, err := domain.MakeUniqueBranchName("task")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
