package resources_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delinoio/delidev/internal/resources"
)

func TestParseMemoryLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512m", 512 * (1 << 20)},
		{"2g", 2 * (1 << 30)},
		{"1024k", 1024 * (1 << 10)},
	}
	for _, tc := range cases {
		got, err := resources.ParseMemoryLimit(tc.in)
		require.NoErrorf(t, err, "input %q", tc.in)
		assert.Equalf(t, tc.want, got, "input %q", tc.in)
	}

	_, err := resources.ParseMemoryLimit("not-a-number")
	assert.Error(t, err)
}

func TestParseCPULimit(t *testing.T) {
	t.Parallel()

	quota, period, err := resources.ParseCPULimit("0.5")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), quota)
	assert.Equal(t, int64(100000), period)

	quota, period, err = resources.ParseCPULimit("")
	require.NoError(t, err)
	assert.Zero(t, quota)
	assert.Zero(t, period)

	_, _, err = resources.ParseCPULimit("not-a-number")
	assert.Error(t, err)
}
