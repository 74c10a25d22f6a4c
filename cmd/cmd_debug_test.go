// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePolylines(t *testing.T) {
	input := strings.NewReader("_p~iF~ps|U_ulLnnqC_mqNvxq`@\n\n_p~iF\n")

	var out bytes.Buffer
	require.NoError(t, decodePolylines(input, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	assert.Equal(t, "0000\t38.500000,-120.200000\t345.52", lines[0])
	assert.Equal(t, "0001\t40.700000,-120.950000\t303.78", lines[1])
	assert.Equal(t, "0002\t43.252000,-126.453000\t303.78", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "_p~iF\t"), lines[3])
}

func TestDebugBearing(t *testing.T) {
	var out bytes.Buffer

	debugBearingCmd.SetOut(&out)
	t.Cleanup(func() { debugBearingCmd.SetOut(nil) })

	require.NoError(t, debugBearingCmd.RunE(debugBearingCmd, []string{"0", "0", "0", "1"}))
	assert.Equal(t, "90.0000\t111194.9 m\n", out.String())

	err := debugBearingCmd.RunE(debugBearingCmd, []string{"0", "0", "91", "0"})
	assert.ErrorContains(t, err, "out of range")

	err = debugBearingCmd.RunE(debugBearingCmd, []string{"0", "0", "north", "0"})
	assert.ErrorContains(t, err, "invalid coordinate")
}
