// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/streetlapse/hyperlapse/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
