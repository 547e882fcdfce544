package main

import (
	"testing"

	"github.com/nsg-ethz/SIFT/internal/cmd"
)

func TestVersionDefaults(t *testing.T) {
	if Version == "" || BuildTime == "" {
		t.Error("version variables must have build-time defaults")
	}
	cmd.SetVersionInfo(Version, BuildTime)
}
