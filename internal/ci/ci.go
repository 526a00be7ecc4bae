// Package ci detects whether the process runs inside a continuous-integration environment.
package ci

import (
	"strings"

	"github.com/codex-k8s/migratectl/internal/env"
)

// Detection is the result of inspecting the environment for CI markers.
type Detection struct {
	// CI is true when a CI environment was detected.
	CI bool
	// Vendor names the detected CI system, or "generic" when only a generic marker was found.
	Vendor string
}

// vendorMarkers maps a variable set by a CI system to its name.
var vendorMarkers = []struct {
	key    string
	vendor string
}{
	{"GITHUB_ACTIONS", "github-actions"},
	{"GITLAB_CI", "gitlab"},
	{"CIRCLECI", "circleci"},
	{"JENKINS_URL", "jenkins"},
	{"BUILDKITE", "buildkite"},
	{"TEAMCITY_VERSION", "teamcity"},
	{"TRAVIS", "travis"},
	{"TF_BUILD", "azure-pipelines"},
	{"BITBUCKET_BUILD_NUMBER", "bitbucket"},
	{"DRONE", "drone"},
	{"CODEBUILD_BUILD_ID", "codebuild"},
}

// genericMarkers are variables many CI systems set regardless of vendor.
var genericMarkers = []string{"CI", "CONTINUOUS_INTEGRATION", "BUILD_NUMBER", "RUN_ID"}

// Detect inspects vars for CI markers. An explicit CI=false (or 0) disables detection.
func Detect(vars env.Vars) Detection {
	if v, ok := vars.Lookup("CI"); ok && isFalse(v) {
		return Detection{}
	}

	for _, m := range vendorMarkers {
		if vars.Present(m.key) {
			return Detection{CI: true, Vendor: m.vendor}
		}
	}
	for _, key := range genericMarkers {
		v, ok := vars.Lookup(key)
		if ok && strings.TrimSpace(v) != "" && !isFalse(v) {
			return Detection{CI: true, Vendor: "generic"}
		}
	}
	return Detection{}
}

func isFalse(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return true
	}
	return false
}
