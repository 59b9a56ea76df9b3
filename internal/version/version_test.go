package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GitCommit)
	assert.NotEmpty(t, info.BuildDate)
	assert.NotEmpty(t, info.InstanceID)
	assert.NotEmpty(t, info.Hostname)

	again := GetInfo()
	assert.Equal(t, info.InstanceID, again.InstanceID, "instance ID is computed once")
	assert.Equal(t, info.Hostname, again.Hostname)
}

func TestInfoString(t *testing.T) {
	info := Info{Version: "1.2.3", GitCommit: "abc1234", BuildDate: "2026-02-21T10:00:00Z"}
	assert.Equal(t, "inkpost version 1.2.3 (commit: abc1234, built: 2026-02-21T10:00:00Z)", info.String())
}

func TestInfoShort(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{Info{Version: "v1.0.0", GitCommit: "abc1234def5678"}, "v1.0.0+abc1234"},
		{Info{Version: "v1.0.0", GitCommit: "abc"}, "v1.0.0+abc"},
		{Info{Version: "v1.0.0", GitCommit: "unknown"}, "v1.0.0"},
		{Info{Version: "unknown"}, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.info.Short())
	}
}

func TestInfoLogAttrs(t *testing.T) {
	attrs := Info{Version: "v2", GitCommit: "c", InstanceID: "i"}.LogAttrs()
	assert.Equal(t, []any{"service_version", "v2", "git_commit", "c", "instance_id", "i"}, attrs)
}

func TestGetHostname(t *testing.T) {
	assert.NotEmpty(t, getHostname())
}
