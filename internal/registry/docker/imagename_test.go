package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseImageName(t *testing.T) {
	tests := []struct {
		in           string
		wantRegistry string
		wantRepo     string
		wantTag      string
	}{
		{"python", DefaultRegistry, "library/python", "latest"},
		{"python:3.9-slim", DefaultRegistry, "library/python", "3.9-slim"},
		{"bitnami/redis", DefaultRegistry, "bitnami/redis", "latest"},
		{"someorg/legacy:1.0", DefaultRegistry, "someorg/legacy", "1.0"},
		{"ghcr.io/owner/app:v2", "ghcr.io", "owner/app", "v2"},
		{"localhost/app", "localhost", "app", "latest"},
		{"myreg.example.com:5000/team/app", "myreg.example.com:5000", "team/app", "latest"},
		{"ubuntu@sha256:deadbeef", DefaultRegistry, "library/ubuntu", "@sha256:deadbeef"},
		{"123456789.dkr.ecr.us-east-1.amazonaws.com/app:prod", "123456789.dkr.ecr.us-east-1.amazonaws.com", "app", "prod"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref := ParseImageName(tt.in)
			assert.Equal(t, tt.wantRegistry, ref.Registry)
			assert.Equal(t, tt.wantRepo, ref.Repo)
			assert.Equal(t, tt.wantTag, ref.TagOrDigest)
		})
	}
}

func TestParseScratch(t *testing.T) {
	ref := ParseImageName("scratch")
	assert.Equal(t, Scratch, ref.Registry)
	assert.Equal(t, Scratch, ref.Repo)
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"python", "library/python:latest"},
		{"python:3.9-slim", "library/python:3.9-slim"},
		{"someorg/legacy:1.0", "someorg/legacy:1.0"},
		{"bitnami/redis", "bitnami/redis:latest"},
		{"ghcr.io/owner/app", "ghcr.io/owner/app:latest"},
		{"ubuntu@sha256:deadbeef", "library/ubuntu@sha256:deadbeef"},
		{"scratch", "scratch"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonicalize(tt.in), tt.in)
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	inputs := []string{
		"python", "python:3.9", "bitnami/redis", "ghcr.io/o/a:v1",
		"myreg.example.com:5000/team/app", "ubuntu@sha256:deadbeef", "scratch",
	}
	for _, in := range inputs {
		once := Canonicalize(in)
		assert.Equal(t, once, Canonicalize(once), in)
	}
}
