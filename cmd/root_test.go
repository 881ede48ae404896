package cmd

import (
	"bytes"
	"fmt"
	"testing"

	"oneiric/internal/api"
)

func TestVersionCommandExecution(t *testing.T) {
	testVersion := "1.2.3-test"
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()
	rootCmd.Version = testVersion

	versionCmd := newVersionCmd()
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, []string{})

	expected := "oneiric version " + testVersion + "\n"
	if buf.String() != expected {
		t.Errorf("Expected output %q, got %q", expected, buf.String())
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "generic error",
			err:  fmt.Errorf("something broke"),
			want: ExitCodeError,
		},
		{
			name: "candidate not found",
			err:  api.NewCandidateNotFoundError(api.DomainService, "status", ""),
			want: ExitCodeNotFound,
		},
		{
			name: "remote sync failure",
			err:  api.NewRemoteSyncError(api.RemoteSyncNetwork, "http://example.invalid", "unreachable", nil),
			want: ExitCodeRemoteSync,
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("applying selection: %w", api.NewNotFoundError("candidate", "adapter/cache")),
			want: ExitCodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getExitCode(tt.err); got != tt.want {
				t.Errorf("getExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	expected := []string{"serve", "sync", "explain", "status", "version"}
	for _, name := range expected {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected subcommand %q to be registered", name)
		}
	}
}
