// File: internal/cli/version.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-httpc/client"
)

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version string `json:"version"`
	Go      string `json:"go"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

func (v VersionInfo) String() string {
	return "httpc " + v.Version + " (" + v.Go + " " + v.OS + "/" + v.Arch + ")"
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Emit(VersionInfo{
				Version: client.Version,
				Go:      runtime.Version(),
				OS:      runtime.GOOS,
				Arch:    runtime.GOARCH,
			})
		},
	}
}
