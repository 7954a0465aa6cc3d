package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/stacksampler/internal/sys/proc"
	"github.com/coral-mesh/stacksampler/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("stacksampler version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
			cmd.Printf("Kernel: %s\n", proc.NewOS().KernelVersion())
		},
	}
}
