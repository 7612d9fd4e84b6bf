// ld9 cross-links a statically linked Mach-O executable into a Plan 9
// a.out binary. Compile with clang or any Mach-O toolchain, target the
// Plan 9 ABI and syscalls, then run the result through ld9.
package main

import (
	"fmt"
	"os"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/machlink/ld9"
)

var targets = map[string]ld9.AoutMagic{
	"386":   ld9.Magic386,
	"arm":   ld9.MagicARM,
	"amd64": ld9.MagicAMD64,
	"arm64": ld9.MagicARM64,
}

func init() {
	log.SetHandler(clihandler.Default)

	rootCmd.Flags().StringP("output", "o", "aout9", "Path of the Plan 9 executable to write")
	rootCmd.Flags().StringP("target", "t", "386", "Target Plan 9 architecture (386, arm, amd64, arm64)")
	rootCmd.Flags().BoolP("verbose", "V", false, "Dump segments and entry point while translating")
	rootCmd.Flags().Bool("no-color", false, "Disable colorized output")
}

var rootCmd = &cobra.Command{
	Use:           "ld9 <macho>",
	Short:         "Cross-link a static Mach-O executable to a Plan 9 a.out",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		target, _ := cmd.Flags().GetString("target")
		verbose, _ := cmd.Flags().GetBool("verbose")
		noColor, _ := cmd.Flags().GetBool("no-color")

		color.NoColor = noColor
		if verbose {
			log.SetLevel(log.DebugLevel)
		}

		magic, ok := targets[target]
		if !ok {
			return fmt.Errorf("unknown target %q (want 386, arm, amd64 or arm64)", target)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		unit, err := ld9.Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		var text, data9 uint64
		for _, s := range unit.Segments {
			log.Debugf("%s %s addr=%#09x-%#09x off=%#08x filesz=%s",
				s.Prot, color.New(color.Bold).Sprintf("%-16s", s.Name),
				s.Addr, s.Addr+s.Memsz, s.Offset, humanize.Bytes(s.Filesz))
			switch {
			case s.Prot.Execute():
				text += s.Filesz
			case s.Prot.Write():
				data9 += s.Filesz
			}
		}
		log.Debugf("entry %#x", unit.Entry)

		aout, err := ld9.EmitFor(unit, magic)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		if err := os.WriteFile(output, aout, 0o755); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"text": humanize.Bytes(text),
			"data": humanize.Bytes(data9),
		}).Infof("wrote %s", output)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
