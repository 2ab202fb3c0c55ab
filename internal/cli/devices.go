package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rtcdoctor/internal/probe"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List capture devices and host capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if err := checkFormat(format); err != nil {
			return err
		}

		devices, err := appInstance.Host.Enumerate(cmd.Context())
		if err != nil {
			return err
		}
		caps := appInstance.Host.Capabilities()

		if format != formatTable {
			if devices == nil {
				devices = []probe.Device{}
			}
			return writeValue(cmd.OutOrStdout(), format, map[string]any{
				"devices": devices,
				"capabilities": map[string]bool{
					"media": caps.Media,
					"rtc":   caps.RTC,
				},
			})
		}

		fmt.Printf("Media capture tools: %s\n", yesNo(caps.Media))
		fmt.Printf("UDP networking:      %s\n", yesNo(caps.RTC))
		fmt.Println()

		if len(devices) == 0 {
			fmt.Printf("No capture devices under %s\n", appInstance.Devices.Root())
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tID\tLABEL\tPATH")
		fmt.Fprintln(w, "----\t--\t-----\t----")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Kind, d.ID, d.Label, d.Path)
		}
		w.Flush()
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "available"
	}
	return "unavailable"
}

func init() {
	devicesCmd.Flags().StringP("format", "o", formatTable, "output format (table, json, yaml)")
	rootCmd.AddCommand(devicesCmd)
}
