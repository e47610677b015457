package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/Bidon15/stakedeploy/internal/preflight"
)

// WriteChecks renders pre-flight results followed by the funding line.
func WriteChecks(w io.Writer, resp *preflight.Response) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Check", "Result", "Message"})
	table.SetAutoWrapText(false)
	for _, c := range resp.Checks {
		result := green("PASS")
		if !c.Passed {
			result = red("FAIL")
		}
		table.Append([]string{string(c.Name), result, c.Message})
	}
	table.Render()

	fmt.Fprintf(w, "Deployer %s needs %s ETH", resp.DeployerAddress, resp.RequiredFundingETH)
	if resp.CurrentBalanceETH != "" {
		fmt.Fprintf(w, ", has %s ETH", resp.CurrentBalanceETH)
	}
	fmt.Fprintln(w)
}
