// Package report prints deployment progress and the final summary for the
// operator.
package report

import (
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/Bidon15/stakedeploy/internal/deployer"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Console prints one line per step transition. It is a deployer.Observer.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

var _ deployer.Observer = (*Console)(nil)

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Banner prints the run header.
func (c *Console) Banner(network string) {
	c.printf("=== %s Network Deployment ===\n", network)
}

func (c *Console) StepStarted(step deployer.Step) {
	c.printf("Deploying %s...\n", step.Contract)
}

func (c *Console) StepCompleted(res deployer.Result) {
	if res.Status == deployer.StatusReused {
		c.printf("%s reused at: %s (%s)\n", res.Contract, res.Address.Hex(), yellow("journal"))
		return
	}
	c.printf("%s deployed to: %s took %d ms\n", res.Contract, res.Address.Hex(), res.Timing.Elapsed.Milliseconds())
}

func (c *Console) StepFailed(step deployer.Step, err error) {
	c.printf("%s %s: %v\n", red("FAILED"), step.Contract, err)
}

func (c *Console) printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// WriteSummary renders the results of a run as a table.
func WriteSummary(w io.Writer, out *deployer.Outcome) {
	if out == nil || len(out.Results) == 0 {
		fmt.Fprintln(w, "No contracts deployed.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Step", "Contract", "Address", "Implementation", "Status", "Gas Used", "Took (ms)"})
	table.SetAutoWrapText(false)
	for _, r := range out.Results {
		impl := ""
		if r.Kind == deployer.KindProxy {
			impl = r.Implementation.Hex()
		}
		table.Append([]string{
			r.Step,
			r.Contract,
			r.Address.Hex(),
			impl,
			status(r.Status),
			strconv.FormatUint(r.GasUsed, 10),
			strconv.FormatInt(r.Timing.Elapsed.Milliseconds(), 10),
		})
	}
	table.Render()
	fmt.Fprintf(w, "Run %s\n", out.RunID)
}

func status(s deployer.Status) string {
	switch s {
	case deployer.StatusConfirmed:
		return green(string(s))
	case deployer.StatusReused:
		return yellow(string(s))
	}
	return string(s)
}
