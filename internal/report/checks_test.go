package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Bidon15/stakedeploy/internal/preflight"
)

func TestWriteChecks(t *testing.T) {
	var buf bytes.Buffer
	WriteChecks(&buf, &preflight.Response{
		OK: false,
		Checks: []preflight.CheckResult{
			{Name: preflight.CheckFeePolicy, Passed: true, Message: "fee cap covers base fee"},
			{Name: preflight.CheckDeployerBalance, Passed: false, Message: "insufficient balance"},
		},
		DeployerAddress:    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		RequiredFundingETH: "1",
		CurrentBalanceETH:  "0.5",
	})

	out := buf.String()
	assert.Contains(t, out, "CHECK")
	assert.Contains(t, out, "fee_policy")
	assert.Contains(t, out, "PASS")
	assert.Contains(t, out, "deployer_balance")
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "insufficient balance")
	assert.Contains(t, out, "Deployer 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 needs 1 ETH, has 0.5 ETH\n")
}

func TestWriteChecks_NoBalance(t *testing.T) {
	var buf bytes.Buffer
	WriteChecks(&buf, &preflight.Response{DeployerAddress: "0xabc", RequiredFundingETH: "1"})
	assert.Contains(t, buf.String(), "Deployer 0xabc needs 1 ETH\n")
}
