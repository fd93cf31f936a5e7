// Package export renders simulation reports as CSV, XLSX, or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/azmove/azmove/pkg/simulator"
)

// Columns is the result-sheet header, shared by the CSV and XLSX
// renderers so the two outputs stay column-compatible.
var Columns = []string{
	"SubscriptionID",
	"SourceGroup",
	"TargetGroup",
	"ResourceName",
	"ResourceType",
	"ResourceLocation",
	"ResourceID",
	"AssignmentName",
	"AssignmentScope",
	"InitiativeName",
	"PolicyName",
	"PolicyReferenceID",
	"RawEffect",
	"ResolvedEffect",
	"EffectTrail",
	"AssignmentParameters",
	"InitiativeParameters",
	"PolicyDefaults",
	"ComplianceState",
	"Violates",
	"Impact",
	"WaiverStatus",
	"ExemptionName",
	"ExemptionReason",
	"ExemptionExpiry",
}

// Row flattens one result into the column order of Columns.
func Row(r simulator.Result) []string {
	return []string{
		r.SubscriptionID,
		r.SourceGroup,
		r.TargetGroup,
		r.ResourceName,
		r.ResourceType,
		r.ResourceLocation,
		r.ResourceID,
		r.AssignmentName,
		r.AssignmentScope,
		r.InitiativeName,
		r.PolicyName,
		r.ReferenceID,
		r.RawEffect,
		string(r.ResolvedEffect),
		strings.Join(r.EffectTrail, "; "),
		r.AssignmentParams,
		r.InitiativeParams,
		r.PolicyDefaults,
		r.ComplianceState,
		strconv.FormatBool(r.Violates),
		r.Impact,
		r.WaiverStatus,
		r.ExemptionName,
		r.ExemptionReason,
		r.ExemptionExpiry,
	}
}

// WriteCSV renders the report's results as CSV with a header row.
func WriteCSV(w io.Writer, report *simulator.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range report.Results {
		if err := cw.Write(Row(r)); err != nil {
			return fmt.Errorf("failed to write CSV row for %s: %w", r.ResourceID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV output: %w", err)
	}
	return nil
}

// WriteJSON renders the full report, summaries included, as indented JSON.
func WriteJSON(w io.Writer, report *simulator.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
