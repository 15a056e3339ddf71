// Package driftgate is the Go client for the driftgate HTTP API. It
// submits observations for layered evaluation, reads per-subject drift
// state and history, and manages the rule layer set at runtime.
//
// Usage:
//
//	dg := driftgate.New("http://localhost:8420")
//	report, err := dg.Submit(ctx, "agent-7", driftgate.Payload{
//		{Name: "content", Value: "summarize the quarterly report"},
//		{Name: "quality_score", Value: 0.92},
//	})
//	if err != nil {
//		return err
//	}
//	if report.Decision() == driftgate.Block {
//		// quarantine the subject
//	}
package driftgate
