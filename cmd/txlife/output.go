package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rovshanmuradov/txlife/internal/transaction"
)

type outcome struct {
	Handle        string      `json:"handle,omitempty"`
	Method        string      `json:"method"`
	State         string      `json:"state"`
	Block         uint64      `json:"block,omitempty"`
	Confirmations uint64      `json:"confirmations,omitempty"`
	Fee           uint64      `json:"fee,omitempty"`
	ErrorKind     string      `json:"error_kind,omitempty"`
	Error         string      `json:"error,omitempty"`
	Data          interface{} `json:"data,omitempty"`
}

type report struct {
	Outcomes     []outcome `json:"outcomes"`
	Finalized    int       `json:"finalized"`
	Failed       int       `json:"failed"`
	FirstFailure string    `json:"first_failure,omitempty"`
}

func outcomeOf(tx *transaction.Transaction) outcome {
	out := outcome{
		Handle:        tx.Handle().String(),
		Method:        tx.Payload().Method,
		State:         tx.State().String(),
		Block:         tx.Block().Number,
		Confirmations: tx.Confirmations(),
	}
	if fee, ok := tx.Fee(); ok {
		out.Fee = fee
	}
	if err := tx.Err(); err != nil {
		out.Error = err.Error()
		var classified *transaction.Error
		if errors.As(err, &classified) {
			out.ErrorKind = classified.Kind.String()
		}
	}
	return out
}

func newReport(outcomes []outcome) report {
	r := report{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.State {
		case transaction.StateFinalized.String():
			r.Finalized++
		case transaction.StateError.String():
			r.Failed++
		}
	}
	return r
}

func writeReport(w io.Writer, r report, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tMETHOD\tSTATE\tBLOCK\tCONF\tFEE\tERROR")
	for _, o := range r.Outcomes {
		handle := o.Handle
		if handle == "" {
			handle = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			handle, o.Method, o.State, o.Block, o.Confirmations, o.Fee, o.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%d finalized, %d failed\n", r.Finalized, r.Failed)
	if r.FirstFailure != "" {
		fmt.Fprintf(w, "first failure: %s\n", r.FirstFailure)
	}
	return nil
}
