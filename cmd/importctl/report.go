package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kirillkom/docimport/internal/core/domain"
	"github.com/kirillkom/docimport/internal/core/ports"
)

type commitOutcome struct {
	record *domain.ImportRecord
	err    error
}

// commitAll commits successful, known extractions in batch order. Unknown or
// failed items get a zero outcome.
func commitAll(ctx context.Context, committer ports.ImportCommitter, results []domain.BatchResult, options domain.ImportOptions, actor string) []commitOutcome {
	out := make([]commitOutcome, len(results))
	for i, res := range results {
		if !res.Success || res.Extraction == nil || res.Extraction.IsUnknown() {
			continue
		}
		record, err := committer.Commit(ctx, *res.Extraction, options, actor)
		out[i] = commitOutcome{record: record, err: err}
	}
	return out
}

func writeReport(w io.Writer, results []domain.BatchResult, commits []commitOutcome) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tTYPE\tCONFIDENCE\tVENDOR\tIMPORT\tERROR")
	for i, res := range results {
		docType, confidence, vendor := "-", "-", "-"
		if res.Extraction != nil {
			docType = string(res.Extraction.DocumentType)
			confidence = fmt.Sprintf("%.2f", res.Extraction.Confidence)
			if m := res.Extraction.VendorMatch; m != nil && m.EntityName != "" {
				vendor = m.EntityName
				if m.Suggested {
					vendor += " (suggested)"
				}
			}
		}
		imported, errText := "-", ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		if i < len(commits) {
			imported, errText = describeCommit(commits[i], imported, errText)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", res.Source.Filename, docType, confidence, vendor, imported, errText)
	}

	s := domain.Summarize(results)
	fmt.Fprintf(tw, "\ntotal %d\tsucceeded %d\tfailed %d\tunknown %d\n", s.Total, s.Succeeded, s.Failed, s.Unknown)
	return tw.Flush()
}

func describeCommit(c commitOutcome, imported, errText string) (string, string) {
	var dup *domain.DuplicateImportError
	switch {
	case errors.As(c.err, &dup):
		if dup.Prior != nil {
			return "duplicate of " + dup.Prior.ID, errText
		}
		return "duplicate", errText
	case c.err != nil:
		return "failed", c.err.Error()
	case c.record != nil:
		return c.record.ID, errText
	}
	return imported, errText
}
