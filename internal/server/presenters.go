package server

import (
	collectiondomain "github.com/smallbiznis/bursar/internal/collection/domain"
	feecatalogdomain "github.com/smallbiznis/bursar/internal/feecatalog/domain"
	feesummarydomain "github.com/smallbiznis/bursar/internal/feesummary/domain"
	"github.com/smallbiznis/bursar/pkg/money"
)

// Amounts stay in minor units on the wire; the *_display fields carry the
// formatted decimal for clients that only render.

type catalogEntryView struct {
	feecatalogdomain.FeeCatalogEntry
	TuitionDisplay       string `json:"tuition_amount_display"`
	SupplementaryDisplay string `json:"supplementary_amount_display"`
	TotalDisplay         string `json:"total_amount_display"`
}

func presentCatalogEntry(entry feecatalogdomain.FeeCatalogEntry) catalogEntryView {
	return catalogEntryView{
		FeeCatalogEntry:      entry,
		TuitionDisplay:       money.Format(entry.TuitionAmount),
		SupplementaryDisplay: money.Format(entry.SupplementaryAmount),
		TotalDisplay:         money.Format(entry.Total()),
	}
}

func presentCatalogEntries(entries []feecatalogdomain.FeeCatalogEntry) []catalogEntryView {
	out := make([]catalogEntryView, 0, len(entries))
	for _, entry := range entries {
		out = append(out, presentCatalogEntry(entry))
	}
	return out
}

type snapshotView struct {
	*feesummarydomain.Snapshot
	TotalFeeDisplay  string `json:"total_fee_amount_display"`
	TotalPaidDisplay string `json:"total_paid_amount_display"`
	DueDisplay       string `json:"due_amount_display"`
}

func presentSnapshot(snap *feesummarydomain.Snapshot) snapshotView {
	return snapshotView{
		Snapshot:         snap,
		TotalFeeDisplay:  money.Format(snap.TotalFeeAmount),
		TotalPaidDisplay: money.Format(snap.TotalPaidAmount),
		DueDisplay:       money.Format(snap.DueAmount),
	}
}

func presentSnapshots(snaps []*feesummarydomain.Snapshot) []snapshotView {
	out := make([]snapshotView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, presentSnapshot(snap))
	}
	return out
}

type collectionResultView struct {
	*collectiondomain.Result
	DueDisplay string `json:"due_amount_display"`
}

func presentCollectionResult(res *collectiondomain.Result) collectionResultView {
	return collectionResultView{
		Result:     res,
		DueDisplay: money.Format(res.DueAmount),
	}
}
