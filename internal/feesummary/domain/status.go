package domain

import (
	"fmt"

	ledgerdomain "github.com/smallbiznis/bursar/internal/ledger/domain"
	rosterdomain "github.com/smallbiznis/bursar/internal/roster/domain"
)

// TermCounter resolves a grade tier to the number of terms it is billed for.
type TermCounter interface {
	TermCount(tier string) (int, bool)
}

// Summarize folds a student's current obligations into a snapshot.
// balances must already be limited to the student's current grade and year.
func Summarize(student rosterdomain.StudentRow, balances []*ledgerdomain.ObligationBalance, counter TermCounter) Snapshot {
	snap := Snapshot{
		StudentID:       student.ID,
		AdmissionNumber: student.AdmissionNumber,
		StudentName:     student.Name,
		GradeID:         student.GradeID,
		GradeName:       student.GradeName,
		ClassID:         student.ClassID,
		ClassName:       student.ClassName,
		AcademicYear:    student.AcademicYear,
		Terms:           make([]TermBalance, 0, len(balances)),
	}

	for _, b := range balances {
		if b == nil {
			continue
		}
		due := b.Due()
		snap.Terms = append(snap.Terms, TermBalance{
			ObligationID:        b.ID,
			Term:                b.Term,
			TuitionAmount:       b.TuitionAmount,
			SupplementaryAmount: b.SupplementaryAmount,
			TotalFeeAmount:      b.TotalFee(),
			PaidAmount:          b.CumulativePaidAmount,
			DiscountAmount:      b.CumulativeDiscountAmount,
			FineAmount:          b.CumulativeFineAmount,
			SupplementaryPaid:   b.CumulativeSupplementaryPaidAmount,
			DueAmount:           due,
			State:               b.State(),
			TermDueDate:         b.TermDueDate,
			LastReceiptNumber:   b.LastReceiptNumber,
			LastReceiptDate:     b.LastReceiptDate,
			LastPaymentChannel:  b.LastPaymentChannel,
		})
		if snap.Currency == "" {
			snap.Currency = b.Currency
		}
		snap.TotalFeeAmount += b.TotalFee()
		snap.TotalSupplementaryAmount += b.SupplementaryAmount
		snap.TotalPaidAmount += b.CumulativePaidAmount
		snap.TotalDiscountAmount += b.CumulativeDiscountAmount
		snap.TotalFineAmount += b.CumulativeFineAmount
		snap.TotalSupplementaryPaidAmount += b.CumulativeSupplementaryPaidAmount
		if due <= 0 {
			snap.TermsPaid++
		}
	}

	snap.DueAmount = snap.TotalFeeAmount + snap.TotalFineAmount - snap.Settled()
	snap.TermCount = len(snap.Terms)
	if counter != nil {
		if count, ok := counter.TermCount(student.GradeTier); ok {
			snap.TermCount = count
		}
	}
	snap.Status, snap.StatusRank = Status(snap)
	return snap
}

// Status derives the label and its rank. Rank never decreases as payments
// are added: Not Paid is 0, k terms paid is k, Fully Paid is TermCount+1.
func Status(snap Snapshot) (string, int) {
	settled := snap.Settled()
	switch {
	case len(snap.Terms) == 0:
		return StatusNotPaid, 0
	case snap.DueAmount <= 0 && settled >= snap.TotalFeeAmount:
		return StatusFullyPaid, snap.TermCount + 1
	case settled == 0:
		return StatusNotPaid, 0
	}

	paid := snap.TermsPaid
	if paid > snap.TermCount {
		paid = snap.TermCount
	}
	return TermsPaidLabel(paid), paid
}

func TermsPaidLabel(n int) string {
	if n == 1 {
		return "1 Term Paid"
	}
	return fmt.Sprintf("%d Terms Paid", n)
}
