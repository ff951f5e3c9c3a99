package audit

import "iter"

// Collect drains a query sequence into a slice, stopping at the first error.
func Collect(seq iter.Seq2[*Record, error]) ([]*Record, error) {
	records := []*Record{}
	for r, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
