package ledger

import "sort"

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Count != records[j].Count {
			return records[i].Count > records[j].Count
		}
		return records[i].LastViolationAt.After(records[j].LastViolationAt)
	})
}
