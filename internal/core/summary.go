package core

// BucketCounts is the per-bucket tally shown above the queue.
type BucketCounts struct {
	All        int `json:"all"`
	Matched    int `json:"matched"`
	Unmatched  int `json:"unmatched"`
	Exceptions int `json:"exceptions"`
}

// Add tallies one receipt.
func (c *BucketCounts) Add(r Receipt) {
	c.All++
	switch Classify(r) {
	case BucketExceptions:
		c.Exceptions++
	case BucketMatched:
		c.Matched++
	default:
		c.Unmatched++
	}
}

// CountBuckets tallies a slice of receipts.
func CountBuckets(rs []Receipt) BucketCounts {
	var c BucketCounts
	for _, r := range rs {
		c.Add(r)
	}
	return c
}
