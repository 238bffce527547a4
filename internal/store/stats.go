package store

// Stats holds operation counts since the store was opened.
type Stats struct {
	Reads   uint64
	Writes  uint64
	Merges  uint64
	Commits uint64
	Scans   uint64
}

// Stats returns a snapshot of the operation counters.
func (s *DB) Stats() Stats {
	return Stats{
		Reads:   s.stats.reads.Load(),
		Writes:  s.stats.writes.Load(),
		Merges:  s.stats.merges.Load(),
		Commits: s.stats.commits.Load(),
		Scans:   s.stats.scans.Load(),
	}
}
