package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports pebble engine metrics and store operation counts.
type Collector struct {
	db *DB

	compactionCount  *prometheus.Desc
	compactionDebt   *prometheus.Desc
	compactionActive *prometheus.Desc
	memtableSize     *prometheus.Desc
	memtableCount    *prometheus.Desc
	walFiles         *prometheus.Desc
	walSize          *prometheus.Desc
	walBytesWritten  *prometheus.Desc
	ops              *prometheus.Desc
}

func NewCollector(db *DB) *Collector {
	return &Collector{
		db: db,

		compactionCount: prometheus.NewDesc(
			"personal_store_compaction_count_total",
			"Total number of compactions performed",
			nil, nil,
		),
		compactionDebt: prometheus.NewDesc(
			"personal_store_compaction_estimated_debt_bytes",
			"Estimated number of bytes that need to be compacted to reach a stable state",
			nil, nil,
		),
		compactionActive: prometheus.NewDesc(
			"personal_store_compaction_in_progress_bytes",
			"Number of bytes being compacted currently",
			nil, nil,
		),
		memtableSize: prometheus.NewDesc(
			"personal_store_memtable_size_bytes",
			"Current size of the memtable in bytes",
			nil, nil,
		),
		memtableCount: prometheus.NewDesc(
			"personal_store_memtable_count",
			"Current count of memtables",
			nil, nil,
		),
		walFiles: prometheus.NewDesc(
			"personal_store_wal_files",
			"Number of live WAL files",
			nil, nil,
		),
		walSize: prometheus.NewDesc(
			"personal_store_wal_size_bytes",
			"Size of live WAL data in bytes",
			nil, nil,
		),
		walBytesWritten: prometheus.NewDesc(
			"personal_store_wal_bytes_written_total",
			"Total physical bytes written to the WAL",
			nil, nil,
		),
		ops: prometheus.NewDesc(
			"personal_store_operations_total",
			"Store operations by kind",
			[]string{"op"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.compactionCount
	ch <- c.compactionDebt
	ch <- c.compactionActive
	ch <- c.memtableSize
	ch <- c.memtableCount
	ch <- c.walFiles
	ch <- c.walSize
	ch <- c.walBytesWritten
	ch <- c.ops
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.db.Metrics()
	if m == nil {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.compactionCount, prometheus.CounterValue, float64(m.Compact.Count))
	ch <- prometheus.MustNewConstMetric(c.compactionDebt, prometheus.GaugeValue, float64(m.Compact.EstimatedDebt))
	ch <- prometheus.MustNewConstMetric(c.compactionActive, prometheus.GaugeValue, float64(m.Compact.InProgressBytes))
	ch <- prometheus.MustNewConstMetric(c.memtableSize, prometheus.GaugeValue, float64(m.MemTable.Size))
	ch <- prometheus.MustNewConstMetric(c.memtableCount, prometheus.GaugeValue, float64(m.MemTable.Count))
	ch <- prometheus.MustNewConstMetric(c.walFiles, prometheus.GaugeValue, float64(m.WAL.Files))
	ch <- prometheus.MustNewConstMetric(c.walSize, prometheus.GaugeValue, float64(m.WAL.Size))
	ch <- prometheus.MustNewConstMetric(c.walBytesWritten, prometheus.CounterValue, float64(m.WAL.BytesWritten))

	st := c.db.Stats()
	for op, v := range map[string]uint64{
		"read":   st.Reads,
		"write":  st.Writes,
		"merge":  st.Merges,
		"commit": st.Commits,
		"scan":   st.Scans,
	} {
		ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(v), op)
	}
}
