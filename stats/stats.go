// Package stats holds the reliable-engine's protocol counters and an
// optional periodic CSV dump of them, grounded on kcptun/std/snmp.go's
// SnmpLogger (timestamped CSV rows written on a ticker, header written
// once per file).
package stats

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Counters tracks the engine's protocol-level activity. It is not safe
// for concurrent use — like the engine itself, it is only ever touched
// from the single thread driving writes/reads (spec.md §5).
type Counters struct {
	FramesSent             uint64
	FramesResent           uint64
	AcksSent               uint64
	AcksReceived           uint64
	ResendRequestsSent     uint64
	ResendRequestsReceived uint64
	ShortFramesDropped     uint64
	DuplicateFramesDropped uint64
	WrapEvents             uint64
}

func (c Counters) header() []string {
	return []string{
		"FramesSent", "FramesResent", "AcksSent", "AcksReceived",
		"ResendRequestsSent", "ResendRequestsReceived",
		"ShortFramesDropped", "DuplicateFramesDropped", "WrapEvents",
	}
}

func (c Counters) row() []string {
	return []string{
		fmt.Sprint(c.FramesSent), fmt.Sprint(c.FramesResent),
		fmt.Sprint(c.AcksSent), fmt.Sprint(c.AcksReceived),
		fmt.Sprint(c.ResendRequestsSent), fmt.Sprint(c.ResendRequestsReceived),
		fmt.Sprint(c.ShortFramesDropped), fmt.Sprint(c.DuplicateFramesDropped),
		fmt.Sprint(c.WrapEvents),
	}
}

// Logger periodically appends a CSV row of Counters snapshots to path,
// the way kcptun's SnmpLogger periodically dumps kcp.DefaultSnmp.
func Logger(path string, interval time.Duration, snapshot func() Counters) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		logdir, logfile := filepath.Split(path)
		f, err := os.OpenFile(filepath.Join(logdir, time.Now().Format(logfile)), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Println("stats:", err)
			return
		}
		c := snapshot()
		w := csv.NewWriter(f)
		if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
			if err := w.Write(append([]string{"Unix"}, c.header()...)); err != nil {
				log.Println("stats:", err)
			}
		}
		if err := w.Write(append([]string{fmt.Sprint(time.Now().Unix())}, c.row()...)); err != nil {
			log.Println("stats:", err)
		}
		w.Flush()
		f.Close()
	}
}
