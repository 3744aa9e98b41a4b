package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/PentesterFlow/OpenClient/internal/metrics"
	"github.com/PentesterFlow/OpenClient/pkg/client"
	"github.com/PentesterFlow/OpenClient/pkg/contract"
)

// printSummary writes a short report of one call.
func printSummary(w io.Writer, m *contract.Method, snap *metrics.Snapshot, elapsed time.Duration, err error) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Method:     %s\n", m)
	fmt.Fprintf(w, "  Duration:   %s\n", formatDuration(elapsed))
	fmt.Fprintf(w, "  Requests:   %s\n", humanize.Comma(snap.RequestsTotal))
	if snap.ErrorsTotal > 0 {
		fmt.Fprintf(w, "  Errors:     %s (%.0f%%)\n", humanize.Comma(snap.ErrorsTotal), snap.ErrorRate()*100)
	}
	if len(snap.StatusCodes) > 0 {
		fmt.Fprintf(w, "  Statuses:   %s\n", formatStatuses(snap.StatusCodes))
	}
	fmt.Fprintf(w, "  Received:   %s\n", humanize.Bytes(uint64(max(snap.BytesTotal, 0))))
	if snap.CacheHits > 0 {
		fmt.Fprintf(w, "  Cache hits: %s\n", humanize.Comma(snap.CacheHits))
	}
	if snap.FallbacksTotal > 0 {
		fmt.Fprintf(w, "  Fallbacks:  %s\n", humanize.Comma(snap.FallbacksTotal))
	}

	remote, isRemote := client.AsRemote(err)
	switch {
	case err == nil:
		fmt.Fprintln(w, "  Outcome:    ok")
	case isRemote:
		fmt.Fprintf(w, "  Outcome:    remote %d %s\n", remote.StatusCode, remote.Reason())
	default:
		fmt.Fprintf(w, "  Outcome:    %s error\n", client.KindOf(err))
	}
	fmt.Fprintln(w)
}

func formatStatuses(codes map[int]int64) string {
	keys := make([]int, 0, len(codes))
	for code := range codes {
		keys = append(keys, code)
	}
	sort.Ints(keys)

	parts := make([]string, len(keys))
	for i, code := range keys {
		parts[i] = strconv.Itoa(code) + "×" + humanize.Comma(codes[code])
	}
	return strings.Join(parts, " ")
}

// formatDuration rounds d for display: milliseconds below a second,
// tenths of a second below a minute.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}
