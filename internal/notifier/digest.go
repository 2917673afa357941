package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mfreitas/tlc_ingest/internal/ingest"
)

// Long failure lists get cut so the digest stays chat-sized.
const maxListedFailures = 10

// Digest renders a run summary as a short human-readable message.
func Digest(dataset string, s *ingest.Summary) string {
	var b strings.Builder

	elapsed := s.FinishedAt.Sub(s.StartedAt).Round(time.Second)

	fmt.Fprintf(&b, "%s ingest run %s: %d fetched, %d skipped, %d failed of %d planned (%s in %s)",
		dataset, shortID(s.RunID), s.Succeeded, s.Skipped, s.Failed, s.Planned,
		humanize.Bytes(uint64(s.BytesFetched)), elapsed)

	if len(s.Failures) > 0 {
		b.WriteString("\nfailed:")

		for i, f := range s.Failures {
			if i == maxListedFailures {
				fmt.Fprintf(&b, "\nand %d more", len(s.Failures)-maxListedFailures)

				break
			}

			fmt.Fprintf(&b, "\n- %s (%s, %d attempts)", f.Descriptor.FileName(), f.Class, f.Attempts)
		}
	}

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
