// Package corpus describes the NYC TLC trip-record corpus: which monthly
// snapshot files exist, how they are named, and how a run enumerates them.
package corpus

import (
	"fmt"
	"strings"
)

// Service is a TLC trip-record service class. Each service publishes one
// parquet snapshot per calendar month.
type Service string

const (
	ServiceYellow Service = "yellow"
	ServiceGreen  Service = "green"
	ServiceFHV    Service = "fhv"
	ServiceFHVHV  Service = "fhvhv"
)

// FirstYear is the first year the TLC published trip records.
const FirstYear = 2009

// SnapshotExt is the extension of every snapshot in the corpus.
const SnapshotExt = ".parquet"

// Services returns the known service classes in canonical order.
func Services() []Service {
	return []Service{ServiceYellow, ServiceGreen, ServiceFHV, ServiceFHVHV}
}

// ParseService maps a name to a known service class, tolerating case and
// surrounding whitespace.
func ParseService(name string) (Service, error) {
	s := Service(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Services() {
		if s == known {
			return s, nil
		}
	}

	return "", fmt.Errorf("unknown service %q (known: yellow, green, fhv, fhvhv)", name)
}

// Descriptor identifies one monthly snapshot of the corpus.
type Descriptor struct {
	Service Service `json:"service"`
	Year    int     `json:"year"`
	Month   int     `json:"month"`
}

// Validate reports the first structural problem with the descriptor.
func (d Descriptor) Validate() error {
	if _, err := ParseService(string(d.Service)); err != nil {
		return err
	}
	if d.Year < FirstYear {
		return fmt.Errorf("year %d predates the corpus (first year is %d)", d.Year, FirstYear)
	}
	if d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("month %d out of range 1-12", d.Month)
	}

	return nil
}

// FileName returns the snapshot's canonical file name, e.g.
// yellow_tripdata_2023-01.parquet. Year and month are zero-padded, which
// keeps the mapping injective: no two valid descriptors share a name.
func (d Descriptor) FileName() string {
	return fmt.Sprintf("%s_tripdata_%04d-%02d%s", d.Service, d.Year, d.Month, SnapshotExt)
}

// RemoteURL composes the snapshot's URL under the given base. A trailing
// slash on the base is tolerated.
func (d Descriptor) RemoteURL(base string) string {
	return strings.TrimRight(base, "/") + "/" + d.FileName()
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s %04d-%02d", d.Service, d.Year, d.Month)
}
