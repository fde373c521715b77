package sink

import (
	"fmt"
	"net/netip"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/netprobe/ipcounterd/common/go/xnetip"
)

// IPRange is one flattened, sorted CIDR entry from the optional IP ranges
// file. NodeID, when set, restricts the range to counters produced by that
// node; nil matches every node.
type IPRange struct {
	Begin  netip.Addr
	End    netip.Addr
	NodeID *int
}

// rangesFile is the YAML schema authored by operators: a list of CIDRs,
// each optionally scoped to one node.
type rangesFile struct {
	Ranges []struct {
		CIDR   string `yaml:"cidr"`
		NodeID *int   `yaml:"node_id,omitempty"`
	} `yaml:"ranges"`
}

// LoadRanges reads and expands a YAML-authored ranges file into a sorted
// slice of IPRange, ready for RangeFilter.
func LoadRanges(path string) ([]IPRange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ip ranges file: %w", err)
	}

	var doc rangesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ip ranges file: %w", err)
	}

	ranges := make([]IPRange, 0, len(doc.Ranges))
	for _, r := range doc.Ranges {
		prefix, err := netip.ParsePrefix(r.CIDR)
		if err != nil {
			return nil, fmt.Errorf("invalid cidr %q: %w", r.CIDR, err)
		}
		prefix = prefix.Masked()

		ranges = append(ranges, IPRange{
			Begin:  prefix.Addr(),
			End:    xnetip.LastAddr(prefix),
			NodeID: r.NodeID,
		})
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Begin.Compare(ranges[j].Begin) < 0
	})

	return ranges, nil
}

// RangeFilter answers membership queries against a sorted, non-overlapping
// set of IP ranges. An empty filter allows everything: the feature is only
// active when ip_ranges_file is configured.
type RangeFilter struct {
	ranges []IPRange
}

// NewRangeFilter builds a filter over ranges, which must already be sorted
// by Begin (LoadRanges returns them that way).
func NewRangeFilter(ranges []IPRange) *RangeFilter {
	return &RangeFilter{ranges: ranges}
}

// Allowed reports whether addr, attributed to nodeID, passes the filter.
func (f *RangeFilter) Allowed(addr netip.Addr, nodeID int) bool {
	if f == nil || len(f.ranges) == 0 {
		return true
	}

	// First range whose End is >= addr: the only candidate that could
	// contain addr, since ranges are sorted and assumed non-overlapping.
	idx := sort.Search(len(f.ranges), func(i int) bool {
		return f.ranges[i].End.Compare(addr) >= 0
	})
	if idx == len(f.ranges) {
		return false
	}

	r := f.ranges[idx]
	if addr.Compare(r.Begin) < 0 || addr.Compare(r.End) > 0 {
		return false
	}
	return r.NodeID == nil || *r.NodeID == nodeID
}
