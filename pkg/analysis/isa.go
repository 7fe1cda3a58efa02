package analysis

import (
	"os"
	"regexp"
	"sort"
	"strconv"
)

var (
	// "_label:" followed by an instruction carrying a "// 0000001C" offset comment.
	labelOffsetRe = regexp.MustCompile(`(?m)^\s*([^:\s]+):\s*.+?//\s*(?:0x)?([0-9A-Fa-f]+)`)

	// v7, s12, v[4:7], s[0:1]
	registerRe = regexp.MustCompile(`\b(s|v)(\d+|\[\d+:\d+\])`)
)

// ExtractLabelOffsets maps each ISA label to the byte offset of the
// instruction following it. A label repeated later in the text wins.
func ExtractLabelOffsets(isa string) map[string]uint64 {
	out := make(map[string]uint64)
	for _, m := range labelOffsetRe.FindAllStringSubmatch(isa, -1) {
		offset, err := strconv.ParseUint(m[2], 16, 64)
		if err != nil {
			continue
		}
		out[m[1]] = offset
	}
	return out
}

// ExtractLabelOffsetsFile reads an ISA file and extracts its label offsets.
func ExtractLabelOffsetsFile(path string) (map[string]uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ExtractLabelOffsets(string(data)), nil
}

// RegisterRef is one scalar or vector register operand.
type RegisterRef struct {
	// Kind is "s" or "v".
	Kind string
	// First and Last are equal for a single register.
	First int
	Last  int
}

// Count returns the number of registers referenced.
func (r RegisterRef) Count() int {
	return r.Last - r.First + 1
}

func (r RegisterRef) String() string {
	if r.First == r.Last {
		return r.Kind + strconv.Itoa(r.First)
	}
	return r.Kind + "[" + strconv.Itoa(r.First) + ":" + strconv.Itoa(r.Last) + "]"
}

// RegisterRefs returns the register operands in line, in order.
func RegisterRefs(line string) []RegisterRef {
	matches := registerRe.FindAllStringSubmatch(line, -1)
	out := make([]RegisterRef, 0, len(matches))
	for _, m := range matches {
		ref := RegisterRef{Kind: m[1]}
		body := m[2]
		if body[0] == '[' {
			var lo, hi int
			var ok bool
			if lo, hi, ok = parseRange(body); !ok {
				continue
			}
			ref.First, ref.Last = lo, hi
		} else {
			n, err := strconv.Atoi(body)
			if err != nil {
				continue
			}
			ref.First, ref.Last = n, n
		}
		out = append(out, ref)
	}
	return out
}

func parseRange(body string) (int, int, bool) {
	inner := body[1 : len(body)-1]
	for i := 0; i < len(inner); i++ {
		if inner[i] != ':' {
			continue
		}
		lo, err1 := strconv.Atoi(inner[:i])
		hi, err2 := strconv.Atoi(inner[i+1:])
		if err1 != nil || err2 != nil || hi < lo {
			return 0, 0, false
		}
		return lo, hi, true
	}
	return 0, 0, false
}

// RegisterUsage is the highest register index touched per kind, plus one.
type RegisterUsage struct {
	SGPRs int `json:"sgprs" yaml:"sgprs"`
	VGPRs int `json:"vgprs" yaml:"vgprs"`
}

// CountRegisters scans ISA text and returns the register span per kind.
func CountRegisters(isa string) RegisterUsage {
	var u RegisterUsage
	for _, ref := range RegisterRefs(isa) {
		switch ref.Kind {
		case "s":
			u.SGPRs = max(u.SGPRs, ref.Last+1)
		case "v":
			u.VGPRs = max(u.VGPRs, ref.Last+1)
		}
	}
	return u
}

// SortedLabels returns the labels of offsets ordered by offset.
func SortedLabels(offsets map[string]uint64) []string {
	labels := make([]string, 0, len(offsets))
	for label := range offsets {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if offsets[labels[i]] != offsets[labels[j]] {
			return offsets[labels[i]] < offsets[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}
