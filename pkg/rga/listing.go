package rga

import (
	"regexp"
	"strings"
)

// targetBlock matches one target in rga's --list-asics output: a target id at
// column zero, an optional family label on the same line, then one or more
// indented product lines.
var targetBlock = regexp.MustCompile(
	`(?m)^(?P<target>[A-Za-z0-9_]+)(?:[ \t]+(?P<family>[^\n]*))?\n(?P<products>(?:[ \t]+[^\n]+\n?)+)`,
)

// ParseTargetListing extracts the targets from rga's free-text listing. The
// format is unversioned; lines that do not fit the pattern are skipped.
// Returned entries are offline: Name equals Target and Online is false.
func ParseTargetListing(text string) []DeviceCapability {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var (
		targetIdx   = targetBlock.SubexpIndex("target")
		familyIdx   = targetBlock.SubexpIndex("family")
		productsIdx = targetBlock.SubexpIndex("products")
	)

	out := make([]DeviceCapability, 0)
	for _, m := range targetBlock.FindAllStringSubmatch(text, -1) {
		target := strings.TrimSpace(m[targetIdx])
		if target == "" {
			continue
		}
		products := make([]string, 0)
		for _, line := range strings.Split(m[productsIdx], "\n") {
			if line = strings.TrimSpace(line); line != "" {
				products = append(products, line)
			}
		}
		out = append(out, DeviceCapability{
			Name:     target,
			Target:   target,
			Family:   strings.TrimSpace(m[familyIdx]),
			Products: products,
		})
	}
	return out
}
