// Package blocklist parses the device blocklist file (spec.md 6): a text
// file naming USB output devices that must never be opened, keyed by
// vendor id, product id, a cksum of the device's descriptors, and device
// index.
package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Key identifies one USB output device the same way the blocklist file
// does: lowercase hex vendor/product ids, an 8-hex-digit checksum of the
// device's USB descriptors sysfs file, and a decimal device index.
type Key struct {
	VendorID    uint32
	ProductID   uint32
	Checksum    uint32
	DeviceIndex int
}

// List is a parsed blocklist. The zero value is an empty blocklist, so a
// missing file produces a usable, always-false List (spec.md 6: "Missing
// file = empty blocklist").
type List struct {
	entries map[Key]bool
}

var entryLine = regexp.MustCompile(`^([0-9a-fA-F]+)_([0-9a-fA-F]+)_([0-9a-fA-F]{8})_(\d+)\s*=\s*1\s*$`)

// Load reads the blocklist file at path. A missing file is not an error: it
// yields an empty List.
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &List{}, nil
		}
		return nil, fmt.Errorf("open blocklist %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a blocklist from r. Only the [USB_Outputs] section is
// recognized; keys outside any section, or inside any other section, are
// ignored.
func Parse(r io.Reader) (*List, error) {
	l := &List{entries: make(map[Key]bool)}

	inUSBOutputs := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inUSBOutputs = strings.TrimSpace(line[1:len(line)-1]) == "USB_Outputs"
			continue
		}
		if !inUSBOutputs {
			continue
		}

		m := entryLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		vendor, err := strconv.ParseUint(m[1], 16, 32)
		if err != nil {
			continue
		}
		product, err := strconv.ParseUint(m[2], 16, 32)
		if err != nil {
			continue
		}
		checksum, err := strconv.ParseUint(m[3], 16, 32)
		if err != nil {
			continue
		}
		index, err := strconv.Atoi(m[4])
		if err != nil {
			continue
		}
		l.entries[Key{VendorID: uint32(vendor), ProductID: uint32(product), Checksum: uint32(checksum), DeviceIndex: index}] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan blocklist: %w", err)
	}
	return l, nil
}

// Check reports whether the given device is blocklisted. It depends only
// on the parsed entries (spec.md 8: "Blocklist check is symmetric and
// pure").
func (l *List) Check(vendorID, productID, checksum uint32, deviceIndex int) bool {
	if l == nil {
		return false
	}
	return l.entries[Key{VendorID: vendorID, ProductID: productID, Checksum: checksum, DeviceIndex: deviceIndex}]
}
